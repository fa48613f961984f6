package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/lamim/classforge/internal/server"
)

var (
	serveAddr   string
	serveResume string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation pipeline over HTTP",
		Long: `Start the HTTP API. Runs are submitted, edited and refined through
/api, progress is streamed from /api/events and Prometheus metrics are
exposed on /metrics. With --resume, the last run of a stored session is
restored and the session directory is reused.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&serveResume, "resume", "", "Resume a stored session (e.g. session_2025-10-30T14-30-00)")
	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	rt, err := newRuntime(serveResume)
	if err != nil {
		return err
	}
	defer rt.close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := rt.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(server.Config{Addr: addr, EventBuffer: rt.cfg.Server.EventBuffer}, rt.orch, rt.account, rt.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	rt.logger.Info("Server stopped", "session_dir", rt.session.GetSessionDir())
	return nil
}
