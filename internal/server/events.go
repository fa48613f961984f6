package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents serves orchestrator events as server-sent events. The first
// frame is a snapshot of the live run.
func (s *Server) streamEvents(c *gin.Context) {
	events, unsubscribe := s.orch.Subscribe(s.cfg.EventBuffer)
	defer unsubscribe()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", s.orch.Snapshot()); err != nil {
		s.logger.Warn("Failed to write SSE snapshot", "error", err)
		return
	}
	w.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	s.logger.Debug("SSE client connected", "remote", c.ClientIP())
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", "remote", c.ClientIP())
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(ev.Type), ev); err != nil {
				s.logger.Warn("Failed to write SSE event", "type", ev.Type, "error", err)
				continue
			}
			w.Flush()
		}
	}
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
