package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamim/classforge/internal/checkpoint"
	"github.com/lamim/classforge/internal/writer"
	"github.com/lamim/classforge/pkg/models"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
		Long:  "List and inspect the session directories written by generate and serve",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all stored sessions",
		Args:  cobra.NoArgs,
		RunE:  listSessions,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Inspect a session snapshot",
		Long:  "Display the last saved run of a session, its balance and statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}

	sessionCmd.AddCommand(listCmd, inspectCmd)
	return sessionCmd
}

func listSessions(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewConsoleLogger(os.Stderr, logLevel())

	sessions, err := checkpoint.ListSessions(cfg.Output.Dir, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintf(out, "No sessions found in %s. Run a generation first.\n", cfg.Output.Dir)
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		materials := "-"
		if s.Requested > 0 {
			materials = fmt.Sprintf("%d/%d (%.0f%%)", s.Materials, s.Requested, s.MaterialProgress())
		}
		rows = append(rows, []string{
			s.Name,
			string(s.Stage),
			string(s.LastArtifact),
			truncate(s.Topic, 40),
			materials,
			s.LastSavedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Session", "Stage", "Last artifact", "Topic", "Materials", "Saved"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintln(out, "\nTo inspect: classforge session inspect <session-dir>")
	return nil
}

func inspectSession(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewConsoleLogger(os.Stderr, logLevel())

	name := filepath.Base(args[0])
	dir, err := writer.ResolveSessionDir(cfg.Output.Dir, name)
	if err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	snap, err := checkpoint.Load(dir, logger)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	run := snap.Run
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Session:    %s\n", name)
	fmt.Fprintf(out, "Session ID: %s\n", snap.SessionID)
	fmt.Fprintf(out, "Created:    %s\n", snap.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Saved:      %s\n", snap.LastSavedAt.Local().Format(time.DateTime))
	if err := checkpoint.ValidateSnapshot(snap, cfg); err != nil {
		fmt.Fprintf(out, "Config:     changed since this session (%v)\n", err)
	} else {
		fmt.Fprintln(out, "Config:     unchanged")
	}
	if snap.Identity != "" && snap.Balance >= 0 {
		fmt.Fprintf(out, "Credits:    %s has %d\n", snap.Identity, snap.Balance)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run:        %s (epoch %d)\n", run.ID, run.Epoch)
	fmt.Fprintf(out, "Stage:      %s (last artifact: %s)\n", run.Stage, run.LastArtifact)
	if run.Basis.HasVideo() {
		fmt.Fprintf(out, "Video:      %s\n", run.Basis.VideoURL)
	}
	if run.Basis.HasTopic() {
		fmt.Fprintf(out, "Topic:      %s\n", truncate(run.Basis.TopicOrDetails, 80))
	}
	fmt.Fprintf(out, "Complexity: %d\n", run.Basis.Complexity)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", run.Error)
	}

	rows := make([][]string, 0, len(models.AllMaterialKinds))
	for _, kind := range models.AllMaterialKinds {
		res := run.Result(kind)
		rows = append(rows, []string{string(kind), string(res.Status), truncate(res.Error, 50)})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Material", "Status", "Error"}, rows, nil))

	stats := snap.Stats
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Runs", "Edits", "Refinements", "Failures", "Materials failed", "Provider calls", "Credits debited"},
		[][]string{{
			strconv.Itoa(stats.Runs),
			strconv.Itoa(stats.Edits),
			strconv.Itoa(stats.Refinements),
			strconv.Itoa(stats.Failures),
			strconv.Itoa(stats.MaterialsFailed),
			strconv.Itoa(stats.ProviderCalls),
			strconv.Itoa(stats.CreditsDebited),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}
