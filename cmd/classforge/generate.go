package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/orchestrator"
	"github.com/lamim/classforge/internal/writer"
	"github.com/lamim/classforge/pkg/models"
)

const (
	cliEventBuffer = 4096
	pollInterval   = 500 * time.Millisecond
)

var (
	genTopic      string
	genVideo      string
	genComplexity int
	genLesson     bool
	genHandout    bool
	genQuiz       bool
	genAll        bool
	genRefine     string
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a learning app and materials",
		Long: `Run one generation to completion:
1. Stream a specification from the topic or video
2. Generate the single-file HTML app from the specification
3. Optional: Generate a lesson plan, handout and quiz
4. Optional: Refine the specification and regenerate

Artifacts are written to the session's artifacts directory.`,
		RunE: runGenerate,
	}

	cmd.Flags().StringVarP(&genTopic, "topic", "t", "", "Topic or lesson details")
	cmd.Flags().StringVar(&genVideo, "video", "", "Video URL to base the content on")
	cmd.Flags().IntVarP(&genComplexity, "complexity", "c", 0, "Complexity level: 1 simple, 2 standard, 3 advanced (default standard)")
	cmd.Flags().BoolVar(&genLesson, "lesson-plan", false, "Generate a lesson plan")
	cmd.Flags().BoolVar(&genHandout, "handout", false, "Generate a student handout")
	cmd.Flags().BoolVar(&genQuiz, "quiz", false, "Generate a multiple-choice quiz")
	cmd.Flags().BoolVar(&genAll, "all-materials", false, "Generate every material")
	cmd.Flags().StringVar(&genRefine, "refine", "", "Refinement instructions applied once the run is ready")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	rt, err := newRuntime("")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	basis := models.ContentBasis{VideoURL: genVideo, TopicOrDetails: genTopic, Complexity: genComplexity}
	request := models.MaterialRequest{LessonPlan: genLesson || genAll, Handout: genHandout || genAll, Quiz: genQuiz || genAll}

	events, unsubscribe := rt.orch.Subscribe(cliEventBuffer)
	defer unsubscribe()

	run, err := rt.orch.Submit(ctx, basis, request)
	if err != nil {
		return describeGateError("generation", err)
	}
	rt.logger.Info("Run submitted", "run_id", run.ID, "complexity", run.Basis.Complexity, "materials", len(request.Kinds()))

	stage, err := waitForRun(ctx, rt.orch, events, run.Epoch, newProgress(cmd.OutOrStdout(), len(request.Kinds()), "Generating"), rt.logger)
	if err != nil {
		return interrupted(rt, err)
	}

	if genRefine != "" && stage == models.StageReady {
		run, err = rt.orch.Refine(ctx, genRefine)
		if err != nil {
			return describeGateError("refinement", err)
		}
		stage, err = waitForRun(ctx, rt.orch, events, run.Epoch, newProgress(cmd.OutOrStdout(), len(request.Kinds()), "Refining"), rt.logger)
		if err != nil {
			return interrupted(rt, err)
		}
	}

	final := rt.orch.Snapshot()
	artifacts, err := writer.NewArtifactWriter(rt.session.GetArtifactsDir(), rt.logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact writer: %w", err)
	}
	files, err := artifacts.WriteRun(final)
	if err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}

	balance, err := rt.account.Balance(ctx)
	if err != nil {
		rt.logger.Warn("Failed to read balance", "error", err)
	}
	printRunSummary(cmd.OutOrStdout(), final, files, rt.account.Enabled(), balance)

	rt.logger.Info("Generation finished",
		"stage", final.Stage,
		"last_artifact", final.LastArtifact,
		"interactions", rt.interactions.Count(),
		"session_dir", rt.session.GetSessionDir())

	if stage == models.StageError {
		return fmt.Errorf("generation failed: %s", final.Error)
	}
	return nil
}

// waitForRun follows events for epoch until the run reaches a terminal stage.
// Events may be dropped under load, so the snapshot is polled as well.
func waitForRun(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
	events <-chan orchestrator.Event,
	epoch uint64,
	progress *progressReporter,
	logger *slog.Logger,
) (models.Stage, error) {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	defer progress.finish()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-poll.C:
			run := orch.Snapshot()
			if run.Epoch == epoch && run.Stage.Terminal() {
				return run.Stage, nil
			}
		case ev, ok := <-events:
			if !ok {
				return "", orchestrator.ErrClosed
			}
			if ev.Epoch != epoch {
				continue
			}
			progress.observe(ev, logger)
			if ev.Type == orchestrator.EventStageChanged && ev.Stage.Terminal() {
				return ev.Stage, nil
			}
		}
	}
}

func interrupted(rt *runtime, err error) error {
	if errors.Is(err, context.Canceled) {
		rt.logger.Warn("Generation interrupted", "session_dir", filepath.Base(rt.session.GetSessionDir()))
		return fmt.Errorf("generation interrupted")
	}
	return fmt.Errorf("generation failed: %w", err)
}

func describeGateError(what string, err error) error {
	var insufficient *credits.InsufficientCreditError
	if errors.As(err, &insufficient) {
		return fmt.Errorf("%s needs %d credits but the balance is %d (top up with `classforge credits topup`)",
			what, insufficient.Required, insufficient.Balance)
	}
	return fmt.Errorf("%s rejected: %w", what, err)
}

// progressReporter renders run progress as a bar on a terminal and as log
// lines otherwise
type progressReporter struct {
	bar *progressbar.ProgressBar
}

func newProgress(w io.Writer, materials int, description string) *progressReporter {
	if !isTerminal(w) {
		return &progressReporter{}
	}
	// spec, code, then one step per material
	return &progressReporter{bar: progressbar.Default(int64(2+materials), description)}
}

func (p *progressReporter) observe(ev orchestrator.Event, logger *slog.Logger) {
	switch ev.Type {
	case orchestrator.EventStageChanged:
		if p.bar != nil {
			p.bar.Describe(string(ev.Stage))
		}
		logger.Debug("Stage changed", "stage", ev.Stage, "last_artifact", ev.LastArtifact)
	case orchestrator.EventSpecReady, orchestrator.EventCodeReady:
		p.step()
	case orchestrator.EventMaterialReady:
		p.step()
		if ev.Material != nil && ev.Material.Status == models.MaterialFailed {
			logger.Warn("Material failed", "kind", ev.Material.Kind, "error", ev.Material.Error)
		}
	case orchestrator.EventError:
		logger.Error("Run failed", "error", ev.Error, "last_artifact", ev.LastArtifact)
	}
}

func (p *progressReporter) step() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *progressReporter) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func printRunSummary(w io.Writer, run models.GenerationRun, files []string, creditsEnabled bool, balance int) {
	rows := [][]string{
		{"specification", artifactStatus(run.Spec != ""), strconv.Itoa(len(run.Spec))},
		{"app", artifactStatus(run.Code != ""), strconv.Itoa(len(run.Code))},
	}
	for _, kind := range models.AllMaterialKinds {
		res := run.Result(kind)
		size := ""
		switch {
		case res.Kind == models.MaterialQuiz && len(res.Quiz) > 0:
			size = fmt.Sprintf("%d questions", len(res.Quiz))
		case res.Text != "":
			size = strconv.Itoa(len(res.Text))
		case res.Error != "":
			size = truncate(res.Error, 40)
		}
		rows = append(rows, []string{string(kind), string(res.Status), size})
	}

	fmt.Fprintf(w, "Run %s: %s (last artifact: %s)\n", run.ID, run.Stage, run.LastArtifact)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(w, renderTable([]string{"Artifact", "Status", "Size"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	for _, f := range files {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
	if creditsEnabled {
		fmt.Fprintf(w, "Credits remaining: %d\n", balance)
	}
}

func artifactStatus(present bool) string {
	if present {
		return string(models.MaterialReady)
	}
	return "missing"
}
