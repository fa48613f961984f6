package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lamim/classforge/internal/api"
	"github.com/lamim/classforge/internal/checkpoint"
	"github.com/lamim/classforge/internal/config"
	"github.com/lamim/classforge/internal/credits"
	"github.com/lamim/classforge/internal/generation"
	"github.com/lamim/classforge/internal/metrics"
	"github.com/lamim/classforge/internal/orchestrator"
	"github.com/lamim/classforge/internal/writer"
)

// runtime bundles everything a generating command needs
type runtime struct {
	cfg           *config.Config
	logger        *slog.Logger
	logFile       *os.File
	session       *writer.SessionManager
	interactions  *writer.InteractionLog
	ledger        credits.Ledger
	account       *credits.Account
	checkpointMgr *checkpoint.Manager
	orch          *orchestrator.Orchestrator
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadConfig loads the env file and the configuration
func loadConfig() (*config.Config, *config.Secrets, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if verbose {
		for provider, key := range secrets.APIKeys {
			if key != "" {
				fmt.Fprintf(os.Stderr, "Loaded API key for: %s (length: %d)\n", provider, len(key))
			}
		}
	}
	return cfg, secrets, nil
}

// openAccount opens the configured ledger and wraps it in an account
func openAccount(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (*credits.Account, credits.Ledger, error) {
	var ledger credits.Ledger
	if cfg.Credits.LedgerPath != "" {
		sqliteLedger, err := credits.OpenSQLiteLedger(cfg.Credits.LedgerPath, cfg.Credits.StartingBalance)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credit ledger: %w", err)
		}
		logger.Debug("Opened credit ledger", "path", sqliteLedger.Path())
		ledger = sqliteLedger
	} else {
		ledger = credits.NewMemoryLedger(cfg.Credits.StartingBalance)
	}

	account := credits.NewAccount(
		credits.GateConfig{Enabled: cfg.Credits.Enabled},
		credits.DefaultSchedule().WithEditCost(cfg.Credits.EditCost),
		ledger,
		cfg.Credits.Identity,
		collector,
		logger,
	)
	return account, ledger, nil
}

// newRuntime creates a session directory, or reopens resumeSession, and
// wires the generation stack
func newRuntime(resumeSession string) (*runtime, error) {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return nil, err
	}

	sessionMgr, err := writer.NewSessionManager(cfg.Output.Dir, slog.Default(), resumeSession)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel())
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, logFile: logFile, session: sessionMgr}

	logger.Info("ClassForge starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionMgr.GetSessionDir())

	if err := sessionMgr.BackupConfig(configPath); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to backup config: %w", err)
	}

	apiClient := api.NewClient(logger)
	if len(cfg.ProviderRateLimits) > 0 {
		apiClient.SetProviderRateLimits(cfg.ProviderRateLimits, cfg.ProviderBurstPercent)
		logger.Info("Provider rate limits configured", "providers", cfg.ProviderRateLimits, "burst_percent", cfg.ProviderBurstPercent)
	}

	collector := metrics.NewCollector(logger)

	rt.interactions, err = writer.NewInteractionLog(sessionMgr, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to open interaction log: %w", err)
	}

	rt.account, rt.ledger, err = openAccount(cfg, collector, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	adapter := generation.NewAdapter(apiClient, cfg, secrets, rt.interactions, collector, logger)

	if resumeSession == "" {
		rt.checkpointMgr = checkpoint.NewManager(sessionMgr.GetSessionDir(), cfg, logger)
		rt.orch = orchestrator.New(cfg, adapter, rt.account, rt.checkpointMgr, collector, logger)
		return rt, nil
	}

	snap, err := checkpoint.Load(sessionMgr.GetSessionDir(), logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}
	if err := checkpoint.ValidateSnapshot(snap, cfg); err != nil {
		rt.close()
		return nil, fmt.Errorf("snapshot validation failed: %w", err)
	}
	rt.checkpointMgr = checkpoint.NewManagerFromSnapshot(sessionMgr.GetSessionDir(), snap, logger)
	rt.orch = orchestrator.New(cfg, adapter, rt.account, rt.checkpointMgr, collector, logger)

	run, err := rt.orch.Restore(snap.Run)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to restore run: %w", err)
	}
	logger.Info("Resumed session",
		"session_id", snap.SessionID,
		"run_id", run.ID,
		"stage", run.Stage,
		"last_artifact", run.LastArtifact,
		"runs", snap.Stats.Runs)
	return rt, nil
}

// close shuts components down in reverse order of creation
func (rt *runtime) close() {
	if rt.orch != nil {
		rt.orch.Close()
	}
	if rt.checkpointMgr != nil {
		if err := rt.checkpointMgr.Close(); err != nil {
			rt.logger.Error("Failed to close checkpoint manager", "error", err)
		}
	}
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			rt.logger.Error("Failed to close credit ledger", "error", err)
		}
	}
	if rt.interactions != nil {
		if err := rt.interactions.Close(); err != nil {
			rt.logger.Error("Failed to close interaction log", "error", err)
		}
	}
	if rt.logFile != nil {
		_ = rt.logFile.Sync()
		_ = rt.logFile.Close()
	}
}
