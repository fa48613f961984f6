package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated configuration from TOML bytes
func Parse(data []byte) (*Config, *Secrets, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, fmt.Errorf("input validation failed: %w", err)
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Apply defaults for each model
	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.75
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 16384
		}
		if model.ContextSize == 0 {
			model.ContextSize = 131072
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		if model.MaxBackoffSeconds == 0 {
			model.MaxBackoffSeconds = 120
		}
		// Generation calls are long; a spec stream can run for minutes
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 300
		}
		if model.StreamIdleTimeoutSeconds == 0 {
			model.StreamIdleTimeoutSeconds = 60
		}
		cfg.Models[name] = model
	}

	if cfg.Credits.StartingBalance == 0 {
		cfg.Credits.StartingBalance = 200
	}
	if cfg.Credits.Identity == "" {
		cfg.Credits.Identity = "anonymous"
	}
	if cfg.Credits.EditCost == 0 {
		cfg.Credits.EditCost = 25
	}

	if cfg.Editing.CountdownTicks == 0 {
		cfg.Editing.CountdownTicks = 20
	}
	if cfg.Editing.TickIntervalMs == 0 {
		cfg.Editing.TickIntervalMs = 1000
	}

	if len(cfg.Safety) == 0 {
		cfg.Safety = DefaultSafetySettings()
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.EventBuffer == 0 {
		cfg.Server.EventBuffer = 64
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}

	// Apply default templates if not provided
	pt := &cfg.PromptTemplates
	if pt.SpecFromVideo == "" {
		pt.SpecFromVideo = GetDefaultSpecFromVideoTemplate()
	}
	if pt.SpecFromTopic == "" {
		pt.SpecFromTopic = GetDefaultSpecFromTopicTemplate()
	}
	if pt.SpecAddendum == "" {
		pt.SpecAddendum = GetDefaultSpecAddendum()
	}
	if pt.RefineSpec == "" {
		pt.RefineSpec = GetDefaultRefineTemplate()
	}
	if pt.LessonPlan == "" {
		pt.LessonPlan = GetDefaultLessonPlanTemplate()
	}
	if pt.Handout == "" {
		pt.Handout = GetDefaultHandoutTemplate()
	}
	if pt.Quiz == "" {
		pt.Quiz = GetDefaultQuizTemplate()
	}
	if pt.ComplexitySimple == "" {
		pt.ComplexitySimple = DefaultComplexitySimple
	}
	if pt.ComplexityStandard == "" {
		pt.ComplexityStandard = DefaultComplexityStandard
	}
	if pt.ComplexityDetailed == "" {
		pt.ComplexityDetailed = DefaultComplexityDetailed
	}
}
