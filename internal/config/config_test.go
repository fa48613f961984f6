package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalConfig = `
[models.main]
base_url = "https://api.example.com/v1"
model_name = "test-model"
`

func validConfig() Config {
	cfg := Config{
		Models: map[string]ModelConfig{
			"main": {
				BaseURL:            "https://api.example.com/v1",
				ModelName:          "test-model",
				Temperature:        0.7,
				TopP:               1.0,
				MaxOutputTokens:    1024,
				ContextSize:        2048,
				RateLimitPerMinute: 60,
			},
		},
	}
	applyDefaults(&cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing main model",
			mutate:  func(c *Config) { delete(c.Models, "main") },
			wantErr: "models.main is required",
		},
		{
			name: "unknown model role",
			mutate: func(c *Config) {
				c.Models["judge"] = c.Models["main"]
			},
			wantErr: "not a known role",
		},
		{
			name: "invalid code model",
			mutate: func(c *Config) {
				mc := c.Models["main"]
				mc.Temperature = 3
				c.Models["code"] = mc
			},
			wantErr: "models.code.temperature",
		},
		{
			name:    "negative starting balance",
			mutate:  func(c *Config) { c.Credits.StartingBalance = -1 },
			wantErr: "starting_balance",
		},
		{
			name:    "edit cost too large",
			mutate:  func(c *Config) { c.Credits.EditCost = MaxEditCost + 1 },
			wantErr: "edit_cost",
		},
		{
			name:    "zero countdown",
			mutate:  func(c *Config) { c.Editing.CountdownTicks = -5 },
			wantErr: "countdown_ticks",
		},
		{
			name:    "tick interval too small",
			mutate:  func(c *Config) { c.Editing.TickIntervalMs = 1 },
			wantErr: "tick_interval_ms",
		},
		{
			name: "unknown safety threshold",
			mutate: func(c *Config) {
				c.Safety = []SafetySetting{{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "SOMETIMES"}}
			},
			wantErr: "safety[0].threshold",
		},
		{
			name:    "blank quiz template",
			mutate:  func(c *Config) { c.PromptTemplates.Quiz = "  " },
			wantErr: "prompt_templates.quiz",
		},
		{
			name:    "burst percent out of range",
			mutate:  func(c *Config) { c.ProviderBurstPercent = 90 },
			wantErr: "provider_burst_percent",
		},
		{
			name: "max tokens above context",
			mutate: func(c *Config) {
				mc := c.Models["main"]
				mc.MaxOutputTokens = 4096
				c.Models["main"] = mc
			},
			wantErr: "must not exceed context_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Config.Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Config.Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, _, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	main := cfg.Models["main"]
	if main.Temperature != 0.75 {
		t.Errorf("Temperature = %v, want 0.75", main.Temperature)
	}
	if main.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", main.MaxRetries)
	}
	if main.HTTPTimeoutSeconds != 300 || main.StreamIdleTimeoutSeconds != 60 {
		t.Errorf("timeouts = %ds/%ds, want 300s/60s", main.HTTPTimeoutSeconds, main.StreamIdleTimeoutSeconds)
	}
	if cfg.Credits.StartingBalance != 200 {
		t.Errorf("StartingBalance = %d, want 200", cfg.Credits.StartingBalance)
	}
	if cfg.Credits.EditCost != 25 {
		t.Errorf("EditCost = %d, want 25", cfg.Credits.EditCost)
	}
	if cfg.Credits.Identity != "anonymous" {
		t.Errorf("Identity = %q, want anonymous", cfg.Credits.Identity)
	}
	if cfg.Editing.CountdownTicks != 20 {
		t.Errorf("CountdownTicks = %d, want 20", cfg.Editing.CountdownTicks)
	}
	if got := cfg.Editing.TickInterval().Seconds(); got != 1 {
		t.Errorf("TickInterval = %vs, want 1s", got)
	}
	if len(cfg.Safety) != 4 {
		t.Errorf("len(Safety) = %d, want 4", len(cfg.Safety))
	}
	if !strings.Contains(cfg.PromptTemplates.SpecFromTopic, "{{.Topic}}") {
		t.Error("default topic template does not reference {{.Topic}}")
	}
	if cfg.Credits.Enabled {
		t.Error("credit gating should be off unless configured")
	}
}

func TestParseRejectsInvalidTOML(t *testing.T) {
	if _, _, err := Parse([]byte("[models.main\nbase_url=")); err == nil {
		t.Fatal("Parse() expected error for malformed TOML")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := minimalConfig + `
[models.refine]
base_url = "http://localhost:11434/v1"
model_name = "local-refiner"

[credits]
enabled = true
starting_balance = 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Credits.Enabled || cfg.Credits.StartingBalance != 50 {
		t.Errorf("credits = %+v", cfg.Credits)
	}
	if got := cfg.ModelFor(RoleRefine).ModelName; got != "local-refiner" {
		t.Errorf("ModelFor(refine) = %q, want local-refiner", got)
	}
	if got := cfg.ModelFor(RoleCode).ModelName; got != "test-model" {
		t.Errorf("ModelFor(code) = %q, want fallback to main", got)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestComplexityInstruction(t *testing.T) {
	cfg := validConfig()
	tests := []struct {
		level int
		want  string
	}{
		{1, DefaultComplexitySimple},
		{2, DefaultComplexityStandard},
		{3, DefaultComplexityDetailed},
		{0, DefaultComplexityStandard},
		{7, DefaultComplexityStandard},
	}
	for _, tt := range tests {
		if got := cfg.PromptTemplates.ComplexityInstruction(tt.level); got != tt.want {
			t.Errorf("ComplexityInstruction(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestGetAPIKey(t *testing.T) {
	secrets := &Secrets{APIKeys: map[string]string{
		"generic": "generic-key",
		"gemini":  "gemini-key",
	}}

	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-key"},
		{"https://api.openai.com/v1", "generic-key"},
		{"http://localhost:8000/v1", "generic-key"},
	}
	for _, tt := range tests {
		if got := secrets.GetAPIKey(tt.baseURL); got != tt.want {
			t.Errorf("GetAPIKey(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}

	var none *Secrets
	if got := none.GetAPIKey("https://api.openai.com/v1"); got != "" {
		t.Errorf("nil Secrets GetAPIKey = %q, want empty", got)
	}
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("GEMINI_API_KEY", "")

	secrets, err := LoadSecrets()
	if err != nil {
		t.Fatalf("LoadSecrets() error: %v", err)
	}
	if secrets.APIKeys["generic"] != "from-env" {
		t.Errorf("generic key = %q", secrets.APIKeys["generic"])
	}
	if _, ok := secrets.APIKeys["gemini"]; ok {
		t.Error("empty GEMINI_API_KEY should not be recorded")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CLASSFORGE_TEST_VALUE=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLASSFORGE_TEST_VALUE", "")
	_ = os.Unsetenv("CLASSFORGE_TEST_VALUE")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error: %v", err)
	}
	if got := os.Getenv("CLASSFORGE_TEST_VALUE"); got != "loaded" {
		t.Errorf("CLASSFORGE_TEST_VALUE = %q, want loaded", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "absent.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := map[string]bool{
		"http://localhost:11434/v1":    true,
		"http://127.0.0.1:8000/v1":     true,
		"http://[::1]:8000/v1":         true,
		"https://api.openai.com/v1":    false,
		"https://localhost.example/v1": false,
	}
	for url, want := range tests {
		if got := IsLocalEndpoint(url); got != want {
			t.Errorf("IsLocalEndpoint(%q) = %v, want %v", url, got, want)
		}
	}
}
