package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"
)

// Model roles looked up through ModelFor. Only RoleMain is required; the
// others fall back to it.
const (
	RoleMain      = "main"
	RoleCode      = "code"
	RoleMaterials = "materials"
	RoleRefine    = "refine"
)

// Config represents the complete application configuration
type Config struct {
	Models               map[string]ModelConfig `toml:"models"`
	Credits              CreditsConfig          `toml:"credits"`
	Editing              EditingConfig          `toml:"editing"`
	Safety               []SafetySetting        `toml:"safety"`
	PromptTemplates      PromptTemplates        `toml:"prompt_templates"`
	Server               ServerConfig           `toml:"server"`
	Output               OutputConfig           `toml:"output"`
	ProviderRateLimits   map[string]int         `toml:"provider_rate_limits"`   // Global rate limits per provider (requests per minute)
	ProviderBurstPercent int                    `toml:"provider_burst_percent"` // Burst capacity as percentage (1-50, default: 15)
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	ContextSize        int     `toml:"context_size"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxBackoffSeconds  int     `toml:"max_backoff_seconds"`  // Optional: max backoff duration (default 120)
	MaxRetries         int     `toml:"max_retries"`          // Optional: transport retries for 429/5xx (default 0)
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // Optional: HTTP request timeout, headers only when streaming (default 300)

	StreamIdleTimeoutSeconds int `toml:"stream_idle_timeout_seconds"` // Optional: max silence inside a stream (default 60)
}

// CreditsConfig holds the credit gate settings
type CreditsConfig struct {
	Enabled         bool   `toml:"enabled"`          // Enforce the credit gate
	StartingBalance int    `toml:"starting_balance"` // Balance granted to an identity on first use (default 200)
	Identity        string `toml:"identity"`         // Ledger identity (default "anonymous")
	LedgerPath      string `toml:"ledger_path"`      // SQLite ledger file; empty keeps balances in memory
	EditCost        int    `toml:"edit_cost"`        // Flat cost of an edit-save or refine (default 25)
}

// EditingConfig holds the edit-session countdown settings
type EditingConfig struct {
	CountdownTicks int `toml:"countdown_ticks"`  // Ticks before an open draft is discarded (default 20)
	TickIntervalMs int `toml:"tick_interval_ms"` // Tick period in milliseconds (default 1000)
}

// TickInterval returns the countdown period
func (e EditingConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalMs) * time.Millisecond
}

// SafetySetting is one provider safety category threshold
type SafetySetting struct {
	Category  string `toml:"category" json:"category"`
	Threshold string `toml:"threshold" json:"threshold"`
}

// PromptTemplates holds all customizable prompt templates
type PromptTemplates struct {
	SpecFromVideo      string `toml:"spec_from_video"`
	SpecFromTopic      string `toml:"spec_from_topic"` // {{.Topic}}
	SpecAddendum       string `toml:"spec_addendum"`   // Appended verbatim to every specification
	RefineSpec         string `toml:"refine_spec"`     // {{.Spec}}, {{.Instructions}}
	LessonPlan         string `toml:"lesson_plan"`     // {{.Spec}}
	Handout            string `toml:"handout"`         // {{.Spec}}
	Quiz               string `toml:"quiz"`            // {{.Spec}}
	ComplexitySimple   string `toml:"complexity_simple"`
	ComplexityStandard string `toml:"complexity_standard"`
	ComplexityDetailed string `toml:"complexity_detailed"`
}

// ComplexityInstruction returns the instruction for a complexity level.
// Unknown levels get the standard instruction.
func (p PromptTemplates) ComplexityInstruction(level int) string {
	switch level {
	case 1:
		return p.ComplexitySimple
	case 3:
		return p.ComplexityDetailed
	default:
		return p.ComplexityStandard
	}
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Addr        string `toml:"addr"`         // Listen address (default ":8080")
	EventBuffer int    `toml:"event_buffer"` // Per-subscriber event buffer (default 64)
}

// OutputConfig holds session output settings
type OutputConfig struct {
	Dir string `toml:"dir"` // Session root directory (default "output")
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

const (
	// MaxEditCost bounds the configurable flat edit cost
	MaxEditCost = 1000
	// MaxCountdownTicks bounds the edit countdown
	MaxCountdownTicks = 3600
)

var safetyThresholds = []string{
	"BLOCK_NONE",
	"BLOCK_ONLY_HIGH",
	"BLOCK_MEDIUM_AND_ABOVE",
	"BLOCK_LOW_AND_ABOVE",
	"OFF",
}

// ModelFor returns the model configuration for a role, falling back to main
func (c *Config) ModelFor(role string) ModelConfig {
	if mc, ok := c.Models[role]; ok {
		return mc
	}
	return c.Models[RoleMain]
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Set default provider burst percent if not specified
	if c.ProviderBurstPercent == 0 {
		c.ProviderBurstPercent = 15
	}
	if c.ProviderBurstPercent < 1 || c.ProviderBurstPercent > 50 {
		return fmt.Errorf("provider_burst_percent must be between 1 and 50 (got %d)", c.ProviderBurstPercent)
	}

	mainModel, ok := c.Models[RoleMain]
	if !ok {
		return fmt.Errorf("models.main is required")
	}
	if err := validateModelConfig(RoleMain, mainModel); err != nil {
		return err
	}
	for name, mc := range c.Models {
		if name == RoleMain {
			continue
		}
		if !slices.Contains([]string{RoleCode, RoleMaterials, RoleRefine}, name) {
			return fmt.Errorf("models.%s is not a known role (use main, code, materials or refine)", name)
		}
		if err := validateModelConfig(name, mc); err != nil {
			return err
		}
	}

	if c.Credits.StartingBalance < 0 {
		return fmt.Errorf("credits.starting_balance must not be negative (got %d)", c.Credits.StartingBalance)
	}
	if c.Credits.EditCost < 1 || c.Credits.EditCost > MaxEditCost {
		return fmt.Errorf("credits.edit_cost must be between 1 and %d (got %d)", MaxEditCost, c.Credits.EditCost)
	}
	if strings.TrimSpace(c.Credits.Identity) == "" {
		return fmt.Errorf("credits.identity must not be blank")
	}

	if c.Editing.CountdownTicks < 1 || c.Editing.CountdownTicks > MaxCountdownTicks {
		return fmt.Errorf("editing.countdown_ticks must be between 1 and %d (got %d)", MaxCountdownTicks, c.Editing.CountdownTicks)
	}
	if c.Editing.TickIntervalMs < 10 {
		return fmt.Errorf("editing.tick_interval_ms must be at least 10 (got %d)", c.Editing.TickIntervalMs)
	}

	for i, s := range c.Safety {
		if strings.TrimSpace(s.Category) == "" {
			return fmt.Errorf("safety[%d].category is required", i)
		}
		if !slices.Contains(safetyThresholds, s.Threshold) {
			return fmt.Errorf("safety[%d].threshold must be one of %s (got %q)", i, strings.Join(safetyThresholds, ", "), s.Threshold)
		}
	}

	if c.Server.EventBuffer < 1 {
		return fmt.Errorf("server.event_buffer must be at least 1")
	}

	// Validate prompt templates
	required := []struct {
		name  string
		value string
	}{
		{"spec_from_video", c.PromptTemplates.SpecFromVideo},
		{"spec_from_topic", c.PromptTemplates.SpecFromTopic},
		{"spec_addendum", c.PromptTemplates.SpecAddendum},
		{"refine_spec", c.PromptTemplates.RefineSpec},
		{"lesson_plan", c.PromptTemplates.LessonPlan},
		{"handout", c.PromptTemplates.Handout},
		{"quiz", c.PromptTemplates.Quiz},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("prompt_templates.%s is required", r.name)
		}
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	if mc.ContextSize < 1 {
		return fmt.Errorf("models.%s.context_size must be at least 1", name)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must be at least 1", name)
	}
	if mc.MaxRetries < 0 || mc.MaxRetries > 10 {
		return fmt.Errorf("models.%s.max_retries must be between 0 and 10", name)
	}
	if mc.MaxOutputTokens > mc.ContextSize {
		return fmt.Errorf("models.%s.max_output_tokens (%d) must not exceed context_size (%d)", name, mc.MaxOutputTokens, mc.ContextSize)
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Load generic API key (provider-agnostic)
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Load provider-specific API keys (optional, override generic)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		secrets.APIKeys["gemini"] = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		secrets.APIKeys["openrouter"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if s == nil {
		return ""
	}
	if provider := GetProviderName(baseURL); provider != baseURL {
		if key := s.APIKeys[provider]; key != "" {
			return key
		}
	}

	// Fall back to generic API_KEY for any OpenAI-compatible provider
	if key := s.APIKeys["generic"]; key != "" {
		return key
	}

	// If no key found, return empty (could be local server without auth)
	return ""
}

// GetProviderName extracts a provider name from a base URL for rate limiting
func GetProviderName(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "openai"
	case strings.Contains(baseURL, "generativelanguage.googleapis.com"):
		return "gemini"
	case strings.Contains(baseURL, "openrouter.ai"):
		return "openrouter"
	case strings.Contains(baseURL, "together.xyz"), strings.Contains(baseURL, "together.ai"):
		return "together"
	}
	// For localhost or unknown providers, use the full base URL as provider name
	return baseURL
}

// IsLocalEndpoint reports whether baseURL points at a loopback host, which
// may run without credentials
func IsLocalEndpoint(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
