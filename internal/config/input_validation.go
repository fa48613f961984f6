package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxIdentityLength bounds the ledger identity
	MaxIdentityLength = 200

	// MaxModelNameLength bounds model names
	MaxModelNameLength = 100

	// MaxTemplateSize bounds each prompt template
	MaxTemplateSize = 50 * 1024
)

// ValidateInputs checks user-controllable strings that end up in ledger rows,
// request bodies, file paths or listen sockets. All problems are reported
// together.
func (c *Config) ValidateInputs() error {
	var errs []error

	if err := validateIdentity(c.Credits.Identity); err != nil {
		errs = append(errs, fmt.Errorf("invalid credits.identity: %w", err))
	}
	if err := validateLedgerPath(c.Credits.LedgerPath); err != nil {
		errs = append(errs, fmt.Errorf("invalid credits.ledger_path: %w", err))
	}
	if err := validateListenAddr(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("invalid server.addr: %w", err))
	}

	for role, mc := range c.Models {
		if err := validateModelName(mc.ModelName, role); err != nil {
			errs = append(errs, err)
		}
		if err := validateBaseURL(mc.BaseURL, role); err != nil {
			errs = append(errs, err)
		}
	}

	for provider := range c.ProviderRateLimits {
		if provider == "" || containsControlChars(provider) || strings.ContainsAny(provider, " \n\t") {
			errs = append(errs, fmt.Errorf("provider_rate_limits has an invalid provider key %q", provider))
		}
	}

	errs = append(errs, c.validateTemplateSizes()...)
	return errors.Join(errs...)
}

func validateIdentity(identity string) error {
	if len(identity) > MaxIdentityLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)", MaxIdentityLength, len(identity))
	}
	if containsControlChars(identity) || strings.ContainsAny(identity, "\n\t\r") {
		return fmt.Errorf("contains invalid control characters")
	}
	return nil
}

// validateLedgerPath accepts an empty path (in-memory ledger) or a file path
func validateLedgerPath(path string) error {
	if path == "" {
		return nil
	}
	if containsControlChars(path) || strings.ContainsAny(path, "\n\r") {
		return fmt.Errorf("contains invalid control characters")
	}
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return fmt.Errorf("must name a file, got directory %q", path)
	}
	if strings.HasPrefix(path, "file:") {
		return fmt.Errorf("must be a plain path, not a DSN")
	}
	return nil
}

func validateListenAddr(addr string) error {
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}

func validateModelName(modelName, role string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("model '%s' name exceeds maximum length of %d (got %d)", role, MaxModelNameLength, len(modelName))
	}
	if containsControlChars(modelName) {
		return fmt.Errorf("model '%s' name contains invalid control characters", role)
	}
	return nil
}

func validateBaseURL(baseURL, role string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("model '%s' has invalid base_url: %w", role, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model '%s' base_url must use http or https scheme (got %s)", role, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("model '%s' base_url must have a host", role)
	}
	if u.User != nil {
		return fmt.Errorf("model '%s' base_url must not embed credentials; use an API key variable", role)
	}
	return nil
}

func (c *Config) validateTemplateSizes() []error {
	pt := c.PromptTemplates
	templates := []struct {
		name  string
		value string
	}{
		{"spec_from_video", pt.SpecFromVideo},
		{"spec_from_topic", pt.SpecFromTopic},
		{"spec_addendum", pt.SpecAddendum},
		{"refine_spec", pt.RefineSpec},
		{"lesson_plan", pt.LessonPlan},
		{"handout", pt.Handout},
		{"quiz", pt.Quiz},
	}

	var errs []error
	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			errs = append(errs, fmt.Errorf("template '%s' exceeds maximum size of %d bytes (got %d)", tmpl.name, MaxTemplateSize, len(tmpl.value)))
		}
	}
	return errs
}

// containsControlChars reports control characters other than newline, tab
// and carriage return
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
