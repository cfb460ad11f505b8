package config

import (
	"fmt"
	"strings"

	"github.com/logsentry/logsentry/internal/rate"
	"github.com/logsentry/logsentry/internal/rules"
)

// Validate checks the configuration for consistency. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port must be in [1, 65535], got %d", c.API.Port))
	}
	if c.API.IngestRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("api.ingest_rate_limit must not be negative, got %d", c.API.IngestRateLimit))
	}
	if c.Model.Path == "" {
		errs = append(errs, "model.path must not be empty")
	}
	if c.Model.Contamination <= 0 || c.Model.Contamination >= 0.5 {
		errs = append(errs, fmt.Sprintf("model.contamination must be in (0, 0.5), got %g", c.Model.Contamination))
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("model.threshold must be in (0, 1], got %g", c.Model.Threshold))
	}
	if c.Model.MinTrainSamples < 1 {
		errs = append(errs, fmt.Sprintf("model.min_train_samples must be positive, got %d", c.Model.MinTrainSamples))
	}
	if c.History.MaxRecentAnomalies < 1 {
		errs = append(errs, fmt.Sprintf("history.max_recent must be positive, got %d", c.History.MaxRecentAnomalies))
	}
	if c.Feedback.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("feedback.capacity must be positive, got %d", c.Feedback.Capacity))
	}

	if _, err := rules.ParseRuleSet(c.Alerts.Conditions); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := rate.ParseRuleSet(c.Alerts.ComplexRules); err != nil {
		errs = append(errs, err.Error())
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
