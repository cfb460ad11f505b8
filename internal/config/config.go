// Package config loads and validates the service configuration.
//
// Sources, highest priority first:
//  1. Environment variables (unprefixed, e.g. API_PORT)
//  2. Optional YAML config file (CONFIG_FILE, default config.yaml)
//  3. Built-in defaults
//
// The two alert-rule tables (ALERT_CONDITIONS, COMPLEX_ALERT_RULES) are
// hot-reloadable from the config file via Watch; everything else is
// read once at startup.
package config

// Config contains all service settings.
type Config struct {
	API struct {
		Host string
		Port int

		// IngestRateLimit is the per-client requests-per-minute cap on
		// the ingest endpoints. Zero disables limiting.
		IngestRateLimit int
	}

	Model struct {
		Path            string
		Contamination   float64
		Threshold       float64
		MinTrainSamples int
	}

	History struct {
		MaxRecentAnomalies int
	}

	Feedback struct {
		DBPath   string
		Capacity int
	}

	// Alerts carries the raw JSON rule tables plus sink credentials.
	// Empty tables select the built-in defaults.
	Alerts struct {
		Conditions          string // threshold rules JSON
		ComplexRules        string // rate rules JSON
		SlackWebhookURL     string
		PagerDutyRoutingKey string
		GenericWebhookURL   string
	}

	Logging struct {
		Level string
		File  string
	}
}
