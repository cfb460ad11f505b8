package config

// DefaultAlertConditions is the built-in threshold rule table, used
// when ALERT_CONDITIONS is not set.
const DefaultAlertConditions = `{
  "web_server": {"response_time": 2000, "error_rate": 0.1},
  "database": {"query_time": 5000, "connection_count": 500, "error_rate": 0.05},
  "application": {"cpu_usage": 90, "memory_usage": 85, "thread_count": 300},
  "__default__": {"cpu_usage": 95, "memory_usage": 90, "error_rate": 0.2}
}`

// DefaultComplexAlertRules is the built-in rate rule table, used when
// COMPLEX_ALERT_RULES is not set.
const DefaultComplexAlertRules = `{
  "web_server": {"count": 3, "window_seconds": 60},
  "database": {"count": 5, "window_seconds": 120},
  "application": {"count": 8, "window_seconds": 180},
  "__default__": {"count": 10, "window_seconds": 300}
}`

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8000
	cfg.API.IngestRateLimit = 600

	cfg.Model.Path = "models/isolation_forest.json"
	cfg.Model.Contamination = 0.05
	cfg.Model.Threshold = 0.75
	cfg.Model.MinTrainSamples = 10

	cfg.History.MaxRecentAnomalies = 500

	cfg.Feedback.DBPath = "feedback/feedback.db"
	cfg.Feedback.Capacity = 1000

	cfg.Alerts.Conditions = DefaultAlertConditions
	cfg.Alerts.ComplexRules = DefaultComplexAlertRules

	cfg.Logging.Level = "info"
	cfg.Logging.File = ""

	return cfg
}
