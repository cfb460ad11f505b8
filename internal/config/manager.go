package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envBindings maps viper keys to their environment variables. The env
// names are the service's public configuration surface and carry no
// prefix.
var envBindings = map[string]string{
	"api.host":                   "API_HOST",
	"api.port":                   "API_PORT",
	"api.ingest_rate_limit":      "INGEST_RATE_LIMIT",
	"model.path":                 "MODEL_PATH",
	"model.contamination":        "MODEL_CONTAMINATION",
	"model.threshold":            "ANOMALY_THRESHOLD",
	"model.min_train_samples":    "MIN_TRAIN_SAMPLES",
	"history.max_recent":         "MAX_RECENT_ANOMALIES",
	"feedback.db_path":           "FEEDBACK_DB_PATH",
	"feedback.capacity":          "FEEDBACK_CAPACITY",
	"alerts.conditions":          "ALERT_CONDITIONS",
	"alerts.complex_rules":       "COMPLEX_ALERT_RULES",
	"alerts.slack_webhook_url":   "SLACK_WEBHOOK_URL",
	"alerts.pagerduty_key":       "PAGERDUTY_ROUTING_KEY",
	"alerts.generic_webhook_url": "GENERIC_WEBHOOK_URL",
	"logging.level":              "LOG_LEVEL",
	"logging.file":               "LOG_FILE",
}

// Manager loads the configuration and watches the config file for
// alert-rule changes.
type Manager struct {
	configPath string
	viper      *viper.Viper
	config     *Config
}

// NewManager creates a manager for the given config file path. An empty
// path selects $CONFIG_FILE, falling back to "config.yaml".
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath == "" {
		configPath = "config.yaml"
	}
	return &Manager{configPath: configPath}
}

// Load reads all sources and validates the result.
func (m *Manager) Load() (*Config, error) {
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.setDefaults()
	for key, env := range envBindings {
		if err := m.viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := m.viper.ReadInConfig(); err != nil {
		// The config file is optional; defaults + env suffice.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := m.unmarshal()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.config = cfg
	return cfg, nil
}

// Get returns the last loaded configuration.
func (m *Manager) Get() *Config { return m.config }

// Watch re-reads the config file on change and invokes onChange with
// the fresh configuration. Invalid updates are dropped; the previous
// configuration stays in effect.
func (m *Manager) Watch(onChange func(*Config)) {
	m.viper.OnConfigChange(func(fsnotify.Event) {
		cfg := m.unmarshal()
		if err := cfg.Validate(); err != nil {
			return
		}
		m.config = cfg
		onChange(cfg)
	})
	m.viper.WatchConfig()
}

func (m *Manager) setDefaults() {
	d := DefaultConfig()
	m.viper.SetDefault("api.host", d.API.Host)
	m.viper.SetDefault("api.port", d.API.Port)
	m.viper.SetDefault("api.ingest_rate_limit", d.API.IngestRateLimit)
	m.viper.SetDefault("model.path", d.Model.Path)
	m.viper.SetDefault("model.contamination", d.Model.Contamination)
	m.viper.SetDefault("model.threshold", d.Model.Threshold)
	m.viper.SetDefault("model.min_train_samples", d.Model.MinTrainSamples)
	m.viper.SetDefault("history.max_recent", d.History.MaxRecentAnomalies)
	m.viper.SetDefault("feedback.db_path", d.Feedback.DBPath)
	m.viper.SetDefault("feedback.capacity", d.Feedback.Capacity)
	m.viper.SetDefault("alerts.conditions", d.Alerts.Conditions)
	m.viper.SetDefault("alerts.complex_rules", d.Alerts.ComplexRules)
	m.viper.SetDefault("alerts.slack_webhook_url", "")
	m.viper.SetDefault("alerts.pagerduty_key", "")
	m.viper.SetDefault("alerts.generic_webhook_url", "")
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.file", d.Logging.File)
}

func (m *Manager) unmarshal() *Config {
	cfg := &Config{}
	cfg.API.Host = m.viper.GetString("api.host")
	cfg.API.Port = m.viper.GetInt("api.port")
	cfg.API.IngestRateLimit = m.viper.GetInt("api.ingest_rate_limit")
	cfg.Model.Path = m.viper.GetString("model.path")
	cfg.Model.Contamination = m.viper.GetFloat64("model.contamination")
	cfg.Model.Threshold = m.viper.GetFloat64("model.threshold")
	cfg.Model.MinTrainSamples = m.viper.GetInt("model.min_train_samples")
	cfg.History.MaxRecentAnomalies = m.viper.GetInt("history.max_recent")
	cfg.Feedback.DBPath = m.viper.GetString("feedback.db_path")
	cfg.Feedback.Capacity = m.viper.GetInt("feedback.capacity")
	cfg.Alerts.Conditions = m.viper.GetString("alerts.conditions")
	cfg.Alerts.ComplexRules = m.viper.GetString("alerts.complex_rules")
	cfg.Alerts.SlackWebhookURL = m.viper.GetString("alerts.slack_webhook_url")
	cfg.Alerts.PagerDutyRoutingKey = m.viper.GetString("alerts.pagerduty_key")
	cfg.Alerts.GenericWebhookURL = m.viper.GetString("alerts.generic_webhook_url")
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.File = m.viper.GetString("logging.file")

	if cfg.Alerts.Conditions == "" {
		cfg.Alerts.Conditions = DefaultAlertConditions
	}
	if cfg.Alerts.ComplexRules == "" {
		cfg.Alerts.ComplexRules = DefaultComplexAlertRules
	}
	return cfg
}
