// Package config loads and validates the report generator configuration using
// Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DVR_ prefix (e.g., DVR_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml on an operator workstation and with pure environment variables
// in a scheduled container job.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Dataverse     DataverseConfig     `mapstructure:"dataverse"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Reports       ReportsConfig       `mapstructure:"reports"`
	Accounts      map[string]Account  `mapstructure:"accounts"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// DataverseConfig holds the remote Dataverse installation settings
type DataverseConfig struct {
	// Host is the base URL of the installation (e.g. https://dataverse.example.edu)
	Host string `mapstructure:"host"`
	// APIKey is the token sent in the X-Dataverse-key header and used for SWORD basic auth
	APIKey string `mapstructure:"api_key"`
	// RequestTimeout bounds each individual API call
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds the Dataverse PostgreSQL connection configuration.
// The database is only read, for cumulative download counts.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// ReportsConfig holds report generation settings
type ReportsConfig struct {
	// WorkDir receives the intermediate per-report CSV files
	WorkDir string `mapstructure:"work_dir"`
	// IncludeDatasetMetrics toggles the Make Data Count columns on dataset reports
	IncludeDatasetMetrics bool `mapstructure:"include_dataset_metrics"`
}

// Account is one configured institutional account. Reports for the account
// start at the dataverse named by Identifier; Contacts receive the emailed
// workbook when grouping by institution.
type Account struct {
	Name       string   `mapstructure:"name"`
	Identifier string   `mapstructure:"identifier"`
	Contacts   []string `mapstructure:"contacts"`
}

// NotificationsConfig holds settings for emailing finished reports
type NotificationsConfig struct {
	// Enabled globally toggles outbound email. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
	// AdminEmails receive the combined workbook when grouping is "all"
	AdminEmails []string `mapstructure:"admin_emails"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	// Host is the SMTP server hostname
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address on report emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File is an optional log file written in addition to stdout
	File string `mapstructure:"file"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Dataverse API
		"dataverse.host",
		"dataverse.api_key",
		"dataverse.request_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Reports
		"reports.work_dir",
		"reports.include_dataset_metrics",

		// Notifications / SMTP
		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
		"notifications.admin_emails",

		// Logging
		"logging.level",
		"logging.format",
		"logging.file",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dataverse-reports")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("DVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Dataverse.APIKey = expandEnv(cfg.Dataverse.APIKey)
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Dataverse defaults
	v.SetDefault("dataverse.request_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "dvndb")
	v.SetDefault("database.user", "dvnapp")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 5)
	v.SetDefault("database.min_idle_connections", 1)

	// Reports defaults
	v.SetDefault("reports.work_dir", "./work")
	v.SetDefault("reports.include_dataset_metrics", false)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.host", "localhost")
	v.SetDefault("notifications.smtp.port", 25)
	v.SetDefault("notifications.smtp.use_tls", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", false)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Dataverse.Host == "" {
		return fmt.Errorf("dataverse.host is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Reports.WorkDir == "" {
		return fmt.Errorf("reports.work_dir is required")
	}

	for key, account := range c.Accounts {
		if account.Identifier == "" {
			return fmt.Errorf("accounts.%s.identifier is required", key)
		}
		if account.Name == "" {
			return fmt.Errorf("accounts.%s.name is required", key)
		}
	}

	if c.Notifications.Enabled {
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications.smtp.host is required when notifications are enabled")
		}
		if c.Notifications.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.from is required when notifications are enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
