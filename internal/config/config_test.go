package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "dvnapp",
				Password: "secret",
				Name:     "dvndb",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=dvnapp password=secret dbname=dvndb sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.edu",
				Port:     5433,
				User:     "reader",
				Password: "pass",
				Name:     "dataverse",
				SSLMode:  "disable",
			},
			want: "host=db.example.edu port=5433 user=reader password=pass dbname=dataverse sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func validConfig() *Config {
	return &Config{
		Dataverse: DataverseConfig{Host: "https://dataverse.example.edu"},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, Name: "dvndb", User: "dvnapp", SSLMode: "require",
		},
		Reports: ReportsConfig{WorkDir: "./work"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing dataverse host",
			mutate:  func(c *Config) { c.Dataverse.Host = "" },
			wantErr: "dataverse.host",
		},
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.Name = "" },
			wantErr: "database.name",
		},
		{
			name:    "missing work dir",
			mutate:  func(c *Config) { c.Reports.WorkDir = "" },
			wantErr: "reports.work_dir",
		},
		{
			name: "account without identifier",
			mutate: func(c *Config) {
				c.Accounts = map[string]Account{"uni": {Name: "Example University"}}
			},
			wantErr: "accounts.uni.identifier",
		},
		{
			name: "account without name",
			mutate: func(c *Config) {
				c.Accounts = map[string]Account{"uni": {Identifier: "uni"}}
			},
			wantErr: "accounts.uni.name",
		},
		{
			name: "notifications enabled without from address",
			mutate: func(c *Config) {
				c.Notifications.Enabled = true
				c.Notifications.SMTP.Host = "mail.example.edu"
			},
			wantErr: "notifications.smtp.from",
		},
		{
			name:    "invalid logging level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid logging level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.yaml")
	content := `
dataverse:
  host: https://dataverse.example.edu
  api_key: abc-123
  request_timeout: 45s
database:
  host: db.example.edu
  password: secret
reports:
  work_dir: /var/lib/dataverse-reports/work
  include_dataset_metrics: true
accounts:
  uni:
    name: Example University
    identifier: uni
    contacts:
      - admin@uni.edu
notifications:
  enabled: true
  admin_emails:
    - root@example.edu
  smtp:
    host: mail.example.edu
    port: 587
    from: reports@example.edu
    use_tls: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://dataverse.example.edu", cfg.Dataverse.Host)
	assert.Equal(t, "abc-123", cfg.Dataverse.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Dataverse.RequestTimeout)

	// Defaults fill the unset database fields.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "dvndb", cfg.Database.Name)
	assert.Equal(t, "dvnapp", cfg.Database.User)

	assert.Equal(t, "/var/lib/dataverse-reports/work", cfg.Reports.WorkDir)
	assert.True(t, cfg.Reports.IncludeDatasetMetrics)

	account, ok := cfg.Accounts["uni"]
	require.True(t, ok, "accounts = %+v, want uni", cfg.Accounts)
	assert.Equal(t, "Example University", account.Name)
	assert.Equal(t, "uni", account.Identifier)
	assert.Equal(t, []string{"admin@uni.edu"}, account.Contacts)

	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, []string{"root@example.edu"}, cfg.Notifications.AdminEmails)
	assert.Equal(t, "mail.example.edu", cfg.Notifications.SMTP.Host)
	assert.Equal(t, 587, cfg.Notifications.SMTP.Port)
	assert.True(t, cfg.Notifications.SMTP.UseTLS)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.yaml")
	content := `
dataverse:
  host: https://dataverse.example.edu
database:
  host: localhost
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DVR_DATABASE_HOST", "db-override.example.edu")
	t.Setenv("DVR_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "db-override.example.edu" {
		t.Errorf("database.host = %q, want the environment override", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadExpandsSecretReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.yaml")
	content := `
dataverse:
  host: https://dataverse.example.edu
  api_key: ${TEST_DV_API_KEY}
database:
  host: localhost
  password: ${TEST_DV_DB_PASSWORD}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TEST_DV_API_KEY", "key-from-env")
	t.Setenv("TEST_DV_DB_PASSWORD", "pw-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dataverse.APIKey != "key-from-env" {
		t.Errorf("api_key = %q, want the expanded value", cfg.Dataverse.APIKey)
	}
	if cfg.Database.Password != "pw-from-env" {
		t.Errorf("database.password = %q, want the expanded value", cfg.Database.Password)
	}
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "application.yaml")
	// No dataverse.host at all.
	if err := os.WriteFile(path, []byte("database:\n  host: localhost\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load without dataverse.host: expected error, got nil")
	}
}
