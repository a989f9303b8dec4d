package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"courtbot/internal/auth"
	"courtbot/internal/logging"
	"courtbot/internal/models"
	"courtbot/internal/portal"
)

// Config represents the application configuration
type Config struct {
	Portal      PortalConfig      `yaml:"portal"`
	Credentials auth.Credentials  `yaml:"credentials"`
	Facilities  []models.Facility `yaml:"facilities"`
	Browser     BrowserConfig     `yaml:"browser"`
	Scan        ScanConfig        `yaml:"scan"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Booking     BookingConfig     `yaml:"booking"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
	Email       EmailConfig       `yaml:"email"`
	Logging     logging.Config    `yaml:"logging"`
}

// PortalConfig locates the reservation portal
type PortalConfig struct {
	BaseURL           string `yaml:"base_url"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

// BrowserConfig represents the automated browser settings
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	StateDir       string `yaml:"state_dir"`
	UserAgent      string `yaml:"user_agent"`
}

// ScanConfig represents the fast scan path settings
type ScanConfig struct {
	// Shape is "date" or "facility".
	Shape             string  `yaml:"shape"`
	Days              int     `yaml:"days"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Activity          string  `yaml:"activity"`
}

// MonitorConfig represents monitoring settings
type MonitorConfig struct {
	Interval int  `yaml:"interval"` // in seconds
	AutoBook bool `yaml:"auto_book"`
	// Calendar also walks the weekly calendar of every configured court.
	Calendar bool `yaml:"calendar"`
}

// BookingConfig holds the values entered on the confirmation page
type BookingConfig struct {
	UserCount      int    `yaml:"user_count"`
	EventLabel     string `yaml:"event_label"`
	DismissPayment bool   `yaml:"dismiss_payment"`
}

// StorageConfig locates the SQLite database
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig represents the HTTP API settings
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// EmailConfig represents email notification settings
type EmailConfig struct {
	Enabled bool       `yaml:"enabled"`
	SMTP    SMTPConfig `yaml:"smtp"`
	From    string     `yaml:"from"`
	To      []string   `yaml:"to"`
	Subject string     `yaml:"subject"`
}

// SMTPConfig represents SMTP server settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Timeout returns the browser timeout as a duration.
func (b BrowserConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// SessionTTL returns the credential lifetime estimate.
func (p PortalConfig) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLMinutes) * time.Minute
}

// IntervalDuration returns the monitor interval as a duration.
func (m MonitorConfig) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = portal.DefaultBaseURL
	}
	if c.Portal.SessionTTLMinutes <= 0 {
		c.Portal.SessionTTLMinutes = 25
	}
	if c.Browser.TimeoutSeconds <= 0 {
		c.Browser.TimeoutSeconds = 30
	}
	if c.Browser.StateDir == "" {
		c.Browser.StateDir = filepath.Join(configDir(), "browser")
	}
	if c.Scan.Shape == "" {
		c.Scan.Shape = "date"
	}
	if c.Scan.Days <= 0 {
		c.Scan.Days = 31
	}
	if c.Scan.Concurrency <= 0 {
		c.Scan.Concurrency = 2
	}
	if c.Scan.RequestsPerSecond <= 0 {
		c.Scan.RequestsPerSecond = 2
	}
	if c.Scan.Activity == "" {
		c.Scan.Activity = portal.TennisActivityValue
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = 300
	}
	if c.Booking.UserCount <= 0 {
		c.Booking.UserCount = 2
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(configDir(), "courtbot.db")
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8080"
	}
	if c.Email.SMTP.Port == 0 {
		c.Email.SMTP.Port = 587
	}
	if c.Email.Subject == "" {
		c.Email.Subject = "[courtbot] テニスコート空き状況"
	}
	for i := range c.Facilities {
		if c.Facilities[i].Priority <= 0 {
			c.Facilities[i].Priority = i + 1
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Credentials.UserID == "" || c.Credentials.Password == "" {
		problems = append(problems, errors.New("credentials.user_id and credentials.password are required"))
	}
	if len(c.Facilities) == 0 {
		problems = append(problems, errors.New("at least one facility is required"))
	}
	seen := map[string]bool{}
	for i, f := range c.Facilities {
		if f.ID == "" {
			problems = append(problems, fmt.Errorf("facilities[%d]: id is required", i))
			continue
		}
		if seen[f.ID] {
			problems = append(problems, fmt.Errorf("facilities[%d]: duplicate id %s", i, f.ID))
		}
		seen[f.ID] = true
		if c.Scan.Shape == "facility" && len(f.Courts) == 0 {
			problems = append(problems, fmt.Errorf("facility %s: courts are required for facility scans", f.ID))
		}
	}
	if c.Scan.Shape != "date" && c.Scan.Shape != "facility" {
		problems = append(problems, fmt.Errorf("scan.shape %q: must be date or facility", c.Scan.Shape))
	}
	if c.Monitor.Interval < 30 {
		problems = append(problems, fmt.Errorf("monitor.interval %ds: must be at least 30s", c.Monitor.Interval))
	}
	if c.Email.Enabled && (c.Email.SMTP.Host == "" || c.Email.From == "" || len(c.Email.To) == 0) {
		problems = append(problems, errors.New("email: smtp.host, from and to are required when enabled"))
	}
	return errors.Join(problems...)
}

func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".courtbot"
	}
	return filepath.Join(homeDir, ".courtbot")
}

// GetConfigPath finds the configuration file path
func GetConfigPath() string {
	// 1. configs/config.yaml next to the executable
	if execPath, err := os.Executable(); err == nil {
		configPath := filepath.Join(filepath.Dir(execPath), "configs", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	// 2. configs/config.yaml in the working directory
	configPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	// 3. ~/.courtbot/config.yaml
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads and parses the configuration file and applies defaults
func Load(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save saves the configuration to file
func Save(path string, cfg *Config) error {
	if path == "" {
		path = GetConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// The file holds the portal password.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
