// Package config loads, merges and validates complyscan configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	cerrors "github.com/anstrom/complyscan/internal/errors"
)

// Config represents the complete complyscan configuration
type Config struct {
	// Remote compliance service
	API APIConfig `yaml:"api" json:"api" validate:"required"`

	// Scan execution and result handling
	Scan ScanConfig `yaml:"scan" json:"scan" validate:"required"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics textfile output
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Periodic runs
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// APIConfig holds remote service connection settings
type APIConfig struct {
	// Base URL including scheme, e.g. https://console.example.com/api
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// Basic authentication
	Username string `yaml:"username" json:"username" validate:"required_with=Password"`
	Password string `yaml:"password" json:"password" validate:"required_with=Username"`

	// Client certificate authentication
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" json:"key_file" validate:"required_with=CertFile"`

	// Additional CA bundle for the server certificate
	CAFile string `yaml:"ca_file" json:"ca_file"`

	// Request timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// File holding the host's machine id used for inventory lookup
	MachineIDFile string `yaml:"machine_id_file" json:"machine_id_file" validate:"required"`
}

// ScanConfig holds scan and post-processing settings
type ScanConfig struct {
	// Directory searched for SCAP data streams
	ContentDir string `yaml:"content_dir" json:"content_dir" validate:"required"`

	// Prefix every located data stream path must carry
	DatastreamsPath string `yaml:"datastreams_path" json:"datastreams_path" validate:"required"`

	// os-release file used to detect OS major/minor versions
	OSReleaseFile string `yaml:"os_release_file" json:"os_release_file" validate:"required"`

	// Directory for tailoring files
	TempDir string `yaml:"temp_dir" json:"temp_dir" validate:"required"`

	// Parent directory for per-run archive directories and artifacts
	ArchiveDir string `yaml:"archive_dir" json:"archive_dir" validate:"required"`

	// Blank addressing information in results
	Obfuscate bool `yaml:"obfuscate" json:"obfuscate"`

	// Blank host-identifying fields in results; requires Obfuscate
	ObfuscateHostname bool `yaml:"obfuscate_hostname" json:"obfuscate_hostname"`

	// Optional YAML file overriding the built-in obfuscation paths
	ObfuscationsFile string `yaml:"obfuscations_file" json:"obfuscations_file"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" validate:"required"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// node_exporter textfile collector target
	TextfilePath string `yaml:"textfile_path" json:"textfile_path" validate:"required_if=Enabled true"`
}

// ScheduleConfig holds settings for the schedule command
type ScheduleConfig struct {
	// Cron expression (robfig/cron syntax, descriptors allowed)
	Cron string `yaml:"cron" json:"cron" validate:"required"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       "https://cert.cloud.redhat.com/api",
			Timeout:       120 * time.Second,
			MachineIDFile: "/etc/insights-client/machine-id",
		},
		Scan: ScanConfig{
			ContentDir:      "/usr/share/xml/scap/ssg/content/",
			DatastreamsPath: "/usr/share/xml/scap/",
			OSReleaseFile:   "/etc/os-release",
			TempDir:         "/var/tmp",
			ArchiveDir:      "/var/tmp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:      false,
			TextfilePath: "/var/lib/node_exporter/textfile_collector/complyscan.prom",
		},
		Schedule: ScheduleConfig{
			Cron: "@daily",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder covers both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, cerrors.WrapConfigError(cerrors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	return config, nil
}

// Overridable lists the keys that flags and environment variables may set.
var Overridable = []string{
	"api.base_url",
	"api.username",
	"api.password",
	"api.cert_file",
	"api.key_file",
	"api.ca_file",
	"api.timeout",
	"scan.obfuscate",
	"scan.obfuscate_hostname",
	"scan.archive_dir",
	"logging.level",
	"logging.format",
	"logging.output",
	"metrics.enabled",
	"metrics.textfile_path",
	"schedule.cron",
}

// Merge applies every overridable key that is set in v on top of c.
func (c *Config) Merge(v *viper.Viper) {
	if v == nil {
		return
	}
	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}

	set("api.base_url", func() { c.API.BaseURL = v.GetString("api.base_url") })
	set("api.username", func() { c.API.Username = v.GetString("api.username") })
	set("api.password", func() { c.API.Password = v.GetString("api.password") })
	set("api.cert_file", func() { c.API.CertFile = v.GetString("api.cert_file") })
	set("api.key_file", func() { c.API.KeyFile = v.GetString("api.key_file") })
	set("api.ca_file", func() { c.API.CAFile = v.GetString("api.ca_file") })
	set("api.timeout", func() { c.API.Timeout = v.GetDuration("api.timeout") })
	set("scan.obfuscate", func() { c.Scan.Obfuscate = v.GetBool("scan.obfuscate") })
	set("scan.obfuscate_hostname", func() { c.Scan.ObfuscateHostname = v.GetBool("scan.obfuscate_hostname") })
	set("scan.archive_dir", func() { c.Scan.ArchiveDir = v.GetString("scan.archive_dir") })
	set("logging.level", func() { c.Logging.Level = v.GetString("logging.level") })
	set("logging.format", func() { c.Logging.Format = v.GetString("logging.format") })
	set("logging.output", func() { c.Logging.Output = v.GetString("logging.output") })
	set("metrics.enabled", func() { c.Metrics.Enabled = v.GetBool("metrics.enabled") })
	set("metrics.textfile_path", func() { c.Metrics.TextfilePath = v.GetString("metrics.textfile_path") })
	set("schedule.cron", func() { c.Schedule.Cron = v.GetString("schedule.cron") })
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return cerrors.ErrConfigInvalid(first.Namespace(), first.Value())
		}
		return cerrors.WrapConfigError(cerrors.CodeValidation, "invalid configuration", err)
	}

	if c.API.Username == "" && c.API.CertFile == "" {
		return cerrors.ErrConfigMissing("API.Username or API.CertFile")
	}

	return nil
}

// IsBasicAuth returns true if requests authenticate with username/password
func (c *Config) IsBasicAuth() bool {
	return c.API.Username != ""
}
