// Package cli provides the command-line interface for complyscan.
// This package implements the Cobra-based CLI structure with commands for
// running compliance scans, inspecting assigned policies, checking host
// prerequisites and scheduling periodic runs.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/complyscan/internal/config"
	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
)

const (
	defaultConfigFile = "/etc/complyscan/config.yaml"
	envPrefix         = "COMPLYSCAN"

	// ExitFatal is the exit status of a run that hit a fatal condition.
	ExitFatal = 101
	// ExitUsage is the exit status for configuration and usage errors.
	ExitUsage = 1
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "complyscan",
	Short: "OpenSCAP compliance scans for registered hosts",
	Long: `complyscan evaluates this host against the compliance policies assigned
to it, using OpenSCAP and the installed SCAP Security Guide content.
Results are optionally obfuscated, repaired for known content defects and
packaged into a tarball ready for upload.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit status.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit status. Compliance
// errors are fatal by the time they reach the CLI.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *errors.ComplianceError
	if errors.As(err, &ce) {
		if errors.IsFatal(ce) {
			return ExitFatal
		}
	}
	return ExitUsage
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is "+defaultConfigFile+")")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("base-url", "", "compliance service base URL")
	flags.Bool("obfuscate", false, "blank IP and MAC addresses in results")
	flags.Bool("obfuscate-hostname", false, "also blank host names in results (requires --obfuscate)")

	// Bind flags to viper
	bindFlags(viper.GetViper(), flags, map[string]string{
		"logging.level":           "log-level",
		"logging.format":          "log-format",
		"api.base_url":            "base-url",
		"scan.obfuscate":          "obfuscate",
		"scan.obfuscate_hostname": "obfuscate-hostname",
	})
}

// bindFlags binds each config key to the named flag of fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig wires environment variables into viper.
func initConfig() {
	bindEnv(viper.GetViper())
}

// bindEnv makes every overridable key settable as COMPLYSCAN_<SECTION>_<KEY>.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range config.Overridable {
		_ = v.BindEnv(key)
	}
}

// getConfigFilePath returns the config file to load.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return defaultConfigFile
}

// loadConfig loads the config file, applies flag and environment
// overrides, validates the result and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := loadConfigFrom(getConfigFilePath(), cfgFile != "", viper.GetViper())
	if err != nil {
		return nil, err
	}
	initLogging(cfg)
	return cfg, nil
}

func loadConfigFrom(path string, explicit bool, v *viper.Viper) (*config.Config, error) {
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "cannot read config file", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging(cfg *config.Config) {
	level := cfg.Logging.Level
	if verbose {
		level = string(logging.LevelDebug)
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == string(logging.LevelDebug),
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", level, "format", cfg.Logging.Format)
	}
}
