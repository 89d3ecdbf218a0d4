// Package cmd implements the CLI commands for playoutd.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playoutd/internal/config"
	"github.com/jmylchreest/playoutd/internal/observability"
	"github.com/jmylchreest/playoutd/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the loaded configuration, populated by PersistentPreRunE before
// any subcommand runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "playoutd",
	Short:   "Continuous broadcast playout engine",
	Version: version.Short(),
	Long: `playoutd plays a wall-clock schedule of media blocks as one continuous,
frame-accurate output stream.

Blocks of segments are consumed from a playlist, decoded ahead of their
seams, and emitted on an exact rational tick clock. Transitions between
segments and blocks are prepared in the background so the output cadence
never stalls; when content is missing or late, black frames and silence
keep the channel on air.`,
	// PersistentPreRunE is set in init() to avoid an initialization cycle.
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfigAndLogging()
	}

	// These flags are NOT bound to viper. They are checked with Changed()
	// and only then override config/env values, preserving the priority:
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/playoutd, $HOME/.playoutd)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfigAndLogging loads configuration and installs the default logger.
func initConfigAndLogging() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		c.Logging.Level = strings.ToLower(level)
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ := rootCmd.PersistentFlags().GetString("log-format")
		c.Logging.Format = strings.ToLower(format)
	}
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(c.Logging, os.Stderr)
	observability.SetDefault(logger)

	cfg = c
	return nil
}
