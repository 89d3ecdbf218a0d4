package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/playoutd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing playoutd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  playoutd config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/playoutd/config.yaml, ~/.playoutd/config.yaml)
  - Environment variables (PLAYOUTD_VIDEO_FPS_NUM, PLAYOUTD_OUTPUT_FORMAT, etc.)
  - Command-line flags (for some options)

Environment variables use the PLAYOUTD_ prefix and underscores for nesting.
Example: video.fps_num -> PLAYOUTD_VIDEO_FPS_NUM`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(formatDurations(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

// formatDurations renders time.Duration values as strings ("30s") instead
// of raw nanosecond integers.
func formatDurations(settings map[string]any) map[string]any {
	for key, value := range settings {
		switch v := value.(type) {
		case time.Duration:
			settings[key] = v.String()
		case map[string]any:
			settings[key] = formatDurations(v)
		}
	}
	return settings
}
