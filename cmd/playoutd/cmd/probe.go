package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playoutd/internal/catalog"
	"github.com/jmylchreest/playoutd/internal/decode"
)

var probeCmd = &cobra.Command{
	Use:   "probe <asset>...",
	Short: "Probe asset durations",
	Long: `Probe the duration of one or more assets with ffprobe.

When the catalog is enabled, results are read through it: cached durations
are returned without re-probing and fresh probes are stored for later
sessions. Use --invalidate to drop cached entries first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Bool("invalidate", false, "drop cached durations before probing")
}

func runProbe(cmd *cobra.Command, args []string) error {
	invalidate, _ := cmd.Flags().GetBool("invalidate")
	prober := decode.NewFFprobe(cfg.FFmpeg.ProbePath, cfg.FFmpeg.ProbeTimeout)

	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		var err error
		cat, err = catalog.Open(cfg.Catalog.DSN, cfg.Catalog.LogLevel, prober, slog.Default())
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer cat.Close()
	}

	for _, asset := range args {
		var durationMs int64
		if cat != nil {
			if invalidate {
				if err := cat.Invalidate(asset); err != nil {
					return fmt.Errorf("invalidating %s: %w", asset, err)
				}
			}
			ms, err := cat.DurationFor(cmd.Context(), asset)
			if err != nil {
				return fmt.Errorf("probing %s: %w", asset, err)
			}
			durationMs = ms
		} else {
			d, err := prober.ProbeDuration(cmd.Context(), asset)
			if err != nil {
				return fmt.Errorf("probing %s: %w", asset, err)
			}
			durationMs = d.Milliseconds()
		}
		fmt.Printf("%s\t%dms\n", asset, durationMs)
	}
	return nil
}
