package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// DurationProber reports the playable duration of an asset. Consulted at
// playlist load, never on the tick path.
type DurationProber interface {
	ProbeDuration(ctx context.Context, assetRef string) (time.Duration, error)
}

// probeFormat is the subset of ffprobe's format object we consume.
type probeFormat struct {
	Duration string `json:"duration"`
}

type probeResult struct {
	Format probeFormat `json:"format"`
}

// FFprobe probes asset durations by running the ffprobe binary.
type FFprobe struct {
	binaryPath string
	timeout    time.Duration
}

// NewFFprobe creates a prober. An empty binaryPath uses "ffprobe" from PATH.
func NewFFprobe(binaryPath string, timeout time.Duration) *FFprobe {
	if binaryPath == "" {
		binaryPath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFprobe{binaryPath: binaryPath, timeout: timeout}
}

// ProbeDuration implements DurationProber.
func (p *FFprobe) ProbeDuration(ctx context.Context, assetRef string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		assetRef,
	}

	out, err := exec.CommandContext(ctx, p.binaryPath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("running ffprobe on %q: %w", assetRef, err)
	}

	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return 0, fmt.Errorf("parsing ffprobe output for %q: %w", assetRef, err)
	}

	return parseProbeDuration(result.Format.Duration)
}

// parseProbeDuration converts ffprobe's seconds-as-string duration field.
func parseProbeDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("asset has no duration (live stream?)")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
