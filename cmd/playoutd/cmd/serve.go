package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playoutd/internal/catalog"
	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/observability"
	"github.com/jmylchreest/playoutd/internal/playout"
	"github.com/jmylchreest/playoutd/internal/schedule"
	"github.com/jmylchreest/playoutd/internal/sink"
	"github.com/jmylchreest/playoutd/internal/timing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Play a playlist as one continuous session",
	Long: `Start a playout session from a YAML playlist.

Blocks are pushed into the session in file order and the session runs
until the schedule completes, a structural fault ends it, or the process
receives SIGINT/SIGTERM. Output goes to the configured sink (MPEG-TS to a
file or stdout, or the null sink).

The built-in synthetic decode backend produces deterministic frames for
every asset in the playlist; real decoders plug in through the same
backend interface.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("playlist", "playlist.yaml", "playlist file (YAML blocks)")
	serveCmd.Flags().String("backend", "synthetic", "decode backend (synthetic)")
	serveCmd.Flags().Bool("loop", false, "re-queue the playlist when it drains instead of stopping")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := observability.WithComponent(slog.Default(), "serve")

	playlistPath, _ := cmd.Flags().GetString("playlist")
	backendName, _ := cmd.Flags().GetString("backend")
	loop, _ := cmd.Flags().GetBool("loop")

	var durations schedule.DurationResolver
	if cfg.Catalog.Enabled {
		prober := decode.NewFFprobe(cfg.FFmpeg.ProbePath, cfg.FFmpeg.ProbeTimeout)
		cat, err := catalog.Open(cfg.Catalog.DSN, cfg.Catalog.LogLevel, prober, slog.Default())
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer cat.Close()
		durations = cat
	}

	blocks, err := schedule.LoadPlaylistResolved(cmd.Context(), playlistPath, nil, durations)
	if err != nil {
		return fmt.Errorf("loading playlist: %w", err)
	}
	logger.Info("playlist loaded",
		slog.String("path", playlistPath),
		slog.Int("blocks", len(blocks)))

	fps := timing.Rational{Num: int64(cfg.Video.FPSNum), Den: int64(cfg.Video.FPSDen)}
	format := playout.AudioFormat{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}

	backend, err := buildBackend(backendName, blocks, format, fps)
	if err != nil {
		return err
	}
	out, closeOut, err := buildSink(fps)
	if err != nil {
		return err
	}
	defer closeOut()

	queue := schedule.NewBlockQueue()
	for _, b := range blocks {
		queue.Push(b)
	}
	if !loop {
		queue.Close()
	}

	session, err := playout.NewSession(playout.SessionConfig{
		FPS:    fps,
		Width:  cfg.Video.Width,
		Height: cfg.Video.Height,
		Format: format,
		Lookahead: playout.LookaheadConfig{
			VideoLow:      cfg.Playout.VideoLookaheadLow,
			VideoTarget:   cfg.Playout.VideoLookahead,
			AudioTargetMs: cfg.Playout.AudioLookaheadMs,
		},
		Prepare: playout.PrepareConfig{
			MinAudioMs:  cfg.Prepare.MinAudioMs,
			PrimeBudget: cfg.Prepare.PrimeBudget,
			OpenTimeout: cfg.Prepare.OpenTimeout,
		},
		StopWhenDrained: !loop,
		StatsInterval:   cfg.Playout.StatsInterval,
	}, backend, out, queue, slog.Default())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sampler, err := observability.NewProcStatsSampler(); err == nil && cfg.Playout.StatsInterval > 0 {
		go sampler.LogPeriodically(ctx, slog.Default(), cfg.Playout.StatsInterval)
	}

	session.Start(ctx)

	if loop {
		go refillQueue(ctx, queue, blocks, session, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-session.Done():
	}

	if err := stopSession(session, cfg.Playout.ShutdownTimeout); err != nil {
		return err
	}

	reason := session.Wait()
	logger.Info("playout finished", slog.String("reason", reason))
	if reason != "schedule complete" && reason != "stopped" {
		return fmt.Errorf("session ended: %s", reason)
	}
	return nil
}

// stopSession stops the session, bounding teardown by the configured
// shutdown timeout.
func stopSession(session *playout.Session, timeout time.Duration) error {
	if timeout <= 0 {
		session.Stop()
		return nil
	}
	done := make(chan struct{})
	go func() {
		session.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("session did not stop within %v", timeout)
	}
}

// refillQueue re-queues the whole playlist each time the queue runs dry,
// with block windows shifted forward so contiguity holds.
func refillQueue(ctx context.Context, queue *schedule.BlockQueue, blocks []*schedule.Block,
	session *playout.Session, logger *slog.Logger) {
	offset := blocks[len(blocks)-1].EndTime.Sub(blocks[0].StartTime)
	epoch := 1
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			return
		case <-ticker.C:
		}
		if queue.Len() > 0 {
			continue
		}
		shift := offset * time.Duration(epoch)
		for _, b := range blocks {
			clone := &schedule.Block{
				ID:        schedule.NewBlockID(),
				StartTime: b.StartTime.Add(shift),
				EndTime:   b.EndTime.Add(shift),
				Segments:  b.Segments,
			}
			if err := clone.Seal(nil); err != nil {
				logger.Error("re-queueing playlist failed", slog.String("error", err.Error()))
				return
			}
			queue.Push(clone)
		}
		epoch++
		logger.Debug("playlist re-queued", slog.Int("epoch", epoch))
	}
}

// buildBackend constructs the decode backend. The synthetic backend
// registers every asset referenced by the playlist with deterministic
// frames and enough attached audio to satisfy any tick cadence.
func buildBackend(name string, blocks []*schedule.Block, format playout.AudioFormat,
	fps timing.Rational) (decode.Backend, error) {
	switch name {
	case "synthetic":
		backend := decode.NewFakeBackend(format.SampleRate, format.Channels)
		framePeriodMs := int((fps.Den*1000 + fps.Num - 1) / fps.Num)
		for _, b := range blocks {
			for _, seg := range b.Segments {
				if seg.AssetRef == "" {
					continue
				}
				backend.SetScript(seg.AssetRef, decode.FakeScript{
					Frames:          -1,
					HasAudio:        true,
					AudioMsPerFrame: framePeriodMs + 1,
				})
			}
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown decode backend %q (available: synthetic)", name)
	}
}

// buildSink constructs the configured output sink and a close function for
// any underlying file.
func buildSink(fps timing.Rational) (playout.Sink, func(), error) {
	noop := func() {}
	switch cfg.Output.Format {
	case "null":
		return sink.NewNull(), noop, nil
	case "ts":
		w := os.Stdout
		if cfg.Output.Path != "-" {
			f, err := os.Create(cfg.Output.Path)
			if err != nil {
				return nil, noop, fmt.Errorf("creating output file: %w", err)
			}
			w = f
		}
		ts, err := sink.NewTS(w, sink.TSConfig{
			VideoPID: uint16(cfg.Output.VideoPID),
			AudioPID: uint16(cfg.Output.AudioPID),
			FPS:      fps,
		})
		if err != nil {
			return nil, noop, err
		}
		closeFn := noop
		if cfg.Output.Path != "-" {
			closeFn = func() { w.Close() }
		}
		return ts, closeFn, nil
	default:
		return nil, noop, fmt.Errorf("unknown output format %q", cfg.Output.Format)
	}
}
