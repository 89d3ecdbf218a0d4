package playout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/observability"
	"github.com/jmylchreest/playoutd/internal/schedule"
	"github.com/jmylchreest/playoutd/internal/timing"
)

// SessionConfig collects everything a playout session needs beyond its
// schedule and sink.
type SessionConfig struct {
	FPS    timing.Rational
	Width  int
	Height int
	Format AudioFormat

	Lookahead LookaheadConfig
	Prepare   PrepareConfig

	// StopWhenDrained ends the session once the queue is closed and empty
	// and the last block's fence has passed.
	StopWhenDrained bool

	// StatsInterval is how often a stats snapshot is logged. Zero disables
	// periodic logging.
	StatsInterval time.Duration

	// Wait overrides the tick wait strategy; nil uses real-time sleeping.
	Wait timing.WaitStrategy
}

// Session is one continuous playout run: a tick clock, a block queue, the
// preparer/reaper pair, and the tick-loop manager, all sharing a single
// stop flag. The session ends on clean drain, on a structural fault, or by
// Stop; it never restarts.
type Session struct {
	ID uuid.UUID

	cfg     SessionConfig
	clock   *timing.TickClock
	queue   *schedule.BlockQueue
	prep    *Preparer
	reaper  *Reaper
	manager *Manager
	stats   *Stats
	logger  *slog.Logger

	stop atomic.Bool
	wg   sync.WaitGroup

	mu     sync.Mutex
	reason string
	done   chan struct{}
}

// NewSession wires a session. The queue is owned by the caller, who pushes
// sealed blocks and closes it when the schedule ends.
func NewSession(cfg SessionConfig, backend decode.Backend, sink Sink,
	queue *schedule.BlockQueue, logger *slog.Logger) (*Session, error) {
	if err := cfg.FPS.Validate(); err != nil {
		return nil, fmt.Errorf("session fps: %w", err)
	}
	clock, err := timing.NewTickClock(cfg.FPS, cfg.Wait)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		ID:     uuid.New(),
		cfg:    cfg,
		clock:  clock,
		queue:  queue,
		stats:  NewStats(),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.logger = observability.WithSession(logger, s.ID.String())

	s.reaper = NewReaper(s.logger)
	s.prep = NewPreparer(backend, cfg.Prepare, cfg.Lookahead, cfg.Format,
		s.stats, &s.stop, s.reaper.Retire, s.logger)
	s.manager = NewManager(ManagerConfig{
		FPS:             cfg.FPS,
		Format:          cfg.Format,
		Width:           cfg.Width,
		Height:          cfg.Height,
		Lookahead:       cfg.Lookahead,
		StopWhenDrained: cfg.StopWhenDrained,
	}, clock, queue, s.prep, s.reaper, sink, s.stats, &s.stop, s.finish, s.logger)
	return s, nil
}

// Start anchors the clock at the current instant and launches the session
// goroutines. Call once.
func (s *Session) Start(ctx context.Context) {
	s.clock.Start()
	s.reaper.Start()
	s.prep.Start()

	s.logger.Info("session started",
		slog.String("fps", s.cfg.FPS.String()),
		slog.Int("width", s.cfg.Width),
		slog.Int("height", s.cfg.Height),
		slog.Int("sample_rate", s.cfg.Format.SampleRate),
		slog.Int("channels", s.cfg.Format.Channels))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.manager.Run(ctx)
		s.finish("stopped")
	}()

	if s.cfg.StatsInterval > 0 {
		s.wg.Add(1)
		go s.logStatsPeriodically(ctx)
	}
}

// Wait blocks until the session ends and returns the reason.
func (s *Session) Wait() string {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stop requests shutdown and blocks until all session goroutines have
// exited and outstanding sources are closed.
func (s *Session) Stop() {
	s.stop.Store(true)
	s.wg.Wait()
	s.prep.Stop()
	s.reaper.Stop()

	snap := s.manager.Snapshot()
	s.logger.Info("session stopped",
		slog.Uint64("frames_emitted", snap.FramesEmitted),
		slog.Uint64("pad_frames", snap.PadFrames),
		slog.Uint64("source_swaps", snap.SourceSwaps),
		slog.Uint64("seam_fallback_ticks", snap.SeamFallbackTicks),
		slog.Uint64("video_underflows", snap.VideoUnderflows))
}

// Snapshot returns current session stats. Buffer depths reflect the active
// source pair and race benignly with the tick loop.
func (s *Session) Snapshot() Snapshot {
	return s.manager.Snapshot()
}

// finish records the first termination reason and closes done. Later calls
// are ignored.
func (s *Session) finish(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.reason = reason
	s.stop.Store(true)
	close(s.done)
}

func (s *Session) logStatsPeriodically(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			snap := s.manager.Snapshot()
			s.logger.Info("playout stats",
				slog.Uint64("frames_emitted", snap.FramesEmitted),
				slog.Uint64("pad_frames", snap.PadFrames),
				slog.Uint64("repeat_frames", snap.RepeatFrames),
				slog.Uint64("source_swaps", snap.SourceSwaps),
				slog.Uint64("prep_ready", snap.PrepReady),
				slog.Uint64("prep_failed", snap.PrepFailed),
				slog.Uint64("seam_fallback_ticks", snap.SeamFallbackTicks),
				slog.Uint64("audio_fallback_ticks", snap.AudioFallbackTicks),
				slog.Int("video_depth", snap.VideoDepth),
				slog.Int("audio_depth_ms", snap.AudioDepthMs),
				slog.Duration("decode_p95", snap.DecodeLatency.P95))
		}
	}
}
