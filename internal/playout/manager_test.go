package playout

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/schedule"
	"github.com/jmylchreest/playoutd/internal/timing"
)

// captureSink records every emitted frame and audio span.
type captureSink struct {
	mu     sync.Mutex
	frames []OutFrame
	audio  []OutAudio
}

func (s *captureSink) WriteFrame(f OutFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) WriteAudio(a OutAudio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Data aliases the manager's scratch buffer; keep only the metadata
	// plus a copy-free sample count for cadence assertions.
	s.audio = append(s.audio, OutAudio{PTS: a.PTS, Samples: a.Samples, Provenance: a.Provenance})
	return nil
}

// engineHarness drives a Manager tick by tick with deterministic waits
// between ticks for background preparation and filling.
type engineHarness struct {
	t      *testing.T
	clock  *timing.TickClock
	queue  *schedule.BlockQueue
	prep   *Preparer
	reaper *Reaper
	m      *Manager
	sink   *captureSink
	stats  *Stats
	stop   *atomic.Bool
	reason string
}

func newEngineHarness(t *testing.T, backend decode.Backend, fps timing.Rational) *engineHarness {
	t.Helper()
	clock, err := timing.NewTickClock(fps, timing.InstantWait{})
	require.NoError(t, err)
	clock.Start()

	logger := discardLogger()
	stats := NewStats()
	stop := &atomic.Bool{}
	reaper := NewReaper(logger)
	reaper.Start()
	prep := NewPreparer(backend, testPrepare, testLookahead, testFormat,
		stats, stop, reaper.Retire, logger)
	prep.Start()

	h := &engineHarness{
		t:      t,
		clock:  clock,
		queue:  schedule.NewBlockQueue(),
		prep:   prep,
		reaper: reaper,
		sink:   &captureSink{},
		stats:  stats,
		stop:   stop,
	}
	h.m = NewManager(ManagerConfig{
		FPS:             fps,
		Format:          testFormat,
		Width:           32,
		Height:          32,
		Lookahead:       testLookahead,
		StopWhenDrained: true,
	}, clock, h.queue, prep, reaper, h.sink, stats, stop, func(reason string) {
		h.reason = reason
	}, logger)

	t.Cleanup(func() {
		stop.Store(true)
		prep.Stop()
		reaper.Stop()
	})
	return h
}

// step waits for background preparation and filling to catch up, then runs
// one tick. The waits remove wall-clock racing from the assertions; they
// model a decoder that keeps up with real time.
func (h *engineHarness) step() bool {
	h.t.Helper()
	h.m.armBlockPrep()
	settle(h.t, h.prep)
	waitFor(h.t, func() bool {
		pair := h.m.cur.pair
		if pair == nil || !pair.Video.Primed() {
			return true
		}
		return pair.Video.Depth() > 0
	}, "video buffer never refilled")
	return h.m.tick()
}

func (h *engineHarness) runToEnd(maxTicks int) {
	h.t.Helper()
	for i := 0; i < maxTicks; i++ {
		if !h.step() {
			return
		}
	}
	h.t.Fatalf("session still running after %d ticks", maxTicks)
}

func scriptedBackend(refs ...string) *decode.FakeBackend {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	for _, ref := range refs {
		backend.SetScript(ref, decode.FakeScript{Frames: -1, HasAudio: true, AudioMsPerFrame: 40})
	}
	return backend
}

func TestManager_EmitsExactFrameCountForBlock(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "a.mp4", DurationMs: 2000}))
	h.queue.Close()
	h.runToEnd(200)

	assert.Equal(t, "schedule complete", h.reason)
	assert.Len(t, h.sink.frames, 50)
	assert.Len(t, h.sink.audio, 50)
	assert.Equal(t, uint64(0), h.stats.PadFrames.Load())
}

func TestManager_FrameCountRoundsUpFractionalTail(t *testing.T) {
	// 1001ms at 30000/1001 fps is exactly 30 frame periods; 1000ms at the
	// same rate is 29.97 and must round up to 30.
	fps := timing.Rational{Num: 30000, Den: 1001}
	backend := scriptedBackend("a.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000}))
	h.queue.Close()
	h.runToEnd(200)

	assert.Len(t, h.sink.frames, 30)
}

func TestManager_SegmentSeamHasNoPadFrames(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4", "b.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t,
		schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000},
		schedule.Segment{AssetRef: "b.mp4", DurationMs: 1000},
	))
	h.queue.Close()
	h.runToEnd(200)

	require.Len(t, h.sink.frames, 50)
	assert.Equal(t, uint64(0), h.stats.PadFrames.Load())
	assert.Equal(t, uint64(0), h.stats.RepeatFrames.Load())
	assert.Equal(t, uint64(0), h.stats.SeamFallbackTicks.Load())

	// Frame 24 is the last of segment 0, frame 25 the first of segment 1.
	assert.True(t, strings.HasPrefix(string(h.sink.frames[24].Data), "a.mp4@"))
	assert.True(t, strings.HasPrefix(string(h.sink.frames[25].Data), "b.mp4@"))
	assert.Equal(t, uint64(2), h.stats.SourceSwaps.Load())

	for _, a := range h.sink.audio {
		assert.Equal(t, ProvenanceReal, a.Provenance)
	}
}

func TestManager_BlockSeamHasNoPadFrames(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4", "b.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000}))
	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "b.mp4", DurationMs: 1000}))
	h.queue.Close()
	h.runToEnd(200)

	require.Len(t, h.sink.frames, 50)
	assert.Equal(t, uint64(0), h.stats.PadFrames.Load())
	assert.True(t, strings.HasPrefix(string(h.sink.frames[24].Data), "a.mp4@"))
	assert.True(t, strings.HasPrefix(string(h.sink.frames[25].Data), "b.mp4@"))
}

func TestManager_MissingAssetPadsUntilNextSeam(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4", "c.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t,
		schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000},
		schedule.Segment{AssetRef: "ghost.mp4", DurationMs: 1000},
		schedule.Segment{AssetRef: "c.mp4", DurationMs: 1000},
	))
	h.queue.Close()
	h.runToEnd(300)

	// The session survives the missing asset and stays frame-accurate.
	assert.Equal(t, "schedule complete", h.reason)
	require.Len(t, h.sink.frames, 75)

	for n := 0; n < 25; n++ {
		assert.Equal(t, ProvenanceReal, h.sink.frames[n].Provenance, "frame %d", n)
	}
	for n := 25; n < 50; n++ {
		assert.Equal(t, ProvenancePad, h.sink.frames[n].Provenance, "frame %d", n)
	}
	for n := 50; n < 75; n++ {
		assert.Equal(t, ProvenanceReal, h.sink.frames[n].Provenance, "frame %d", n)
	}
	assert.True(t, strings.HasPrefix(string(h.sink.frames[50].Data), "c.mp4@"))
	assert.Equal(t, uint64(25), h.stats.PadFrames.Load())
	assert.Equal(t, uint64(1), h.stats.PrepFailed.Load())
}

func TestManager_PadSegmentPlaysBlackAndSilence(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t,
		schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000},
		schedule.Segment{Role: schedule.RolePad, DurationMs: 1000},
	))
	h.queue.Close()
	h.runToEnd(200)

	require.Len(t, h.sink.frames, 50)
	assert.Equal(t, ProvenancePad, h.sink.frames[30].Provenance)
	assert.Equal(t, ProvenancePad, h.sink.audio[30].Provenance)
}

func TestManager_OneFrameSegmentStillArmsSuccessor(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4", "b.mp4")
	h := newEngineHarness(t, backend, fps)

	// Segment 0 lasts a single frame period; its successor must still be
	// prepared in time because arming happens at activation, not at a
	// depth threshold.
	h.queue.Push(testBlock(t,
		schedule.Segment{AssetRef: "a.mp4", DurationMs: 40},
		schedule.Segment{AssetRef: "b.mp4", DurationMs: 960},
	))
	h.queue.Close()
	h.runToEnd(200)

	require.Len(t, h.sink.frames, 25)
	assert.Equal(t, uint64(0), h.stats.PadFrames.Load())
	assert.True(t, strings.HasPrefix(string(h.sink.frames[0].Data), "a.mp4@"))
	assert.True(t, strings.HasPrefix(string(h.sink.frames[1].Data), "b.mp4@"))
}

func TestManager_LatePreparationPadsWithoutShiftingFence(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("slow.mp4", decode.FakeScript{
		OpenDelay: 60 * time.Millisecond, Frames: -1, HasAudio: true, AudioMsPerFrame: 40,
	})
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "slow.mp4", DurationMs: 10000}))
	h.queue.Close()

	// Tick without waiting for preparation: the engine must emit pad
	// while the open is still in flight. The short sleep keeps the tick
	// count far below the 250-frame fence while the 60ms open completes.
	padTicks := 0
	for i := 0; i < 100; i++ {
		require.True(t, h.m.tick())
		if h.sink.frames[len(h.sink.frames)-1].Provenance != ProvenancePad {
			break
		}
		padTicks++
		time.Sleep(2 * time.Millisecond)
	}
	require.Greater(t, padTicks, 0)
	require.Less(t, padTicks, 100)
	assert.Greater(t, h.stats.SeamFallbackTicks.Load(), uint64(0))

	h.runToEnd(400)

	// The block was targeted at frame 0, so pad ticks consumed from its
	// allocation; the total frame count is unchanged.
	assert.Equal(t, "schedule complete", h.reason)
	assert.Len(t, h.sink.frames, 250)
}

func TestManager_VideoUnderflowTerminatesSession(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("stall.mp4", decode.FakeScript{
		Frames: -1, DecodeDelay: 200 * time.Millisecond,
		HasAudio: true, AudioMsPerFrame: 40,
	})
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "stall.mp4", DurationMs: 60000}))

	h.m.armBlockPrep()
	settle(t, h.prep)
	require.True(t, h.m.tick()) // consumes the primed frame

	// The decoder cannot keep up with instant ticks; the next pop hits a
	// primed-but-empty buffer, which is a hard fault.
	assert.False(t, h.m.tick())
	assert.Equal(t, "video lookahead underflow", h.reason)
	assert.Equal(t, uint64(1), h.m.Snapshot().VideoUnderflows)
}

func TestManager_AudioCadenceIsExactAcrossSession(t *testing.T) {
	fps := timing.Rational{Num: 30000, Den: 1001}
	backend := scriptedBackend("a.mp4")
	h := newEngineHarness(t, backend, fps)

	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "a.mp4", DurationMs: 1001}))
	h.queue.Close()
	h.runToEnd(200)

	require.Len(t, h.sink.frames, 30)
	var total int64
	for _, a := range h.sink.audio {
		assert.InDelta(t, 1601.6, float64(a.Samples), 1.0)
		total += int64(a.Samples)
	}
	// 1001ms at 48kHz is exactly 48048 samples.
	assert.Equal(t, int64(48048), total)
	assert.Equal(t, h.clock.SamplesThrough(30, int64(testFormat.SampleRate)), total)
}

func TestManager_EmptyQueueWithoutCloseKeepsPadding(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend()
	h := newEngineHarness(t, backend, fps)

	// Queue open but empty: the engine must idle on pad, not stop.
	for i := 0; i < 10; i++ {
		require.True(t, h.step())
	}
	assert.Len(t, h.sink.frames, 10)
	assert.Equal(t, uint64(10), h.stats.PadFrames.Load())
	assert.Equal(t, "", h.reason)

	// Idle padding before any block has loaded is not a seam shortfall.
	assert.Equal(t, uint64(0), h.stats.SeamFallbackTicks.Load())
}

func TestManager_BlockArrivingAfterStarvationStillPlays(t *testing.T) {
	fps := timing.Rational{Num: 25, Den: 1}
	backend := scriptedBackend("a.mp4")
	h := newEngineHarness(t, backend, fps)

	// Starve for 50 ticks on an open queue, then deliver a 1s block. Its
	// activation must land at the current tick, not at frame zero, so all
	// 25 content frames still play before the fence.
	for i := 0; i < 50; i++ {
		require.True(t, h.step())
	}
	h.queue.Push(testBlock(t, schedule.Segment{AssetRef: "a.mp4", DurationMs: 1000}))
	h.queue.Close()
	h.runToEnd(200)

	assert.Equal(t, "schedule complete", h.reason)

	var real int
	for _, f := range h.sink.frames {
		if f.Provenance == ProvenanceReal {
			real++
		}
	}
	assert.Equal(t, 25, real)
	assert.GreaterOrEqual(t, len(h.sink.frames), 75)
}
