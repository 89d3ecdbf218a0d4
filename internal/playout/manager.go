package playout

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/playoutd/internal/schedule"
	"github.com/jmylchreest/playoutd/internal/timing"
)

// ManagerConfig configures the tick scheduler.
type ManagerConfig struct {
	FPS       timing.Rational
	Format    AudioFormat
	Width     int
	Height    int
	Lookahead LookaheadConfig
	// StopWhenDrained ends the session cleanly once the block queue is
	// closed, empty, and the last fence has passed. When false the session
	// pads indefinitely, logging the starvation.
	StopWhenDrained bool
}

// current is the scheduler's exclusively-owned active source state. Only
// the tick goroutine ever reads or writes these pointers, so the unified
// swap is a plain reassignment with no contested lock.
type current struct {
	producer *Producer
	pair     *BufferPair
	block    *schedule.Block

	segIndex        int
	activationFrame int64
	fenceFrame      int64
	// segSeamFrame is the next intra-block seam; equals fenceFrame when
	// the current segment is the block's last.
	segSeamFrame int64
	// segSeamTo is the segment index the seam transitions into.
	segSeamTo int
}

// Manager owns the tick loop: every output tick it decides which source
// supplies the frame (current content, an overlap-prepared incoming source,
// or pad), pops exactly one frame, hands it to the sink, and arms future
// preparation. The tick goroutine never performs I/O, decoder lifecycle
// work, or steady-state heap allocation.
type Manager struct {
	cfg    ManagerConfig
	clock  *timing.TickClock
	queue  *schedule.BlockQueue
	prep   *Preparer
	reaper *Reaper
	pad    *PadSource
	sink   Sink
	stats  *Stats
	logger *slog.Logger

	stop        *atomic.Bool
	onTerminate func(reason string)

	frameIndex int64
	loaded     bool
	cur        current

	// nextBlock has been popped from the queue and handed to the preparer.
	nextBlock *schedule.Block

	audioScratch []byte

	// activePair mirrors cur.pair for snapshot readers on other
	// goroutines; retired underflow counts accumulate as pairs retire.
	activePair             atomic.Pointer[BufferPair]
	retiredVideoUnderflows atomic.Uint64
	retiredAudioUnderflows atomic.Uint64

	terminated  bool
	drainLogged bool
}

// NewManager wires a tick scheduler. onTerminate is invoked (on the tick
// goroutine) with a reason when the session ends, whether by structural
// fault or clean drain.
func NewManager(cfg ManagerConfig, clock *timing.TickClock, queue *schedule.BlockQueue,
	prep *Preparer, reaper *Reaper, sink Sink, stats *Stats,
	stop *atomic.Bool, onTerminate func(string), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	// Per-tick sample counts vary by at most one around the mean; +2
	// covers the ceiling for any rational rate.
	maxTickSamples := int(int64(cfg.Format.SampleRate)*cfg.FPS.Den/cfg.FPS.Num) + 2
	return &Manager{
		cfg:          cfg,
		clock:        clock,
		queue:        queue,
		prep:         prep,
		reaper:       reaper,
		pad:          NewPadSource(cfg.Width, cfg.Height, cfg.Format),
		sink:         sink,
		stats:        stats,
		stop:         stop,
		onTerminate:  onTerminate,
		logger:       logger,
		audioScratch: make([]byte, maxTickSamples*cfg.Format.BytesPerSample()),
	}
}

// Run drives the tick loop until the session stops. The only blocking
// operation inside the loop is the deadline wait.
func (m *Manager) Run(ctx context.Context) {
	// Arm the first block before the first deadline so a ready schedule
	// starts with content rather than a pad tick.
	m.armBlockPrep()
	for {
		if m.stop.Load() || ctx.Err() != nil {
			return
		}
		m.clock.WaitForTick(m.frameIndex)
		if m.stop.Load() || ctx.Err() != nil {
			return
		}
		if !m.tick() {
			return
		}
	}
}

// FrameIndex returns the next frame index to be emitted.
func (m *Manager) FrameIndex() int64 {
	return m.frameIndex
}

// tick runs one iteration of the state machine and reports whether the
// session continues.
func (m *Manager) tick() bool {
	n := m.frameIndex

	// Keep block preparation armed every tick; the queue may have been
	// empty on earlier attempts.
	m.armBlockPrep()

	if !m.loaded {
		result := m.prep.TakeBlockResult()
		if result == nil {
			if m.sessionDrained() {
				m.terminate("schedule complete")
				return false
			}
			if m.nextBlock != nil {
				// An armed first block that is not ready yet is a
				// genuine seam shortfall.
				m.padFallbackTick(n)
			} else {
				m.padIdleTick(n)
			}
			return !m.terminated
		}
		m.promoteBlock(result)
	}

	if n >= m.nextSeamFrame() {
		if !m.handleSeam(n) {
			return !m.terminated
		}
	}

	m.emitCurrentTick(n)
	m.frameIndex++
	return !m.terminated
}

// nextSeamFrame is the unified next transition point.
func (m *Manager) nextSeamFrame() int64 {
	if m.cur.segSeamFrame < m.cur.fenceFrame {
		return m.cur.segSeamFrame
	}
	return m.cur.fenceFrame
}

// handleSeam executes a due seam: segment or block, whichever fence comes
// first. A not-ready seam is never fatal; pad substitutes for this tick and
// the swap is retried next tick. Returns false if the tick was consumed.
func (m *Manager) handleSeam(n int64) bool {
	blockSeam := m.cur.fenceFrame <= m.cur.segSeamFrame

	if blockSeam {
		result := m.prep.TakeBlockResult()
		if result == nil {
			if m.sessionDrained() {
				m.terminate("schedule complete")
				return false
			}
			if !m.drainLogged && m.nextBlock == nil && m.queue.Len() == 0 {
				m.drainLogged = true
				m.logger.Warn("block queue empty at fence, padding",
					slog.Int64("frame", n))
			}
			m.padFallbackTick(n)
			return false
		}
		m.swapInBlock(result)
		return true
	}

	result := m.prep.TakeSegmentResult()
	if result != nil && !m.segmentResultMatches(result) {
		// A stale artifact from a superseded schedule position; discard
		// and keep waiting for the right one.
		m.reaper.Retire(result.Pair, result.Producer)
		result = nil
	}
	if result == nil {
		m.padFallbackTick(n)
		return false
	}
	m.swapInSegment(result)
	return true
}

func (m *Manager) segmentResultMatches(r *Prepared) bool {
	return r.Request.Block.ID == m.cur.block.ID && r.Request.SegIndex == m.cur.segSeamTo
}

// padFallbackTick emits pad for a seam that was not ready.
func (m *Manager) padFallbackTick(n int64) {
	m.emitPadTick(n)
	m.frameIndex++
	if m.stats != nil {
		m.stats.SeamFallbackTicks.Add(1)
	}
}

// padIdleTick emits pad while the queue is starved and nothing is armed.
// No seam is due, so the seam-fallback counter is left alone.
func (m *Manager) padIdleTick(n int64) {
	m.emitPadTick(n)
	m.frameIndex++
}

// promoteBlock installs a prepared block with no outgoing source. loaded
// flips first so successor arming inside installBlock targets the new
// fence.
func (m *Manager) promoteBlock(result *Prepared) {
	m.loaded = true
	m.installBlock(result)
}

// swapInBlock is the unified swap for a block fence: retire outgoing,
// promote incoming, recompute seams, arm successors.
func (m *Manager) swapInBlock(result *Prepared) {
	m.retireCurrent()
	m.installBlock(result)
}

// installBlock makes the prepared block's first segment current and arms
// preparation for its successor immediately — never deferred on segment
// duration, type, or proximity to the fence.
func (m *Manager) installBlock(result *Prepared) {
	block := result.Request.Block
	activation := result.Request.TargetFrame

	m.cur = current{
		producer:        result.Producer,
		pair:            result.Pair,
		block:           block,
		segIndex:        result.Request.SegIndex,
		activationFrame: activation,
	}
	m.cur.fenceFrame = blockFenceFrame(activation, block, m.cfg.FPS)
	m.recomputeSegmentSeam()
	m.activePair.Store(result.Pair)

	m.nextBlock = nil
	m.drainLogged = false
	if m.stats != nil {
		m.stats.SourceSwaps.Add(1)
	}
	m.logger.Info("block active",
		slog.String("block_id", block.ID),
		slog.Int64("activation_frame", activation),
		slog.Int64("fence_frame", m.cur.fenceFrame),
		slog.Int("segments", len(block.Segments)))

	// Drop queued preparation that belonged to the outgoing block; any
	// already-published stale artifact is caught at take time.
	m.prep.DropStaleSegments(block.ID)

	m.armSegmentPrep()
	m.armBlockPrep()
}

// swapInSegment is the unified swap for an intra-block seam.
func (m *Manager) swapInSegment(result *Prepared) {
	m.retireCurrent()

	block, activation := m.cur.block, m.cur.activationFrame
	fence := m.cur.fenceFrame
	m.cur = current{
		producer:        result.Producer,
		pair:            result.Pair,
		block:           block,
		segIndex:        result.Request.SegIndex,
		activationFrame: activation,
		fenceFrame:      fence,
	}
	m.recomputeSegmentSeam()
	m.activePair.Store(result.Pair)

	if m.stats != nil {
		m.stats.SourceSwaps.Add(1)
	}
	m.logger.Debug("segment active",
		slog.String("block_id", block.ID),
		slog.Int("segment", m.cur.segIndex),
		slog.Int64("seam_frame", m.cur.segSeamFrame))

	m.armSegmentPrep()
}

// recomputeSegmentSeam derives the next intra-block seam from the current
// segment's precomputed boundary. Seam frames are immutable once set: this
// runs only at swap, never mid-segment.
func (m *Manager) recomputeSegmentSeam() {
	boundaries := m.cur.block.Boundaries()
	if m.cur.segIndex+1 < len(boundaries) {
		m.cur.segSeamFrame = segmentSeamFrame(m.cur.activationFrame, boundaries[m.cur.segIndex], m.cfg.FPS)
		m.cur.segSeamTo = m.cur.segIndex + 1
	} else {
		m.cur.segSeamFrame = m.cur.fenceFrame
		m.cur.segSeamTo = m.cur.segIndex
	}
}

// retireCurrent hands the outgoing pair and producer to the reaper; the
// tick goroutine never blocks on teardown.
func (m *Manager) retireCurrent() {
	if m.cur.pair != nil {
		m.retiredVideoUnderflows.Add(m.cur.pair.Video.Underflows())
		m.retiredAudioUnderflows.Add(m.cur.pair.Audio.Underflows())
	}
	m.activePair.Store(nil)
	m.reaper.Retire(m.cur.pair, m.cur.producer)
	m.cur.pair = nil
	m.cur.producer = nil
}

// armSegmentPrep submits preparation for the successor segment the instant
// the current segment becomes active. This unconditional arming maximizes
// the overlap window and is the precondition for every readiness guarantee.
func (m *Manager) armSegmentPrep() {
	next := m.cur.segIndex + 1
	if next >= len(m.cur.block.Segments) {
		return
	}
	boundaries := m.cur.block.Boundaries()
	m.prep.Submit(PrepareRequest{
		Type:        SeamSegment,
		TargetFrame: segmentSeamFrame(m.cur.activationFrame, boundaries[m.cur.segIndex], m.cfg.FPS),
		Block:       m.cur.block,
		SegIndex:    next,
	})
}

// armBlockPrep pops the next block from the queue (when available) and
// submits its preparation targeting the current fence. Retried every tick
// while the queue is empty.
func (m *Manager) armBlockPrep() {
	if m.nextBlock != nil {
		return
	}
	block, ok := m.queue.TryPop()
	if !ok {
		return
	}
	// Target the current fence, clamped to the present: after queue
	// starvation the fence (or frame zero, before any block loaded) is
	// already behind the tick position, and a past-dated activation
	// would put the new block's entire allocation in the past.
	target := m.frameIndex
	if m.loaded && m.cur.fenceFrame > target {
		target = m.cur.fenceFrame
	}
	m.nextBlock = block
	m.prep.Submit(PrepareRequest{
		Type:        SeamBlock,
		TargetFrame: target,
		Block:       block,
		SegIndex:    0,
	})
}

// sessionDrained reports that no content remains anywhere.
func (m *Manager) sessionDrained() bool {
	return m.cfg.StopWhenDrained && m.nextBlock == nil && m.queue.Drained()
}

// emitCurrentTick pops one frame and this tick's audio from the current
// pair. An empty-but-never-primed buffer means the source legitimately has
// nothing (pad segment, failed open) and pad substitutes; an empty primed
// buffer is an underflow, a structural fault that ends the session.
func (m *Manager) emitCurrentTick(n int64) {
	unit, ok := m.cur.pair.Video.TryPop()
	if !ok {
		if m.cur.pair.Video.Primed() {
			m.terminate("video lookahead underflow")
			return
		}
		m.emitPadTick(n)
		return
	}

	if m.stats != nil {
		m.stats.FramesEmitted.Add(1)
		if unit.provenance == ProvenanceRepeat {
			m.stats.RepeatFrames.Add(1)
		}
	}
	if err := m.sink.WriteFrame(OutFrame{
		FrameIndex: n,
		PTS:        m.clock.PTS(n),
		Data:       unit.data,
		Provenance: unit.provenance,
	}); err != nil {
		m.terminate("sink write failed: " + err.Error())
		return
	}

	m.emitAudioTick(n, m.cur.pair.Audio)
}

// emitAudioTick assembles exactly this tick's sample count, splitting
// buffered units as needed and substituting fallback silence for any
// shortfall from a primed buffer (pad silence from a never-primed one).
func (m *Manager) emitAudioTick(n int64, buf *AudioLookahead) {
	rate := int64(m.cfg.Format.SampleRate)
	samples := int(m.clock.SamplesThrough(n+1, rate) - m.clock.SamplesThrough(n, rate))
	scratch := m.audioScratch[:samples*m.cfg.Format.BytesPerSample()]

	got, provenance := buf.PopSamplesInto(scratch)
	if got < len(scratch) {
		clear(scratch[got:])
		if buf.Primed() {
			provenance = ProvenanceFallbackSilence
			if m.stats != nil {
				m.stats.AudioFallbackTicks.Add(1)
			}
		} else {
			provenance = ProvenancePad
		}
	}

	if err := m.sink.WriteAudio(OutAudio{
		PTS:        m.clock.PTS(n),
		Data:       scratch,
		Samples:    samples,
		Provenance: provenance,
	}); err != nil {
		m.terminate("sink write failed: " + err.Error())
	}
}

// emitPadTick emits one black frame and its silence.
func (m *Manager) emitPadTick(n int64) {
	if m.stats != nil {
		m.stats.FramesEmitted.Add(1)
		m.stats.PadFrames.Add(1)
	}
	if err := m.sink.WriteFrame(OutFrame{
		FrameIndex: n,
		PTS:        m.clock.PTS(n),
		Data:       m.pad.Frame(),
		Provenance: ProvenancePad,
	}); err != nil {
		m.terminate("sink write failed: " + err.Error())
		return
	}

	rate := int64(m.cfg.Format.SampleRate)
	samples := int(m.clock.SamplesThrough(n+1, rate) - m.clock.SamplesThrough(n, rate))
	if err := m.sink.WriteAudio(OutAudio{
		PTS:        m.clock.PTS(n),
		Data:       m.pad.Silence(samples),
		Samples:    samples,
		Provenance: ProvenancePad,
	}); err != nil {
		m.terminate("sink write failed: " + err.Error())
	}
}

// terminate ends the session with a reason. Idempotent.
func (m *Manager) terminate(reason string) {
	if m.terminated {
		return
	}
	m.terminated = true
	m.stop.Store(true)
	m.logger.Info("session ending", slog.String("reason", reason))
	if m.onTerminate != nil {
		m.onTerminate(reason)
	}
}

// Snapshot returns the stats snapshot including live buffer depths and
// cumulative underflow counts. Safe to call from any goroutine.
func (m *Manager) Snapshot() Snapshot {
	snap := m.stats.Snapshot()
	snap.VideoUnderflows = m.retiredVideoUnderflows.Load()
	snap.AudioUnderflows = m.retiredAudioUnderflows.Load()
	if pair := m.activePair.Load(); pair != nil {
		snap.VideoUnderflows += pair.Video.Underflows()
		snap.AudioUnderflows += pair.Audio.Underflows()
		snap.VideoDepth = pair.Video.Depth()
		snap.AudioDepthMs = pair.Audio.DepthMillis()
	}
	return snap
}
