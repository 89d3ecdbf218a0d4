package playout

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/schedule"
)

// ProducerState is the lifecycle state of a Producer.
type ProducerState int

const (
	// ProducerEmpty means no source is assigned.
	ProducerEmpty ProducerState = iota
	// ProducerReady means a source is assigned. The decoder may or may not
	// have opened successfully; a failed open leaves a Ready producer that
	// yields no frames, which the scheduler resolves with pad output.
	ProducerReady
)

// Producer wraps one open decode source and advances it frame by frame on
// demand. Assign runs only on the preparer goroutine (it blocks on
// open/probe/seek); TryGetFrame runs only on a fill goroutine and never
// performs decoder lifecycle operations. Segment advancement is exclusively
// the scheduler's job via the unified swap, never the producer's.
type Producer struct {
	backend decode.Backend

	state    ProducerState
	source   decode.Source
	blockID  string
	segIndex int
	assetRef string
	openErr  error

	interrupt atomic.Bool

	primedFrames []*decode.Frame
	primedAudio  []*decode.AudioChunk
	primedMs     int
	primedEmpty  bool

	decodeFailed bool
}

// NewProducer creates an empty producer bound to a decode backend.
func NewProducer(backend decode.Backend) *Producer {
	return &Producer{backend: backend}
}

// State returns the producer's lifecycle state.
func (p *Producer) State() ProducerState {
	return p.state
}

// OpenErr returns the error from source open/seek, if any.
func (p *Producer) OpenErr() error {
	return p.openErr
}

// BlockID and SegIndex identify the segment position this producer serves.
func (p *Producer) BlockID() string { return p.blockID }

// SegIndex returns the segment index this producer was assigned.
func (p *Producer) SegIndex() int { return p.segIndex }

// Interrupt aborts any blocking decode operation as soon as practical. A
// call that never returns leaks this producer's goroutine until process
// exit; that is accepted as a bounded tradeoff.
func (p *Producer) Interrupt() {
	p.interrupt.Store(true)
}

// Assign probes and opens the decode source for one segment and seeks to
// its start offset. Entirely synchronous; preparer goroutine only. A pad
// segment assigns no source: the producer is Ready but frameless, so the
// scheduler pads for its whole duration.
//
// openTimeout > 0 bounds open+seek; on expiry the source is interrupted and
// abandoned. Zero means unbounded.
func (p *Producer) Assign(block *schedule.Block, segIndex int, openTimeout time.Duration) error {
	if p.state != ProducerEmpty {
		return fmt.Errorf("playout: Assign on non-empty producer")
	}
	seg := block.Segments[segIndex]
	p.state = ProducerReady
	p.blockID = block.ID
	p.segIndex = segIndex
	p.assetRef = seg.AssetRef

	if seg.Role == schedule.RolePad || seg.AssetRef == "" {
		return nil
	}

	source, err := p.backend.NewSource(seg.AssetRef)
	if err != nil {
		p.openErr = fmt.Errorf("creating source for %q: %w", seg.AssetRef, err)
		return p.openErr
	}
	source.SetInterrupt(&p.interrupt)

	open := func() error {
		if err := source.Open(); err != nil {
			return fmt.Errorf("opening %q: %w", seg.AssetRef, err)
		}
		if err := source.SeekTo(seg.StartOffsetMs); err != nil {
			return fmt.Errorf("seeking %q to %dms: %w", seg.AssetRef, seg.StartOffsetMs, err)
		}
		return nil
	}

	if openTimeout <= 0 {
		if err := open(); err != nil {
			p.openErr = err
			return err
		}
		p.source = source
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- open() }()
	select {
	case err := <-done:
		if err != nil {
			p.openErr = err
			return err
		}
		p.source = source
		return nil
	case <-time.After(openTimeout):
		p.interrupt.Store(true)
		p.openErr = fmt.Errorf("opening %q: timed out after %v", seg.AssetRef, openTimeout)
		return p.openErr
	}
}

// PrimeFirstTick decodes the first video frame and accumulates audio until
// minAudioMs is met or the wall-clock budget expires. Extra decoded video
// is buffered internally for later TryGetFrame calls. An asset with no
// audio track satisfies the audio requirement vacuously, so readiness never
// waits on audio that cannot exist. Returns the achieved audio depth in
// milliseconds. Preparer goroutine only.
func (p *Producer) PrimeFirstTick(minAudioMs int, budget time.Duration, format AudioFormat) int {
	if p.source == nil || p.openErr != nil {
		p.primedEmpty = true
		return 0
	}
	if !p.source.HasAudioTrack() {
		minAudioMs = 0
		p.primedEmpty = true
	}

	deadline := time.Now().Add(budget)
	for {
		haveFrame := len(p.primedFrames) > 0
		if haveFrame && p.primedMs >= minAudioMs {
			return p.primedMs
		}
		if time.Now().After(deadline) || p.interrupt.Load() {
			return p.primedMs
		}
		if p.source.IsEndOfStream() {
			return p.primedMs
		}

		frame, err := p.source.DecodeNextFrame()
		if err != nil {
			p.decodeFailed = true
			return p.primedMs
		}
		if frame == nil {
			return p.primedMs
		}
		p.primedFrames = append(p.primedFrames, frame)
		for {
			chunk, ok := p.source.PendingAudio()
			if !ok {
				break
			}
			p.primedAudio = append(p.primedAudio, chunk)
			p.primedMs += format.MillisForBytes(len(chunk.Data))
		}
	}
}

// Primed reports whether the producer holds at least one decoded frame, or
// was vacuously primed (pad segment, failed open, or no audio track with a
// frame already decoded).
func (p *Producer) Primed() bool {
	return len(p.primedFrames) > 0 || (p.primedEmpty && p.source == nil)
}

// PrimedAudioMs returns the audio depth achieved by priming.
func (p *Producer) PrimedAudioMs() int {
	return p.primedMs
}

// TakePrimed hands over the internally buffered primed frames and audio.
// Called once by the fill goroutine before its decode loop; involves no
// blocking.
func (p *Producer) TakePrimed() ([]*decode.Frame, []*decode.AudioChunk) {
	frames, audio := p.primedFrames, p.primedAudio
	p.primedFrames, p.primedAudio = nil, nil
	return frames, audio
}

// TryGetFrame decodes exactly the next frame for the current segment
// position, returning it with any audio decoded alongside. It returns
// (nil, nil) on segment exhaustion or decode failure. It never opens,
// closes, or seeks, and never advances to the next segment. Fill goroutine
// only.
func (p *Producer) TryGetFrame() (*decode.Frame, []*decode.AudioChunk) {
	if len(p.primedFrames) > 0 {
		frame := p.primedFrames[0]
		p.primedFrames = p.primedFrames[1:]
		audio := p.primedAudio
		p.primedAudio = nil
		return frame, audio
	}
	if p.decodeFailed || p.source == nil || p.openErr != nil || p.source.IsEndOfStream() {
		return nil, nil
	}

	frame, err := p.source.DecodeNextFrame()
	if err != nil {
		p.decodeFailed = true
		return nil, nil
	}
	if frame == nil {
		return nil, nil
	}
	var audio []*decode.AudioChunk
	for {
		chunk, ok := p.source.PendingAudio()
		if !ok {
			break
		}
		audio = append(audio, chunk)
	}
	return frame, audio
}

// DecodeFailed reports whether a decode call on this producer has failed.
// A failed producer behaves as exhausted from then on.
func (p *Producer) DecodeFailed() bool {
	return p.decodeFailed
}

// Close releases the underlying source. Reaper or preparer goroutine only;
// Close may block on decoder teardown.
func (p *Producer) Close() error {
	p.state = ProducerEmpty
	if p.source == nil {
		return nil
	}
	source := p.source
	p.source = nil
	return source.Close()
}
