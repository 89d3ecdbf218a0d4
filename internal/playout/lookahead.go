package playout

import (
	"sync"
	"sync/atomic"
)

// videoUnit is one queued frame with its provenance.
type videoUnit struct {
	data       []byte
	provenance Provenance
}

// audioUnit is a queued span of PCM bytes with its provenance. The head
// unit may be partially consumed; off tracks how far.
type audioUnit struct {
	data       []byte
	provenance Provenance
	off        int
}

// VideoLookahead is the bounded frame queue between a fill goroutine and
// the tick loop. Pushes carrying a stale generation are dropped, guarding
// against a lingering fill goroutine from a just-stopped fill. Once the
// buffer has been primed (one unit ever pushed), a failed TryPop is an
// underflow: a hard fault the caller must surface, never patch.
type VideoLookahead struct {
	mu    sync.Mutex
	units []videoUnit

	low    int
	target int

	primed     bool
	generation atomic.Uint64
	underflows atomic.Uint64
}

// NewVideoLookahead creates a buffer with the given low/target watermarks.
func NewVideoLookahead(low, target int) *VideoLookahead {
	return &VideoLookahead{
		units:  make([]videoUnit, 0, target+1),
		low:    low,
		target: target,
	}
}

// Generation returns the buffer's current generation.
func (b *VideoLookahead) Generation() uint64 {
	return b.generation.Load()
}

// BumpGeneration invalidates all in-flight pushes from older fills.
func (b *VideoLookahead) BumpGeneration() {
	b.generation.Add(1)
}

// Push enqueues one frame. Returns false when gen is stale; the unit is
// dropped. Producer (fill goroutine) side only. Depth bounding is the fill
// loop's job: it stops decoding at the target watermark, so overshoot is at
// most one unit.
func (b *VideoLookahead) Push(u videoUnit, gen uint64) bool {
	if gen != b.generation.Load() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units = append(b.units, u)
	b.primed = true
	return true
}

// TryPop dequeues one frame without blocking. Consumer (tick loop) side
// only. Returns false on an empty buffer; if the buffer was primed, that
// is an underflow and is counted.
func (b *VideoLookahead) TryPop() (videoUnit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.units) == 0 {
		if b.primed {
			b.underflows.Add(1)
		}
		return videoUnit{}, false
	}
	u := b.units[0]
	copy(b.units, b.units[1:])
	b.units = b.units[:len(b.units)-1]
	return u, true
}

// Depth returns the number of queued frames.
func (b *VideoLookahead) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.units)
}

// Target returns the target (high-water) depth.
func (b *VideoLookahead) Target() int {
	return b.target
}

// Primed reports whether any unit has ever been pushed.
func (b *VideoLookahead) Primed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primed
}

// LowWater reports whether depth is at or below the low watermark.
func (b *VideoLookahead) LowWater() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.units) <= b.low
}

// Underflows returns the number of failed pops after priming.
func (b *VideoLookahead) Underflows() uint64 {
	return b.underflows.Load()
}

// AudioLookahead is the audio counterpart: an ordered queue of PCM spans.
// Samples are popped by count; a pop that does not align with unit
// boundaries splits the head unit.
type AudioLookahead struct {
	mu    sync.Mutex
	units []audioUnit
	bytes int

	format      AudioFormat
	targetBytes int

	primed     bool
	generation atomic.Uint64
	underflows atomic.Uint64
}

// NewAudioLookahead creates a buffer targeting targetMs of queued audio.
func NewAudioLookahead(targetMs int, format AudioFormat) *AudioLookahead {
	return &AudioLookahead{
		units:       make([]audioUnit, 0, 64),
		format:      format,
		targetBytes: format.BytesForMillis(targetMs),
	}
}

// Generation returns the buffer's current generation.
func (b *AudioLookahead) Generation() uint64 {
	return b.generation.Load()
}

// BumpGeneration invalidates all in-flight pushes from older fills.
func (b *AudioLookahead) BumpGeneration() {
	b.generation.Add(1)
}

// Push enqueues one span of PCM bytes. Stale generations are dropped. As
// with video, the fill loop enforces the target depth.
func (b *AudioLookahead) Push(u audioUnit, gen uint64) bool {
	if gen != b.generation.Load() || len(u.data) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units = append(b.units, u)
	b.bytes += len(u.data)
	b.primed = true
	return true
}

// PopSamplesInto fills dst with queued audio, splitting the head unit when
// the request does not align with unit boundaries. It returns the number of
// bytes written and the provenance of the span: ProvenanceReal only if every
// byte was real, otherwise the first synthetic provenance encountered.
//
// A short read after the buffer has been primed is counted as an underflow;
// the caller substitutes fallback silence for the remainder.
func (b *AudioLookahead) PopSamplesInto(dst []byte) (int, Provenance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	provenance := ProvenanceReal
	for written < len(dst) && len(b.units) > 0 {
		head := &b.units[0]
		n := copy(dst[written:], head.data[head.off:])
		written += n
		head.off += n
		if head.provenance != ProvenanceReal && provenance == ProvenanceReal {
			provenance = head.provenance
		}
		if head.off >= len(head.data) {
			copy(b.units, b.units[1:])
			b.units = b.units[:len(b.units)-1]
		}
	}
	b.bytes -= written

	if written < len(dst) && b.primed {
		b.underflows.Add(1)
	}
	return written, provenance
}

// DepthBytes returns the number of queued PCM bytes.
func (b *AudioLookahead) DepthBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// DepthMillis returns the queued depth in milliseconds.
func (b *AudioLookahead) DepthMillis() int {
	return b.format.MillisForBytes(b.DepthBytes())
}

// Primed reports whether any unit has ever been pushed.
func (b *AudioLookahead) Primed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primed
}

// Full reports whether the buffer is at or above its target depth.
func (b *AudioLookahead) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes >= b.targetBytes
}

// Underflows returns the number of short pops after priming.
func (b *AudioLookahead) Underflows() uint64 {
	return b.underflows.Load()
}
