package playout

import (
	"sync"
	"sync/atomic"
	"time"
)

// fillIdleSleep is how long the fill goroutine sleeps when its buffers are
// at target depth or its producer is exhausted.
const fillIdleSleep = 2 * time.Millisecond

// LookaheadConfig sizes a buffer pair.
type LookaheadConfig struct {
	VideoLow      int
	VideoTarget   int
	AudioTargetMs int
}

// BufferPair is one video+audio lookahead pair bound to a single producer's
// fill goroutine. Pairs are created by the seam preparer, promoted to
// "current" by the scheduler at swap, and handed to the reaper afterwards.
type BufferPair struct {
	Video *VideoLookahead
	Audio *AudioLookahead

	format AudioFormat
	stats  *Stats

	mu       sync.Mutex
	filling  bool
	stop     atomic.Bool
	done     chan struct{}
	producer *Producer
}

// NewBufferPair creates an empty pair.
func NewBufferPair(cfg LookaheadConfig, format AudioFormat, stats *Stats) *BufferPair {
	return &BufferPair{
		Video:  NewVideoLookahead(cfg.VideoLow, cfg.VideoTarget),
		Audio:  NewAudioLookahead(cfg.AudioTargetMs, format),
		format: format,
		stats:  stats,
	}
}

// StartFilling drains the producer's pre-primed frames and audio
// synchronously (no blocking work), then spawns the fill goroutine that
// keeps both buffers at target depth. sessionStop is the session-wide
// cooperative stop flag.
func (p *BufferPair) StartFilling(producer *Producer, sessionStop *atomic.Bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filling {
		panic("playout: StartFilling on already-filling pair")
	}
	p.filling = true
	p.producer = producer
	p.done = make(chan struct{})
	p.stop.Store(false)

	gen := p.Video.Generation()
	frames, audio := producer.TakePrimed()
	for _, f := range frames {
		p.Video.Push(videoUnit{data: f.Data, provenance: ProvenanceReal}, gen)
	}
	for _, a := range audio {
		p.Audio.Push(audioUnit{data: a.Data, provenance: ProvenanceReal}, gen)
	}

	go p.fillLoop(producer, gen, sessionStop)
}

// fillLoop keeps the pair at target depth. It blocks only on its own decode
// call and on buffer-full backpressure; it never performs decoder open,
// close, or seek. On segment exhaustion it holds the last frame and queues
// silence so cadence never breaks before the scheduler swaps.
func (p *BufferPair) fillLoop(producer *Producer, gen uint64, sessionStop *atomic.Bool) {
	defer close(p.done)

	var lastFrame []byte
	failureCounted := false

	for {
		if p.stop.Load() || (sessionStop != nil && sessionStop.Load()) {
			return
		}

		// Video depth gates decoding; audio arrives attached to frames, so
		// chasing a lagging audio target would overfill video unboundedly
		// (a silent asset never reaches the audio target at all).
		videoFull := p.Video.Depth() >= p.Video.Target()
		if videoFull {
			time.Sleep(fillIdleSleep)
			continue
		}

		start := time.Now()
		frame, chunks := producer.TryGetFrame()
		if frame != nil {
			if p.stats != nil {
				p.stats.RecordDecodeLatency(time.Since(start))
			}
			lastFrame = frame.Data
			p.Video.Push(videoUnit{data: frame.Data, provenance: ProvenanceReal}, gen)
			for _, c := range chunks {
				p.Audio.Push(audioUnit{data: c.Data, provenance: ProvenanceReal}, gen)
			}
			continue
		}

		if producer.DecodeFailed() && !failureCounted {
			failureCounted = true
			if p.stats != nil {
				p.stats.DecodeFailures.Add(1)
			}
		}

		// Exhausted. Hold the last frame and queue silence rather than
		// touching decoder lifecycle; the swap retires this pair. Silence
		// is queued only if the source ever produced audio, preserving the
		// unprimed state of by-design silent assets.
		if lastFrame != nil {
			p.Video.Push(videoUnit{data: lastFrame, provenance: ProvenanceRepeat}, gen)
			if p.Audio.Primed() && !p.Audio.Full() {
				p.Audio.Push(audioUnit{
					data:       make([]byte, p.format.BytesForMillis(20)),
					provenance: ProvenancePad,
				}, gen)
			}
			continue
		}
		time.Sleep(fillIdleSleep)
	}
}

// Filling reports whether a fill goroutine is active.
func (p *BufferPair) Filling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filling && p.done != nil
}

// StopFilling signals the fill goroutine and waits for it to exit.
// Never called from the tick loop; use StopFillingAsync there.
func (p *BufferPair) StopFilling() {
	done := p.StopFillingAsync()
	if done != nil {
		<-done
	}
}

// StopFillingAsync signals the fill goroutine to exit and returns its done
// channel for the reaper to wait on off the hot path. The buffers'
// generations are bumped so any straggling push from the old goroutine is
// dropped. Returns nil if no fill was active.
func (p *BufferPair) StopFillingAsync() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.filling {
		return nil
	}
	p.filling = false
	p.stop.Store(true)
	p.Video.BumpGeneration()
	p.Audio.BumpGeneration()
	return p.done
}
