package playout

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// decodeLatencyWindow is how many decode-latency samples are kept for
// percentile snapshots.
const decodeLatencyWindow = 512

// Stats tracks passive, read-only observability counters for one session.
// Nothing here feeds back into scheduling decisions.
type Stats struct {
	FramesEmitted      atomic.Uint64
	PadFrames          atomic.Uint64
	RepeatFrames       atomic.Uint64
	SourceSwaps        atomic.Uint64
	PrepStarted        atomic.Uint64
	PrepReady          atomic.Uint64
	PrepFailed         atomic.Uint64
	SeamFallbackTicks  atomic.Uint64
	AudioFallbackTicks atomic.Uint64
	DecodeFailures     atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	latIdx    int
	latFull   bool
}

// NewStats creates a stats tracker.
func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, decodeLatencyWindow)}
}

// RecordDecodeLatency adds one decode-latency sample to the window.
func (s *Stats) RecordDecodeLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[s.latIdx] = d
	s.latIdx++
	if s.latIdx == len(s.latencies) {
		s.latIdx = 0
		s.latFull = true
	}
}

// LatencyPercentiles is a snapshot of the decode-latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Snapshot is a point-in-time copy of all counters. Buffer depths are
// filled in by the manager at snapshot time.
type Snapshot struct {
	FramesEmitted      uint64
	PadFrames          uint64
	RepeatFrames       uint64
	SourceSwaps        uint64
	PrepStarted        uint64
	PrepReady          uint64
	PrepFailed         uint64
	SeamFallbackTicks  uint64
	AudioFallbackTicks uint64
	VideoUnderflows    uint64
	AudioUnderflows    uint64
	DecodeFailures     uint64
	VideoDepth         int
	AudioDepthMs       int
	DecodeLatency      LatencyPercentiles
}

// Snapshot returns a copy of the counters and latency percentiles.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		FramesEmitted:      s.FramesEmitted.Load(),
		PadFrames:          s.PadFrames.Load(),
		RepeatFrames:       s.RepeatFrames.Load(),
		SourceSwaps:        s.SourceSwaps.Load(),
		PrepStarted:        s.PrepStarted.Load(),
		PrepReady:          s.PrepReady.Load(),
		PrepFailed:         s.PrepFailed.Load(),
		SeamFallbackTicks:  s.SeamFallbackTicks.Load(),
		AudioFallbackTicks: s.AudioFallbackTicks.Load(),
		DecodeFailures:     s.DecodeFailures.Load(),
	}

	s.mu.Lock()
	n := s.latIdx
	if s.latFull {
		n = len(s.latencies)
	}
	samples := make([]time.Duration, n)
	copy(samples, s.latencies[:n])
	s.mu.Unlock()

	if n > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		snap.DecodeLatency = LatencyPercentiles{
			P50: samples[n*50/100],
			P95: samples[min(n*95/100, n-1)],
			P99: samples[min(n*99/100, n-1)],
		}
	}
	return snap
}
