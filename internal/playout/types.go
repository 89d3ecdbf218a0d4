// Package playout implements the seam-continuity and tick-scheduling core:
// the pipeline manager that emits exactly one frame per output tick,
// switching between decode sources at precomputed seam frames with pad
// substitution whenever a source is not ready.
package playout

import "fmt"

// Provenance tags every emitted unit so downstream fidelity checks can tell
// real content from synthetic output.
type Provenance int

const (
	// ProvenanceReal is content decoded from a source asset.
	ProvenanceReal Provenance = iota
	// ProvenancePad is synthetic black/silence emitted because no source
	// was ready (or the segment is a pad segment).
	ProvenancePad
	// ProvenanceRepeat is a held/repeated last frame emitted to preserve
	// cadence after a source exhausted early.
	ProvenanceRepeat
	// ProvenanceFallbackSilence is audio substituted because expected real
	// audio was not decoded in time. Distinct from pad audio, where no
	// audio exists by design.
	ProvenanceFallbackSilence
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceReal:
		return "real"
	case ProvenancePad:
		return "pad"
	case ProvenanceRepeat:
		return "cadence-repeat"
	case ProvenanceFallbackSilence:
		return "fallback-silence"
	default:
		return fmt.Sprintf("<unknown:%d>", int(p))
	}
}

// OutFrame is one video frame handed to the sink, stamped with the session
// PTS in the tick clock's timescale.
type OutFrame struct {
	FrameIndex int64
	PTS        int64
	Data       []byte
	Provenance Provenance
}

// OutAudio is one batch of PCM samples handed to the sink.
type OutAudio struct {
	PTS        int64
	Data       []byte
	Samples    int
	Provenance Provenance
}

// Sink is the downstream encoder boundary. WriteFrame is called exactly
// once per tick; WriteAudio zero or more times per tick.
type Sink interface {
	WriteFrame(f OutFrame) error
	WriteAudio(a OutAudio) error
}

// AudioFormat describes the session's PCM format (s16le interleaved).
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSample returns the byte width of one interleaved sample across
// all channels.
func (f AudioFormat) BytesPerSample() int {
	return f.Channels * 2
}

// BytesForMillis returns the byte length of ms milliseconds of audio.
func (f AudioFormat) BytesForMillis(ms int) int {
	return int(int64(ms) * int64(f.SampleRate) / 1000 * int64(f.BytesPerSample()))
}

// MillisForBytes returns the duration in milliseconds of a byte length.
func (f AudioFormat) MillisForBytes(n int) int {
	if f.SampleRate == 0 {
		return 0
	}
	return int(int64(n) / int64(f.BytesPerSample()) * 1000 / int64(f.SampleRate))
}
