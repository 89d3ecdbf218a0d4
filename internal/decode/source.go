// Package decode defines the decode-source capability the playout engine
// consumes. The engine never touches containers or codecs itself; it drives
// an opaque Source through this interface. A deterministic fake lives
// alongside for tests and offline runs.
package decode

import (
	"errors"
	"sync/atomic"
)

// ErrInterrupted is returned by blocking Source operations that were aborted
// via the interrupt flag.
var ErrInterrupted = errors.New("decode interrupted")

// Frame is one decoded video frame. The payload is opaque to the engine; it
// is restamped with the session PTS and handed to the sink untouched.
type Frame struct {
	Data []byte
}

// AudioChunk is a batch of decoded PCM samples (s16le interleaved, in the
// session's configured rate and channel count).
type AudioChunk struct {
	Data []byte
}

// Source is one open decode session on a single asset.
//
// Open and SeekTo may block arbitrarily long and must only be called from a
// preparation goroutine, never from the tick or fill goroutines.
// DecodeNextFrame may block on I/O for the next frame only; it must never
// open, close, or seek.
type Source interface {
	// Open probes and opens the asset. Blocking.
	Open() error
	// SeekTo positions decoding at the given offset into the asset.
	// Blocking; only legal after a successful Open.
	SeekTo(offsetMs int64) error
	// DecodeNextFrame returns the next video frame, or (nil, nil) when the
	// stream is exhausted. Decode failures return an error; the caller
	// treats the source as exhausted.
	DecodeNextFrame() (*Frame, error)
	// PendingAudio returns audio decoded alongside the most recent video
	// frames. The second return is false when no audio is pending.
	PendingAudio() (*AudioChunk, bool)
	// IsEndOfStream reports whether the source has no more frames.
	IsEndOfStream() bool
	// HasAudioTrack reports whether the asset carries any audio.
	// Only meaningful after Open.
	HasAudioTrack() bool
	// SetInterrupt installs a flag polled by blocking operations; when the
	// flag is set they abort with ErrInterrupted as soon as practical.
	SetInterrupt(flag *atomic.Bool)
	// Close releases the source. Blocking; preparer/reaper goroutines only.
	Close() error
}

// Backend creates Sources for asset references. Implemented by the real
// decoder integration and by the fake.
type Backend interface {
	NewSource(assetRef string) (Source, error)
}
