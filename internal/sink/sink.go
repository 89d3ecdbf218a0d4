// Package sink provides the downstream outputs a playout session feeds:
// an MPEG-TS writer for real delivery and a null sink for probe runs and
// tests. Sinks are called from the tick goroutine only and must not block
// beyond the write itself.
package sink

import (
	"sync/atomic"

	"github.com/jmylchreest/playoutd/internal/playout"
)

// Null discards everything it is given, counting what passed through.
type Null struct {
	frames atomic.Uint64
	audio  atomic.Uint64
}

// NewNull creates a counting discard sink.
func NewNull() *Null {
	return &Null{}
}

func (n *Null) WriteFrame(playout.OutFrame) error {
	n.frames.Add(1)
	return nil
}

func (n *Null) WriteAudio(playout.OutAudio) error {
	n.audio.Add(1)
	return nil
}

// Frames returns the number of frames discarded.
func (n *Null) Frames() uint64 {
	return n.frames.Load()
}

// AudioSpans returns the number of audio spans discarded.
func (n *Null) AudioSpans() uint64 {
	return n.audio.Load()
}
