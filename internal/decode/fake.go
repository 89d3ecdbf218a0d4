package decode

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FakeScript controls how the fake backend behaves for one asset.
type FakeScript struct {
	// OpenDelay is slept inside Open, polling the interrupt flag.
	OpenDelay time.Duration
	// OpenErr, when set, is returned by Open after OpenDelay.
	OpenErr error
	// Frames is the number of frames decodable from the seek point.
	// Negative means unlimited.
	Frames int
	// DecodeDelay is slept inside each DecodeNextFrame call.
	DecodeDelay time.Duration
	// FailAtFrame, when positive, makes the Nth decode call (1-based)
	// return an error.
	FailAtFrame int
	// HasAudio reports an audio track on the asset.
	HasAudio bool
	// AudioMsPerFrame is how much audio is decoded alongside each frame.
	AudioMsPerFrame int
}

// FakeBackend is a deterministic decode backend for tests and offline runs.
// Assets are registered with scripts; unregistered assets fail to open.
type FakeBackend struct {
	// SampleRate and Channels define the PCM format of fake audio.
	SampleRate int
	Channels   int

	mu      sync.Mutex
	scripts map[string]FakeScript
}

// NewFakeBackend creates a fake backend producing audio in the given format.
func NewFakeBackend(sampleRate, channels int) *FakeBackend {
	return &FakeBackend{
		SampleRate: sampleRate,
		Channels:   channels,
		scripts:    make(map[string]FakeScript),
	}
}

// SetScript registers the behavior for an asset reference.
func (b *FakeBackend) SetScript(assetRef string, script FakeScript) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[assetRef] = script
}

// NewSource implements Backend. Sources for unregistered assets are created
// successfully but fail at Open, mirroring how a real backend only discovers
// a missing file when it probes.
func (b *FakeBackend) NewSource(assetRef string) (Source, error) {
	b.mu.Lock()
	script, ok := b.scripts[assetRef]
	b.mu.Unlock()
	return &fakeSource{
		backend:  b,
		assetRef: assetRef,
		script:   script,
		known:    ok,
	}, nil
}

type fakeSource struct {
	backend  *FakeBackend
	assetRef string
	script   FakeScript
	known    bool

	interrupt *atomic.Bool
	opened    bool
	closed    bool
	offsetMs  int64
	decoded   int
	pending   []*AudioChunk
}

// sleepInterruptible sleeps d in small slices, honoring the interrupt flag.
func (s *fakeSource) sleepInterruptible(d time.Duration) error {
	const slice = 5 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if s.interrupt != nil && s.interrupt.Load() {
			return ErrInterrupted
		}
		remaining := time.Until(deadline)
		if remaining > slice {
			remaining = slice
		}
		time.Sleep(remaining)
	}
	return nil
}

func (s *fakeSource) Open() error {
	if s.opened {
		return fmt.Errorf("fake source %q: already open", s.assetRef)
	}
	if err := s.sleepInterruptible(s.script.OpenDelay); err != nil {
		return err
	}
	if !s.known {
		return fmt.Errorf("fake source %q: no such asset", s.assetRef)
	}
	if s.script.OpenErr != nil {
		return s.script.OpenErr
	}
	s.opened = true
	return nil
}

func (s *fakeSource) SeekTo(offsetMs int64) error {
	if !s.opened {
		return fmt.Errorf("fake source %q: seek before open", s.assetRef)
	}
	s.offsetMs = offsetMs
	return nil
}

func (s *fakeSource) DecodeNextFrame() (*Frame, error) {
	if !s.opened || s.closed {
		return nil, fmt.Errorf("fake source %q: decode on unopened source", s.assetRef)
	}
	if s.interrupt != nil && s.interrupt.Load() {
		return nil, ErrInterrupted
	}
	if s.IsEndOfStream() {
		return nil, nil
	}
	if s.script.DecodeDelay > 0 {
		if err := s.sleepInterruptible(s.script.DecodeDelay); err != nil {
			return nil, err
		}
	}
	s.decoded++
	if s.script.FailAtFrame > 0 && s.decoded == s.script.FailAtFrame {
		return nil, fmt.Errorf("fake source %q: scripted decode failure at frame %d", s.assetRef, s.decoded)
	}
	if s.script.HasAudio && s.script.AudioMsPerFrame > 0 {
		bytes := int64(s.script.AudioMsPerFrame) * int64(s.backend.SampleRate) / 1000 * int64(s.backend.Channels) * 2
		s.pending = append(s.pending, &AudioChunk{Data: make([]byte, bytes)})
	}
	payload := fmt.Sprintf("%s@%d#%06d", s.assetRef, s.offsetMs, s.decoded-1)
	return &Frame{Data: []byte(payload)}, nil
}

func (s *fakeSource) PendingAudio() (*AudioChunk, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, true
}

func (s *fakeSource) IsEndOfStream() bool {
	return s.script.Frames >= 0 && s.decoded >= s.script.Frames
}

func (s *fakeSource) HasAudioTrack() bool {
	return s.script.HasAudio
}

func (s *fakeSource) SetInterrupt(flag *atomic.Bool) {
	s.interrupt = flag
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}
