package playout

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/schedule"
)

var testLookahead = LookaheadConfig{VideoLow: 2, VideoTarget: 8, AudioTargetMs: 200}

func preparedProducer(t *testing.T, backend decode.Backend, block *schedule.Block) *Producer {
	t.Helper()
	p := NewProducer(backend)
	require.NoError(t, p.Assign(block, 0, 0))
	p.PrimeFirstTick(40, time.Second, testFormat)
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBufferPair_FillsToTarget(t *testing.T) {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("clip.mp4", decode.FakeScript{Frames: -1, HasAudio: true, AudioMsPerFrame: 40})
	block := testBlock(t, schedule.Segment{AssetRef: "clip.mp4", DurationMs: 60000})
	producer := preparedProducer(t, backend, block)

	pair := NewBufferPair(testLookahead, testFormat, nil)
	pair.StartFilling(producer, nil)
	defer pair.StopFilling()

	waitFor(t, func() bool { return pair.Video.Depth() >= testLookahead.VideoTarget },
		"video buffer never reached target depth")
	assert.True(t, pair.Video.Primed())
	assert.True(t, pair.Audio.Primed())
}

func TestBufferPair_HoldsLastFrameOnExhaustion(t *testing.T) {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("clip.mp4", decode.FakeScript{Frames: 3, HasAudio: true, AudioMsPerFrame: 40})
	block := testBlock(t, schedule.Segment{AssetRef: "clip.mp4", DurationMs: 1000})
	producer := preparedProducer(t, backend, block)

	pair := NewBufferPair(testLookahead, testFormat, nil)
	pair.StartFilling(producer, nil)
	defer pair.StopFilling()

	pop := func() videoUnit {
		var u videoUnit
		waitFor(t, func() bool {
			var ok bool
			u, ok = pair.Video.TryPop()
			return ok
		}, "video buffer never produced a frame")
		return u
	}

	var last []byte
	for i := 0; i < 3; i++ {
		u := pop()
		assert.Equal(t, ProvenanceReal, u.provenance)
		last = u.data
	}

	u := pop()
	assert.Equal(t, ProvenanceRepeat, u.provenance)
	assert.Equal(t, last, u.data)
}

func TestBufferPair_SilentAssetNeverPrimesAudio(t *testing.T) {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("silent.mp4", decode.FakeScript{Frames: 2})
	block := testBlock(t, schedule.Segment{AssetRef: "silent.mp4", DurationMs: 1000})
	producer := preparedProducer(t, backend, block)

	pair := NewBufferPair(testLookahead, testFormat, nil)
	pair.StartFilling(producer, nil)
	defer pair.StopFilling()

	// Exhaustion queues repeats; audio must stay untouched so the
	// scheduler can tell by-design silence from a starved track.
	waitFor(t, func() bool { return pair.Video.Depth() >= 3 },
		"video buffer never accumulated repeats")
	assert.False(t, pair.Audio.Primed())
	assert.Equal(t, 0, pair.Audio.DepthBytes())
}

func TestBufferPair_StopFillingDropsStragglers(t *testing.T) {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("clip.mp4", decode.FakeScript{Frames: -1})
	block := testBlock(t, schedule.Segment{AssetRef: "clip.mp4", DurationMs: 60000})
	producer := preparedProducer(t, backend, block)

	pair := NewBufferPair(testLookahead, testFormat, nil)
	pair.StartFilling(producer, nil)

	oldGen := pair.Video.Generation()
	pair.StopFilling()
	assert.False(t, pair.Filling())

	// A push straggling in from the stopped fill must be discarded.
	assert.False(t, pair.Video.Push(videoUnit{data: []byte("late")}, oldGen))
}

func TestBufferPair_SessionStopEndsFill(t *testing.T) {
	backend := decode.NewFakeBackend(testFormat.SampleRate, testFormat.Channels)
	backend.SetScript("clip.mp4", decode.FakeScript{Frames: -1})
	block := testBlock(t, schedule.Segment{AssetRef: "clip.mp4", DurationMs: 60000})
	producer := preparedProducer(t, backend, block)

	var sessionStop atomic.Bool
	pair := NewBufferPair(testLookahead, testFormat, nil)
	pair.StartFilling(producer, &sessionStop)

	sessionStop.Store(true)
	done := pair.StopFillingAsync()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fill goroutine did not exit")
	}
}
