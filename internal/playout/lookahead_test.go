package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoLookahead_PushPopOrder(t *testing.T) {
	buf := NewVideoLookahead(2, 8)
	gen := buf.Generation()

	assert.True(t, buf.Push(videoUnit{data: []byte("a"), provenance: ProvenanceReal}, gen))
	assert.True(t, buf.Push(videoUnit{data: []byte("b"), provenance: ProvenanceReal}, gen))
	assert.Equal(t, 2, buf.Depth())

	u, ok := buf.TryPop()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), u.data)

	u, ok = buf.TryPop()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), u.data)
}

func TestVideoLookahead_EmptyBeforePrimingIsNotUnderflow(t *testing.T) {
	buf := NewVideoLookahead(2, 8)

	_, ok := buf.TryPop()
	assert.False(t, ok)
	assert.False(t, buf.Primed())
	assert.Equal(t, uint64(0), buf.Underflows())
}

func TestVideoLookahead_EmptyAfterPrimingCountsUnderflow(t *testing.T) {
	buf := NewVideoLookahead(2, 8)
	buf.Push(videoUnit{data: []byte("a")}, buf.Generation())

	_, ok := buf.TryPop()
	require.True(t, ok)

	_, ok = buf.TryPop()
	assert.False(t, ok)
	assert.True(t, buf.Primed())
	assert.Equal(t, uint64(1), buf.Underflows())
}

func TestVideoLookahead_StaleGenerationDropped(t *testing.T) {
	buf := NewVideoLookahead(2, 8)
	gen := buf.Generation()
	buf.BumpGeneration()

	assert.False(t, buf.Push(videoUnit{data: []byte("stale")}, gen))
	assert.Equal(t, 0, buf.Depth())
	assert.False(t, buf.Primed())
}

func TestVideoLookahead_LowWater(t *testing.T) {
	buf := NewVideoLookahead(2, 8)
	gen := buf.Generation()

	assert.True(t, buf.LowWater())
	for i := 0; i < 3; i++ {
		buf.Push(videoUnit{data: []byte{byte(i)}}, gen)
	}
	assert.False(t, buf.LowWater())

	buf.TryPop()
	assert.True(t, buf.LowWater())
}

func TestAudioLookahead_PopSplitsHeadUnit(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2}
	buf := NewAudioLookahead(200, format)
	gen := buf.Generation()

	buf.Push(audioUnit{data: make([]byte, 100), provenance: ProvenanceReal}, gen)
	buf.Push(audioUnit{data: make([]byte, 100), provenance: ProvenanceReal}, gen)

	dst := make([]byte, 150)
	n, provenance := buf.PopSamplesInto(dst)
	assert.Equal(t, 150, n)
	assert.Equal(t, ProvenanceReal, provenance)
	assert.Equal(t, 50, buf.DepthBytes())

	dst = make([]byte, 50)
	n, _ = buf.PopSamplesInto(dst)
	assert.Equal(t, 50, n)
	assert.Equal(t, 0, buf.DepthBytes())
}

func TestAudioLookahead_SyntheticProvenanceWins(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2}
	buf := NewAudioLookahead(200, format)
	gen := buf.Generation()

	buf.Push(audioUnit{data: make([]byte, 40), provenance: ProvenanceReal}, gen)
	buf.Push(audioUnit{data: make([]byte, 40), provenance: ProvenancePad}, gen)

	dst := make([]byte, 80)
	n, provenance := buf.PopSamplesInto(dst)
	assert.Equal(t, 80, n)
	assert.Equal(t, ProvenancePad, provenance)
}

func TestAudioLookahead_ShortReadCountsUnderflow(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2}
	buf := NewAudioLookahead(200, format)
	buf.Push(audioUnit{data: make([]byte, 40), provenance: ProvenanceReal}, buf.Generation())

	dst := make([]byte, 100)
	n, _ := buf.PopSamplesInto(dst)
	assert.Equal(t, 40, n)
	assert.Equal(t, uint64(1), buf.Underflows())
}

func TestAudioLookahead_ShortReadBeforePrimingNotCounted(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2}
	buf := NewAudioLookahead(200, format)

	dst := make([]byte, 100)
	n, _ := buf.PopSamplesInto(dst)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(0), buf.Underflows())
}

func TestAudioLookahead_DepthMillis(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, Channels: 2}
	buf := NewAudioLookahead(200, format)

	// 40ms at 48kHz stereo s16 = 7680 bytes.
	buf.Push(audioUnit{data: make([]byte, 7680), provenance: ProvenanceReal}, buf.Generation())
	assert.Equal(t, 40, buf.DepthMillis())
	assert.False(t, buf.Full())

	buf.Push(audioUnit{data: make([]byte, format.BytesForMillis(160)), provenance: ProvenanceReal}, buf.Generation())
	assert.True(t, buf.Full())
}
