package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	durations map[string]time.Duration
	calls     atomic.Int32
}

func (p *fakeProber) ProbeDuration(_ context.Context, assetRef string) (time.Duration, error) {
	p.calls.Add(1)
	d, ok := p.durations[assetRef]
	if !ok {
		return 0, errors.New("no such asset")
	}
	return d, nil
}

func openTestCatalog(t *testing.T, prober *fakeProber) *Catalog {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(dsn, "silent", prober, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_MissProbesAndCaches(t *testing.T) {
	prober := &fakeProber{durations: map[string]time.Duration{
		"clip.mp4": 90*time.Second + 500*time.Millisecond,
	}}
	c := openTestCatalog(t, prober)

	ms, err := c.DurationFor(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(90500), ms)
	assert.Equal(t, int32(1), prober.calls.Load())

	// Second lookup is served from the cache.
	ms, err = c.DurationFor(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(90500), ms)
	assert.Equal(t, int32(1), prober.calls.Load())
}

func TestCatalog_ProbeFailurePropagates(t *testing.T) {
	prober := &fakeProber{durations: map[string]time.Duration{}}
	c := openTestCatalog(t, prober)

	_, err := c.DurationFor(context.Background(), "ghost.mp4")
	assert.Error(t, err)

	_, ok, err := c.Lookup("ghost.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_MissWithoutProber(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(dsn, "silent", nil, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.DurationFor(context.Background(), "clip.mp4")
	assert.ErrorIs(t, err, ErrNoProber)
}

func TestCatalog_StoreOverwrites(t *testing.T) {
	c := openTestCatalog(t, &fakeProber{})

	require.NoError(t, c.Store("clip.mp4", 1000))
	require.NoError(t, c.Store("clip.mp4", 2000))

	ms, ok, err := c.Lookup("clip.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), ms)
}

func TestCatalog_Invalidate(t *testing.T) {
	c := openTestCatalog(t, &fakeProber{})

	require.NoError(t, c.Store("clip.mp4", 1000))
	require.NoError(t, c.Invalidate("clip.mp4"))

	_, ok, err := c.Lookup("clip.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_PersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "catalog.db")

	c, err := Open(dsn, "silent", nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Store("clip.mp4", 1234))
	require.NoError(t, c.Close())

	c, err = Open(dsn, "silent", nil, nil)
	require.NoError(t, err)
	defer c.Close()

	ms, ok, err := c.Lookup("clip.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1234), ms)
}
