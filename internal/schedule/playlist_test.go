package schedule

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaylist = `
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:01:00Z
    segments:
      - asset: /media/show.ts
        offset_ms: 0
        duration_ms: 45000
        role: content
        fade:
          in_ms: 500
          out_ms: 500
      - asset: /media/filler.ts
        duration_ms: 15000
        role: filler
  - start: 2026-08-31T12:01:00Z
    end: 2026-08-31T12:01:30Z
    segments:
      - duration_ms: 30000
        role: pad
`

func TestReadPlaylist(t *testing.T) {
	blocks, err := ReadPlaylist(strings.NewReader(samplePlaylist), nil)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	b := blocks[0]
	assert.True(t, b.Sealed())
	assert.NotEmpty(t, b.ID)
	require.Len(t, b.Segments, 2)
	assert.Equal(t, RoleContent, b.Segments[0].Role)
	assert.Equal(t, int64(45000), b.Segments[0].DurationMs)
	require.NotNil(t, b.Segments[0].Fade)
	assert.Equal(t, int64(500), b.Segments[0].Fade.InMs)
	assert.Equal(t, RoleFiller, b.Segments[1].Role)

	assert.Equal(t, RolePad, blocks[1].Segments[0].Role)
	assert.Empty(t, blocks[1].Segments[0].AssetRef)

	// Distinct IDs per block.
	assert.NotEqual(t, blocks[0].ID, blocks[1].ID)
}

// mapResolver resolves asset durations from a fixed map.
type mapResolver map[string]int64

func (m mapResolver) DurationFor(_ context.Context, assetRef string) (int64, error) {
	ms, ok := m[assetRef]
	if !ok {
		return 0, fmt.Errorf("unknown asset %q", assetRef)
	}
	return ms, nil
}

func TestReadPlaylist_ResolvesOmittedDurations(t *testing.T) {
	playlist := `
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:00:30Z
    segments:
      - asset: /media/short.ts
        offset_ms: 5000
        role: content
      - asset: /media/tail.ts
        duration_ms: 10000
        role: filler
`
	resolver := mapResolver{"/media/short.ts": 25000}

	blocks, err := ReadPlaylistResolved(context.Background(), strings.NewReader(playlist), nil, resolver)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	// Offset-to-end: 25000ms asset minus 5000ms offset.
	assert.Equal(t, int64(20000), blocks[0].Segments[0].DurationMs)
	assert.Equal(t, int64(10000), blocks[0].Segments[1].DurationMs)
}

func TestReadPlaylist_ResolverFailurePropagates(t *testing.T) {
	playlist := `
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:00:10Z
    segments:
      - asset: /media/missing.ts
        role: content
`
	_, err := ReadPlaylistResolved(context.Background(), strings.NewReader(playlist), nil, mapResolver{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving duration")
}

func TestReadPlaylist_NonContiguousBlocks(t *testing.T) {
	playlist := `
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:00:30Z
    segments:
      - duration_ms: 30000
        role: pad
  - start: 2026-08-31T12:00:45Z
    end: 2026-08-31T12:01:00Z
    segments:
      - duration_ms: 15000
        role: pad
`
	_, err := ReadPlaylist(strings.NewReader(playlist), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previous block ends")
}

func TestReadPlaylist_Errors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		substr string
	}{
		{"empty", "blocks: []", "no blocks"},
		{"bad yaml", "blocks: [", "parsing playlist"},
		{"unknown field", "blocks:\n  - begin: 2026-08-31T12:00:00Z", "parsing playlist"},
		{
			"unknown role",
			`
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:00:10Z
    segments:
      - asset: /a.ts
        duration_ms: 10000
        role: advert
`,
			"unknown segment role",
		},
		{
			"duration mismatch",
			`
blocks:
  - start: 2026-08-31T12:00:00Z
    end: 2026-08-31T12:00:10Z
    segments:
      - asset: /a.ts
        duration_ms: 5000
`,
			"sum to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPlaylist(strings.NewReader(tt.yaml), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}
