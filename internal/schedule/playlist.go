package schedule

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DurationResolver supplies asset durations for segments whose playlist
// entry omits duration_ms. Satisfied by catalog.Catalog.
type DurationResolver interface {
	DurationFor(ctx context.Context, assetRef string) (int64, error)
}

// playlistDoc is the YAML wire format for a playlist file.
type playlistDoc struct {
	Blocks []blockDoc `yaml:"blocks"`
}

type blockDoc struct {
	Start    time.Time    `yaml:"start"`
	End      time.Time    `yaml:"end"`
	Segments []segmentDoc `yaml:"segments"`
}

type segmentDoc struct {
	Asset      string   `yaml:"asset"`
	OffsetMs   int64    `yaml:"offset_ms"`
	DurationMs int64    `yaml:"duration_ms"`
	Role       string   `yaml:"role"`
	Fade       *fadeDoc `yaml:"fade"`
}

type fadeDoc struct {
	InMs  int64 `yaml:"in_ms"`
	OutMs int64 `yaml:"out_ms"`
}

// LoadPlaylist reads a YAML playlist file, assigns block IDs, seals every
// block, and returns them in file order. stat may be nil to skip asset
// existence checks.
func LoadPlaylist(path string, stat StatFunc) ([]*Block, error) {
	return LoadPlaylistResolved(context.Background(), path, stat, nil)
}

// LoadPlaylistResolved is LoadPlaylist with a DurationResolver: segments
// that omit duration_ms play from their start offset to the asset's end,
// with the asset duration looked up through the resolver.
func LoadPlaylistResolved(ctx context.Context, path string, stat StatFunc, durations DurationResolver) ([]*Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening playlist: %w", err)
	}
	defer f.Close()
	return ReadPlaylistResolved(ctx, f, stat, durations)
}

// ReadPlaylist parses a YAML playlist from r. See LoadPlaylist.
func ReadPlaylist(r io.Reader, stat StatFunc) ([]*Block, error) {
	return ReadPlaylistResolved(context.Background(), r, stat, nil)
}

// ReadPlaylistResolved parses a YAML playlist from r, resolving omitted
// segment durations before sealing. See LoadPlaylistResolved.
func ReadPlaylistResolved(ctx context.Context, r io.Reader, stat StatFunc, durations DurationResolver) ([]*Block, error) {
	var doc playlistDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("playlist contains no blocks")
	}

	blocks := make([]*Block, 0, len(doc.Blocks))
	for i, bd := range doc.Blocks {
		block := &Block{
			ID:        NewBlockID(),
			StartTime: bd.Start,
			EndTime:   bd.End,
			Segments:  make([]Segment, 0, len(bd.Segments)),
		}
		for j, sd := range bd.Segments {
			role, err := ParseSegmentRole(sd.Role)
			if err != nil {
				return nil, fmt.Errorf("block %d segment %d: %w", i, j, err)
			}
			seg := Segment{
				AssetRef:      sd.Asset,
				StartOffsetMs: sd.OffsetMs,
				DurationMs:    sd.DurationMs,
				Role:          role,
			}
			if seg.DurationMs == 0 && seg.AssetRef != "" && durations != nil {
				assetMs, err := durations.DurationFor(ctx, seg.AssetRef)
				if err != nil {
					return nil, fmt.Errorf("block %d segment %d: resolving duration of %q: %w",
						i, j, seg.AssetRef, err)
				}
				seg.DurationMs = assetMs - seg.StartOffsetMs
			}
			if sd.Fade != nil {
				seg.Fade = &Fade{InMs: sd.Fade.InMs, OutMs: sd.Fade.OutMs}
			}
			block.Segments = append(block.Segments, seg)
		}
		if err := block.Seal(stat); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}

	// Blocks must be contiguous and ordered; the engine assumes each
	// block's fence leads directly into the next block's activation.
	for i := 1; i < len(blocks); i++ {
		if !blocks[i].StartTime.Equal(blocks[i-1].EndTime) {
			return nil, fmt.Errorf("block %d starts at %v but previous block ends at %v",
				i, blocks[i].StartTime, blocks[i-1].EndTime)
		}
	}

	return blocks, nil
}
