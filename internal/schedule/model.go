// Package schedule defines the content blocks the playout engine consumes:
// wall-clock bounded blocks of media segments with precomputed boundaries.
// Blocks arrive from the upstream scheduling authority, are validated once,
// and are immutable afterwards.
package schedule

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// SegmentRole describes what a segment contributes to a block.
type SegmentRole int

const (
	// RoleContent is primary scheduled content.
	RoleContent SegmentRole = iota
	// RoleFiller is interstitial content used to fill block time.
	RoleFiller
	// RolePad is a synthetic black/silence segment with no asset.
	RolePad
)

func (r SegmentRole) String() string {
	switch r {
	case RoleContent:
		return "content"
	case RoleFiller:
		return "filler"
	case RolePad:
		return "pad"
	default:
		return fmt.Sprintf("<unknown:%d>", int(r))
	}
}

// ParseSegmentRole converts a string role name to a SegmentRole.
func ParseSegmentRole(s string) (SegmentRole, error) {
	switch s {
	case "content", "":
		return RoleContent, nil
	case "filler":
		return RoleFiller, nil
	case "pad":
		return RolePad, nil
	default:
		return 0, fmt.Errorf("unknown segment role %q", s)
	}
}

// Fade holds optional transition-fade metadata for a segment.
type Fade struct {
	InMs  int64
	OutMs int64
}

// Segment is one piece of media inside a block.
type Segment struct {
	// AssetRef identifies the media asset. Empty only for RolePad.
	AssetRef string
	// StartOffsetMs is the offset into the asset where playback begins.
	StartOffsetMs int64
	// DurationMs is how long this segment plays.
	DurationMs int64
	// Role classifies the segment.
	Role SegmentRole
	// Fade is optional transition-fade metadata.
	Fade *Fade
}

// Boundary is a precomputed (start, end] content-time pair for one segment,
// in milliseconds relative to block activation. Boundaries are computed once
// by running sum at validation and never recomputed during playback.
type Boundary struct {
	StartMs int64
	EndMs   int64
}

// Block is a schedule unit: a wall-clock window filled by an ordered list of
// segments. After Seal succeeds the block must not be mutated.
type Block struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time // exclusive
	Segments  []Segment

	boundaries []Boundary
	sealed     bool
}

// Validation errors.
var (
	ErrNoSegments       = errors.New("block has no segments")
	ErrDurationMismatch = errors.New("segment durations do not sum to block duration")
	ErrNotSealed        = errors.New("block has not been validated")
)

// StatFunc checks that an asset reference exists. os.Stat-compatible; pass
// nil to skip asset existence checks.
type StatFunc func(string) (os.FileInfo, error)

// NewBlockID returns a fresh ULID for a block.
func NewBlockID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// DurationMs returns the block's wall-clock duration in milliseconds.
func (b *Block) DurationMs() int64 {
	return b.EndTime.Sub(b.StartTime).Milliseconds()
}

// Seal validates the block and computes its segment boundaries. It must be
// called exactly once before the block is handed to the engine. stat may be
// nil to skip asset existence checks.
func (b *Block) Seal(stat StatFunc) error {
	if b.sealed {
		return errors.New("block already sealed")
	}
	if len(b.Segments) == 0 {
		return fmt.Errorf("block %s: %w", b.ID, ErrNoSegments)
	}
	if !b.EndTime.After(b.StartTime) {
		return fmt.Errorf("block %s: end time %v not after start time %v", b.ID, b.EndTime, b.StartTime)
	}

	var sum int64
	boundaries := make([]Boundary, 0, len(b.Segments))
	for i, seg := range b.Segments {
		if seg.DurationMs <= 0 {
			return fmt.Errorf("block %s segment %d: duration must be positive, got %dms", b.ID, i, seg.DurationMs)
		}
		if seg.StartOffsetMs < 0 {
			return fmt.Errorf("block %s segment %d: negative start offset %dms", b.ID, i, seg.StartOffsetMs)
		}
		if seg.Role != RolePad && seg.AssetRef == "" {
			return fmt.Errorf("block %s segment %d: %s segment has no asset reference", b.ID, i, seg.Role)
		}
		if seg.Role == RolePad && seg.AssetRef != "" {
			return fmt.Errorf("block %s segment %d: pad segment must not reference an asset", b.ID, i)
		}
		if stat != nil && seg.AssetRef != "" {
			if _, err := stat(seg.AssetRef); err != nil {
				return fmt.Errorf("block %s segment %d: asset %q: %w", b.ID, i, seg.AssetRef, err)
			}
		}
		boundaries = append(boundaries, Boundary{StartMs: sum, EndMs: sum + seg.DurationMs})
		sum += seg.DurationMs
	}

	if sum != b.DurationMs() {
		return fmt.Errorf("block %s: segments sum to %dms but block is %dms: %w",
			b.ID, sum, b.DurationMs(), ErrDurationMismatch)
	}

	b.boundaries = boundaries
	b.sealed = true
	return nil
}

// Sealed reports whether the block has passed validation.
func (b *Block) Sealed() bool {
	return b.sealed
}

// Boundaries returns the precomputed segment boundaries. It panics if the
// block was never sealed; handing an unvalidated block to the engine is a
// programming error.
func (b *Block) Boundaries() []Boundary {
	if !b.sealed {
		panic("schedule: Boundaries on unsealed block")
	}
	return b.boundaries
}
