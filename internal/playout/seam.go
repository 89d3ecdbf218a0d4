package playout

import (
	"fmt"

	"github.com/jmylchreest/playoutd/internal/schedule"
	"github.com/jmylchreest/playoutd/internal/timing"
)

// SeamType distinguishes the two transition kinds. Both are executed by the
// same unified swap; the type only selects which prepared-result slot the
// swap consumes.
type SeamType int

const (
	// SeamSegment is an intra-block segment-to-segment transition.
	SeamSegment SeamType = iota
	// SeamBlock is a block-to-block transition at a block fence.
	SeamBlock
)

func (t SeamType) String() string {
	switch t {
	case SeamSegment:
		return "segment"
	case SeamBlock:
		return "block"
	default:
		return fmt.Sprintf("<unknown:%d>", int(t))
	}
}

// segmentSeamFrame returns the absolute session frame at which playback
// leaves the segment whose boundary is given, for a block activated at
// activationFrame. Integer ceiling division; immutable once computed.
func segmentSeamFrame(activationFrame int64, boundary schedule.Boundary, fps timing.Rational) int64 {
	return activationFrame + timing.FramesForMillis(boundary.EndMs, fps)
}

// blockFenceFrame returns the absolute session frame marking the end of the
// block's wall-clock allocation.
func blockFenceFrame(activationFrame int64, block *schedule.Block, fps timing.Rational) int64 {
	return activationFrame + timing.FramesForMillis(block.DurationMs(), fps)
}
