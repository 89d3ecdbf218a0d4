package schedule

import (
	"sync"
)

// BlockQueue is the pull-style queue the engine drains. Blocks must be
// sealed before they are pushed; the engine trusts their boundaries.
type BlockQueue struct {
	mu     sync.Mutex
	blocks []*Block
	closed bool
}

// NewBlockQueue creates an empty queue.
func NewBlockQueue() *BlockQueue {
	return &BlockQueue{}
}

// Push appends a sealed block. Pushing an unsealed block or pushing after
// Close is a programming error and panics.
func (q *BlockQueue) Push(b *Block) {
	if !b.Sealed() {
		panic("schedule: Push of unsealed block")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic("schedule: Push on closed queue")
	}
	q.blocks = append(q.blocks, b)
}

// TryPop removes and returns the next block without blocking. The second
// return is false when the queue is currently empty.
func (q *BlockQueue) TryPop() (*Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.blocks) == 0 {
		return nil, false
	}
	b := q.blocks[0]
	q.blocks = q.blocks[1:]
	return b, true
}

// Len returns the number of queued blocks.
func (q *BlockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.blocks)
}

// Close marks the queue as finished: no further blocks will arrive. An
// empty closed queue tells the engine the schedule has genuinely run out
// rather than being momentarily behind.
func (q *BlockQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Closed reports whether the queue has been closed.
func (q *BlockQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drained reports whether the queue is closed and empty.
func (q *BlockQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.blocks) == 0
}
