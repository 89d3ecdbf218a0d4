package playout

import (
	"container/heap"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmylchreest/playoutd/internal/decode"
	"github.com/jmylchreest/playoutd/internal/schedule"
)

// PrepareRequest asks the preparer to have a source ready by a target seam
// frame.
type PrepareRequest struct {
	ID          uuid.UUID
	Type        SeamType
	TargetFrame int64
	Block       *schedule.Block
	SegIndex    int
}

// Prepared is a completed preparation artifact: a ready producer plus its
// own filling buffer pair. Ownership transfers to the scheduler exactly
// once via the typed take-operations. Err records an open/seek failure; the
// swap still proceeds and the scheduler pads for the source's duration.
type Prepared struct {
	Request       PrepareRequest
	Producer      *Producer
	Pair          *BufferPair
	AudioPrimedMs int
	Err           error
}

// requestHeap orders prepare requests soonest seam first, FIFO within a
// frame.
type requestHeap []heapEntry

type heapEntry struct {
	req PrepareRequest
	seq uint64
}

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].req.TargetFrame != h[j].req.TargetFrame {
		return h[i].req.TargetFrame < h[j].req.TargetFrame
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(heapEntry))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// PrepareConfig tunes source preparation.
type PrepareConfig struct {
	MinAudioMs  int
	PrimeBudget time.Duration
	// OpenTimeout optionally bounds open/probe/seek. Zero = unbounded;
	// kept configurable rather than hard-coded either way.
	OpenTimeout time.Duration
}

// Preparer is the persistent background worker that performs all blocking
// decoder lifecycle work (open/probe/seek/prime) so the tick loop never
// does. One request is processed at a time, soonest seam first; results are
// published into typed slots so block and segment preparation cannot starve
// or overwrite each other.
type Preparer struct {
	backend   decode.Backend
	cfg       PrepareConfig
	lookahead LookaheadConfig
	format    AudioFormat
	stats     *Stats
	logger    *slog.Logger

	sessionStop *atomic.Bool
	// retire receives a superseded, never-taken result's pair and producer
	// for asynchronous teardown.
	retire func(*BufferPair, *Producer)

	mu           sync.Mutex
	cond         *sync.Cond
	pending      requestHeap
	seq          uint64
	inflight     *Producer
	inflightType SeamType
	busy         bool
	stopped      bool

	segResult   *Prepared
	blockResult *Prepared

	wg sync.WaitGroup
}

// NewPreparer creates a preparer. retire is invoked for results that are
// overwritten before being taken; typically the reaper's Retire.
func NewPreparer(backend decode.Backend, cfg PrepareConfig, lookahead LookaheadConfig,
	format AudioFormat, stats *Stats, sessionStop *atomic.Bool,
	retire func(*BufferPair, *Producer), logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preparer{
		backend:     backend,
		cfg:         cfg,
		lookahead:   lookahead,
		format:      format,
		stats:       stats,
		logger:      logger,
		sessionStop: sessionStop,
		retire:      retire,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start spawns the worker goroutine.
func (p *Preparer) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Submit enqueues a prepare request.
func (p *Preparer) Submit(req PrepareRequest) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	heap.Push(&p.pending, heapEntry{req: req, seq: p.seq})
	p.seq++
	if p.stats != nil {
		p.stats.PrepStarted.Add(1)
	}
	p.cond.Broadcast()
}

// PendingCount returns the number of queued (not yet started) requests.
func (p *Preparer) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// TakeSegmentResult removes and returns the segment-result slot, or nil.
// Tick loop side; the lock is held only for the pointer move.
func (p *Preparer) TakeSegmentResult() *Prepared {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.segResult
	p.segResult = nil
	return r
}

// TakeBlockResult removes and returns the block-result slot, or nil.
func (p *Preparer) TakeBlockResult() *Prepared {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.blockResult
	p.blockResult = nil
	return r
}

// cancel drains pending requests of the given type (or all), interrupts a
// matching in-flight preparation, discards any unconsumed matching result,
// and blocks until the worker is idle.
func (p *Preparer) cancel(typ SeamType, all bool) {
	p.mu.Lock()
	kept := p.pending[:0]
	for _, e := range p.pending {
		if !all && e.req.Type != typ {
			kept = append(kept, e)
		}
	}
	p.pending = kept
	heap.Init(&p.pending)
	if p.inflight != nil && (all || p.inflightType == typ) {
		p.inflight.Interrupt()
	}
	for p.busy {
		p.cond.Wait()
	}
	var stale []*Prepared
	if all || typ == SeamSegment {
		if p.segResult != nil {
			stale = append(stale, p.segResult)
			p.segResult = nil
		}
	}
	if all || typ == SeamBlock {
		if p.blockResult != nil {
			stale = append(stale, p.blockResult)
			p.blockResult = nil
		}
	}
	p.mu.Unlock()

	for _, r := range stale {
		if p.retire != nil {
			p.retire(r.Pair, r.Producer)
		}
	}
}

// CancelSegmentRequests drains pending segment work and waits for idle.
func (p *Preparer) CancelSegmentRequests() {
	p.cancel(SeamSegment, false)
}

// DropStaleSegments removes queued (not yet started) segment requests that
// do not belong to the active block. It never blocks: an in-flight or
// already published stale preparation is left alone and weeded out by the
// consumer at take time.
func (p *Preparer) DropStaleSegments(activeBlockID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.pending[:0]
	for _, e := range p.pending {
		if e.req.Type == SeamSegment && e.req.Block.ID != activeBlockID {
			continue
		}
		kept = append(kept, e)
	}
	p.pending = kept
	heap.Init(&p.pending)
}

// Cancel drains all pending work and waits for idle.
func (p *Preparer) Cancel() {
	p.cancel(0, true)
}

// Stop cancels outstanding work and terminates the worker.
func (p *Preparer) Stop() {
	p.Cancel()
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Preparer) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.pending.Len() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		entry := heap.Pop(&p.pending).(heapEntry)
		producer := NewProducer(p.backend)
		p.inflight = producer
		p.inflightType = entry.req.Type
		p.busy = true
		p.mu.Unlock()

		result := p.prepare(entry.req, producer)

		p.mu.Lock()
		p.inflight = nil
		p.busy = false
		var stale *Prepared
		switch entry.req.Type {
		case SeamSegment:
			stale = p.segResult
			p.segResult = result
		case SeamBlock:
			stale = p.blockResult
			p.blockResult = result
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if stale != nil && p.retire != nil {
			p.retire(stale.Pair, stale.Producer)
		}
	}
}

// prepare performs the blocking assignment and priming for one request and
// returns the artifact with its fill goroutine already running.
func (p *Preparer) prepare(req PrepareRequest, producer *Producer) *Prepared {
	result := &Prepared{Request: req, Producer: producer}

	if err := producer.Assign(req.Block, req.SegIndex, p.cfg.OpenTimeout); err != nil {
		result.Err = err
		if p.stats != nil {
			p.stats.PrepFailed.Add(1)
		}
		p.logger.Warn("source preparation failed",
			slog.String("block_id", req.Block.ID),
			slog.Int("segment", req.SegIndex),
			slog.Int64("target_frame", req.TargetFrame),
			slog.String("error", err.Error()))
	} else {
		result.AudioPrimedMs = producer.PrimeFirstTick(p.cfg.MinAudioMs, p.cfg.PrimeBudget, p.format)
		if p.stats != nil {
			p.stats.PrepReady.Add(1)
		}
		p.logger.Debug("source prepared",
			slog.String("block_id", req.Block.ID),
			slog.Int("segment", req.SegIndex),
			slog.String("seam_type", req.Type.String()),
			slog.Int64("target_frame", req.TargetFrame),
			slog.Int("audio_primed_ms", result.AudioPrimedMs))
	}

	pair := NewBufferPair(p.lookahead, p.format, p.stats)
	pair.StartFilling(producer, p.sessionStop)
	result.Pair = pair
	return result
}
