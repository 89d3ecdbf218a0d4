package playout

import (
	"log/slog"
	"sync"
)

// retiree is an outgoing buffer pair and producer awaiting teardown.
type retiree struct {
	pair     *BufferPair
	producer *Producer
}

// Reaper joins retired fill goroutines and closes their producers off the
// tick loop's hot path. The tick loop hands off with a non-blocking Retire;
// the reaper does the waiting.
type Reaper struct {
	logger *slog.Logger

	ch   chan retiree
	wg   sync.WaitGroup
	once sync.Once
}

// NewReaper creates a reaper.
func NewReaper(logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		logger: logger,
		ch:     make(chan retiree, 32),
	}
}

// Start spawns the reaper goroutine.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

// Retire hands off an outgoing pair and producer for asynchronous teardown.
// Never blocks: if the queue is momentarily full the teardown runs on its
// own goroutine instead.
func (r *Reaper) Retire(pair *BufferPair, producer *Producer) {
	if pair == nil && producer == nil {
		return
	}
	item := retiree{pair: pair, producer: producer}
	select {
	case r.ch <- item:
	default:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.reap(item)
		}()
	}
}

// Stop drains pending teardowns and waits for them to finish.
func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.ch) })
	r.wg.Wait()
}

func (r *Reaper) run() {
	defer r.wg.Done()
	for item := range r.ch {
		r.reap(item)
	}
}

func (r *Reaper) reap(item retiree) {
	if item.pair != nil {
		if done := item.pair.StopFillingAsync(); done != nil {
			<-done
		}
	}
	if item.producer != nil {
		if err := item.producer.Close(); err != nil {
			r.logger.Debug("retired source close failed", slog.String("error", err.Error()))
		}
	}
}
