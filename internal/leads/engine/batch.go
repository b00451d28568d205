package engine

import (
	"sync"
	"time"

	"leadengine/internal/leads/domain"
)

// batcher collects bursts of inbound events per lead. The first event of a
// burst opens a window; everything that arrives before it closes is handed
// to flush together.
type batcher struct {
	window time.Duration
	flush  func(leadID string, evs []domain.Event)

	mu      sync.Mutex
	pending map[string][]domain.Event
	timers  map[string]*time.Timer
	closed  bool
	// flushing counts flush calls started before close; close waits for them.
	flushing sync.WaitGroup
}

func newBatcher(window time.Duration, flush func(string, []domain.Event)) *batcher {
	return &batcher{
		window:  window,
		flush:   flush,
		pending: make(map[string][]domain.Event),
		timers:  make(map[string]*time.Timer),
	}
}

// add queues ev. It reports false once the batcher is closed.
func (b *batcher) add(ev domain.Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if b.window <= 0 {
		b.flushing.Add(1)
		b.mu.Unlock()
		defer b.flushing.Done()
		b.flush(ev.LeadID, []domain.Event{ev})
		return true
	}
	b.pending[ev.LeadID] = append(b.pending[ev.LeadID], ev)
	if _, ok := b.timers[ev.LeadID]; !ok {
		id := ev.LeadID
		b.timers[id] = time.AfterFunc(b.window, func() { b.fire(id) })
	}
	b.mu.Unlock()
	return true
}

func (b *batcher) fire(leadID string) {
	b.mu.Lock()
	evs := b.pending[leadID]
	delete(b.pending, leadID)
	delete(b.timers, leadID)
	if len(evs) == 0 {
		b.mu.Unlock()
		return
	}
	b.flushing.Add(1)
	b.mu.Unlock()
	defer b.flushing.Done()
	b.flush(leadID, evs)
}

// close stops the timers, flushes whatever is pending and returns once every
// flush call has returned.
func (b *batcher) close() {
	b.mu.Lock()
	b.closed = true
	pending := b.pending
	for id, t := range b.timers {
		if !t.Stop() {
			// Already firing; fire will find its batch gone.
			continue
		}
		delete(b.timers, id)
	}
	b.pending = make(map[string][]domain.Event)
	b.mu.Unlock()

	for id, evs := range pending {
		b.flush(id, evs)
	}
	b.flushing.Wait()
}
