package events

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handler receives published events. Handlers run on the publishing goroutine
// and must not block for long, a session's RX loop is typically the publisher.
type Handler func(Event)

// Hub fans events out to its subscribers. Each Session and Server owns one;
// there is no process wide hub.
type Hub struct {
	subs   *xsync.MapOf[uint64, Handler]
	nextID atomic.Uint64

	// stop will be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs: xsync.NewMapOf[uint64, Handler](),
		stop: make(chan struct{}),
	}
}

// Subscribe registers fn and returns a func that removes it again. Calling the
// returned func more than once is harmless.
func (h *Hub) Subscribe(fn Handler) (unsubscribe func()) {
	if fn == nil || !h.isRunning() {
		return func() {}
	}

	id := h.nextID.Add(1)
	h.subs.Store(id, fn)

	return func() {
		h.subs.Delete(id)
	}
}

// Listen is Subscribe for callers that prefer a channel. Delivery blocks the
// publisher while the channel is full, until unsubscribe is called or the hub
// is closed.
func (h *Hub) Listen(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	done := make(chan struct{})

	var once sync.Once

	unsubscribe := h.Subscribe(func(e Event) {
		select {
		case ch <- e:
		case <-done:
		case <-h.stop:
		}
	})

	return ch, func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

// Publish delivers e to every current subscriber in subscription order. Events
// published from one goroutine arrive in order; there is no ordering between
// publishers.
func (h *Hub) Publish(e Event) {
	if !h.isRunning() {
		return
	}

	for _, fn := range h.snapshot() {
		fn(e)
	}
}

// Len is the number of subscribers.
func (h *Hub) Len() int {
	return h.subs.Size()
}

// Close drops every subscriber. Publishing to a closed hub is a no-op.
func (h *Hub) Close() error {
	h.stopOnce.Do(func() {
		close(h.stop)
	})

	h.subs.Clear()

	return nil
}

func (h *Hub) snapshot() []Handler {
	type entry struct {
		id uint64
		fn Handler
	}

	entries := make([]entry, 0, h.subs.Size())
	h.subs.Range(func(id uint64, fn Handler) bool {
		entries = append(entries, entry{id: id, fn: fn})
		return true
	})

	// ids are handed out in increasing order
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	handlers := make([]Handler, len(entries))
	for i, e := range entries {
		handlers[i] = e.fn
	}

	return handlers
}

// isRunning returns true if Close has not been called
func (h *Hub) isRunning() bool {
	select {
	case <-h.stop:
		return false

	default:
		return true
	}
}
