package upload

import (
	"sync"

	"github.com/studylm/uploader/internal/models"
)

// Event types published on the change feed.
const (
	EventEntryUpdated = "entry.updated"
	EventEntryRemoved = "entry.removed"
)

// Event is one change to the tracked entries.
type Event struct {
	Type  string             `json:"type" msgpack:"type"`
	Entry models.UploadEntry `json:"entry" msgpack:"entry"`
}

// Subscription receives tracker events. C is closed when the subscriber
// falls behind, unsubscribes, or the tracker is cancelled.
type Subscription struct {
	C <-chan Event
	c chan Event
}

const subscriberBuffer = 64

type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]bool
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]bool)}
}

func (h *hub) subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, c: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = true
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.c)
	}
}

// publish never blocks. A subscriber whose buffer is full is dropped.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.c <- ev:
		default:
			delete(h.subs, sub)
			close(sub.c)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.c)
	}
}
