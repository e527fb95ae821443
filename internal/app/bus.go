package app

import (
	"sync"

	"propenrich/internal/domain"
)

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventUpdated   EventKind = "updated"
	EventCompleted EventKind = "completed"
)

// Event is a session notification. Record is a full snapshot, never a diff;
// it is empty for started events. Source names the fetcher behind an update.
type Event struct {
	Kind    EventKind             `json:"kind"`
	Token   uint64                `json:"token"`
	Session string                `json:"session_id"`
	Address string                `json:"address"`
	Source  string                `json:"source,omitempty"`
	Record  domain.PropertyRecord `json:"record"`
}

type Handler func(Event)

// Bus delivers events synchronously, in publish order, to every subscriber.
// Handlers run on the publishing goroutine: they must not block and must not
// call back into the Orchestrator.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
	order  []int
}

func NewBus() *Bus { return &Bus{subs: map[int]Handler{}} }

// Subscribe registers h and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, o := range b.order {
				if o == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.subs[id])
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}
