// Package events allows for the registering and receiving of events.
package events

import (
	"fmt"
	"slices"
	"sync"
)

// Kind identifies what an event carries.
type Kind string

// Set of event kinds published by the node.
const (
	KindBlock              Kind = "block"
	KindBlockLogs          Kind = "blockLogs"
	KindPendingTransaction Kind = "pendingTransaction"
	KindLog                Kind = "log"
)

// Event is a single published value.
type Event struct {
	Kind Kind
	Data any
}

type subscriber struct {
	kinds []Kind
	queue *Queue[Event]
	ch    chan Event
	done  chan struct{}
	fn    func(Event)
}

func (s *subscriber) wants(kind Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, kind)
}

func (s *subscriber) close() {
	if s.queue != nil {
		s.queue.Close()
		close(s.done)
	}
}

// =============================================================================

// Events maintains a mapping of unique id and subscribers so goroutines
// can register and receive events.
type Events struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		subs: make(map[string]*subscriber),
	}
}

// Shutdown closes and removes all subscribers.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, sub := range evt.subs {
		delete(evt.subs, id)
		sub.close()
	}
}

// Acquire takes a unique id and returns a channel that receives every
// event of the specified kinds, or of all kinds when none are given. Events
// queue up without limit until the receiver reads them, so a slow receiver
// never loses an event and never slows the sender.
func (evt *Events) Acquire(id string, kinds ...Kind) <-chan Event {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	if sub, exists := evt.subs[id]; exists && sub.ch != nil {
		return sub.ch
	}

	sub := subscriber{
		kinds: kinds,
		queue: NewQueue[Event](),
		ch:    make(chan Event),
		done:  make(chan struct{}),
	}
	evt.subs[id] = &sub

	go Forward(sub.queue, sub.ch, sub.done)

	return sub.ch
}

// AcquireFunc registers a handler that is called by Send before it
// returns. The handler must not call back into Events.
func (evt *Events) AcquireFunc(id string, fn func(Event), kinds ...Kind) {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	if sub, exists := evt.subs[id]; exists {
		sub.close()
	}

	evt.subs[id] = &subscriber{
		kinds: kinds,
		fn:    fn,
	}
}

// Release closes and removes the subscriber that was registered by the
// call to Acquire or AcquireFunc.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	sub, exists := evt.subs[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.subs, id)
	sub.close()

	return nil
}

// Send delivers the event to every subscriber that wants its kind. Sends
// are serialized, so every subscriber sees events in the same order and a
// subscriber added during a send only sees the events after it.
func (evt *Events) Send(e Event) {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for _, sub := range evt.subs {
		if !sub.wants(e.Kind) {
			continue
		}

		if sub.fn != nil {
			sub.fn(e)
			continue
		}
		sub.queue.Push(e)
	}
}

// Log sends a formatted message as a log event. Its signature matches the
// event handlers used across the blockchain packages.
func (evt *Events) Log(v string, args ...any) {
	evt.Send(Event{Kind: KindLog, Data: fmt.Sprintf(v, args...)})
}

// Count returns the number of subscribers.
func (evt *Events) Count() int {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	return len(evt.subs)
}
