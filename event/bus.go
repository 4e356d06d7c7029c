package event

import (
	"fmt"
	"sync"

	"github.com/kbukum/devflow/logger"
)

// Subscriber receives events. Handle must not block.
type Subscriber interface {
	Handle(Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

// Handle calls f(e).
func (f SubscriberFunc) Handle(e Event) { f(e) }

// Bus dispatches events synchronously to its subscribers. A panicking
// subscriber is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
	order  []int
	log    *logger.Logger
}

// NewBus creates an empty bus. A nil logger discards recovered panics.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{subs: make(map[int]Subscriber), log: log.WithComponent("event-bus")}
}

// Subscribe adds s and returns a function that removes it.
func (b *Bus) Subscribe(s Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, id := range b.order {
		subs = append(subs, b.subs[id])
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", map[string]interface{}{
				"event":           string(e.Type),
				logger.FieldRunID: e.RunID,
				logger.FieldError: fmt.Sprint(r),
			})
		}
	}()
	s.Handle(e)
}
