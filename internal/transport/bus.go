package transport

import (
	"encoding/json"
	"sync"
)

type Handler func(data json.RawMessage)

// Subscription is the unsubscribe handle returned by Bus.Subscribe.
// Unsubscribing twice is harmless.
type Subscription struct {
	bus   *Bus
	event string
	id    int
}

func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.event, s.id)
}

// Bus fans out named events to registered handlers. Handlers for one
// event run to completion, in registration order, before the publisher
// continues.
type Bus struct {
	mu       sync.RWMutex
	nextId   int
	handlers map[string]map[int]Handler
	order    map[string][]int
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string]map[int]Handler),
		order:    make(map[string][]int),
	}
}

func (b *Bus) Subscribe(event string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextId++
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]Handler)
	}
	b.handlers[event][b.nextId] = h
	b.order[event] = append(b.order[event], b.nextId)

	return &Subscription{bus: b, event: event, id: b.nextId}
}

func (b *Bus) Publish(event string, data json.RawMessage) {
	b.mu.RLock()
	ids := b.order[event]
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := b.handlers[event][id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
}

func (b *Bus) remove(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hs, ok := b.handlers[event]; ok {
		delete(hs, id)
	}

	ids := b.order[event]
	for i, v := range ids {
		if v == id {
			b.order[event] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
