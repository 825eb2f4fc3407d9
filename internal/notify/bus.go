package notify

import (
	"sync"
)

// Event is anything published on the bus
type Event interface {
	event()
}

// GuestsUpdated asks every view of a location's guest list to be re-fetched
type GuestsUpdated struct {
	LocationUID string
}

// FollowChanged is published after a member follows or unfollows a location
type FollowChanged struct {
	LocationUID string
	MemberUID   string
	Active      bool
}

func (GuestsUpdated) event() {}
func (FollowChanged) event() {}

// ToastKind is the severity of a user-visible notification
type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast is a user-visible notification
type Toast struct {
	Kind    ToastKind `json:"kind"`
	Message string    `json:"message"`
}

// Bus is a small synchronous publish/subscribe hub for typed events
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every published event and returns a function removing it
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish calls every subscriber in the caller's goroutine
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
