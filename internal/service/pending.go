package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/modmail/internal/clock"
)

// pendingRegistry holds short-lived prompts waiting for an answer. An
// entry is removed by exactly one of Take or its expiry.
type pendingRegistry[T any] struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]*pendingItem[T]
}

type pendingItem[T any] struct {
	value     T
	expiresAt time.Time
	timer     *clock.Timer
}

func newPendingRegistry[T any](clk clock.Clock) *pendingRegistry[T] {
	return &pendingRegistry[T]{clock: clk, items: make(map[string]*pendingItem[T])}
}

// Add stores value for ttl and returns its id. onExpire runs when the
// entry times out without being taken.
func (p *pendingRegistry[T]) Add(value T, ttl time.Duration, onExpire func(T)) (string, time.Time) {
	id := uuid.NewString()
	item := &pendingItem[T]{value: value, expiresAt: p.clock.Now().Add(ttl)}

	p.mu.Lock()
	p.items[id] = item
	p.mu.Unlock()

	timer := p.clock.AfterFunc(ttl, func() {
		p.mu.Lock()
		current, ok := p.items[id]
		if ok && current == item {
			delete(p.items, id)
		}
		p.mu.Unlock()
		if ok && current == item && onExpire != nil {
			onExpire(item.value)
		}
	})

	p.mu.Lock()
	item.timer = timer
	p.mu.Unlock()
	return id, item.expiresAt
}

// Take removes and returns the entry for id.
func (p *pendingRegistry[T]) Take(id string) (T, bool) {
	p.mu.Lock()
	item, ok := p.items[id]
	var timer *clock.Timer
	if ok {
		delete(p.items, id)
		timer = item.timer
	}
	p.mu.Unlock()

	if !ok {
		var zero T
		return zero, false
	}
	timer.Stop()
	return item.value, true
}

// Len returns the number of live entries.
func (p *pendingRegistry[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
