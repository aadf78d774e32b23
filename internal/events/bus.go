package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("event bus closed")

// Subscriber is a delivery target. Deliver must not block: a subscriber that
// cannot take the event right now returns an error and gets removed.
type Subscriber interface {
	ID() string
	Deliver(Event) error
	Close()
}

// Bus maintains the live subscriber set and fans events out to it
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	closed      bool
	logger      *zap.Logger

	published atomic.Uint64
	removed   atomic.Uint64
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]Subscriber),
		logger:      logger,
	}
}

func (b *Bus) Subscribe(s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.subscribers[s.ID()] = s

	b.logger.Info("Subscriber registered",
		zap.String("subscriber", s.ID()),
		zap.Int("total_subscribers", len(b.subscribers)))
	return nil
}

// Unsubscribe removes and closes the subscriber. Once it returns no further
// event is delivered to it.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	total := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	b.logger.Info("Subscriber unregistered",
		zap.String("subscriber", id),
		zap.Int("total_subscribers", total))
}

// Publish delivers e to every current subscriber. Failing subscribers are
// removed; the caller never sees their errors.
func (b *Bus) Publish(e Event) {
	var failed []Subscriber

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for _, s := range b.subscribers {
		if err := s.Deliver(e); err != nil {
			b.logger.Warn("Delivery failed, unregistering subscriber",
				zap.String("subscriber", s.ID()),
				zap.String("event", string(e.Kind)),
				zap.Error(err))
			failed = append(failed, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if len(failed) == 0 {
		return
	}

	b.mu.Lock()
	for _, s := range failed {
		delete(b.subscribers, s.ID())
	}
	b.mu.Unlock()

	for _, s := range failed {
		s.Close()
	}
	b.removed.Add(uint64(len(failed)))
}

// Count returns the number of connected subscribers
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Removed     uint64 `json:"removed"`
}

func (b *Bus) Stats() BusStats {
	return BusStats{
		Subscribers: b.Count(),
		Published:   b.published.Load(),
		Removed:     b.removed.Load(),
	}
}

// Close drops and closes all subscribers. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
