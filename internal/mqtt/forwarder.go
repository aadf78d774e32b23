package mqtt

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"go.uber.org/zap"
)

// DefaultQueueSize bounds the events waiting for the broker.
const DefaultQueueSize = 256

// PublishFunc sends one payload to the broker.
type PublishFunc func(topic string, payload []byte) error

// Forwarder is a bus subscriber that republishes every event to
// <prefix>/<kind>. It never reports a delivery error to the bus: when the
// queue is full the event is dropped and counted, the subscription stays.
type Forwarder struct {
	prefix  string
	publish PublishFunc
	logger  *zap.Logger

	mu     sync.Mutex
	queue  chan events.Event
	closed bool
	done   chan struct{}

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewForwarder(prefix string, queueSize int, publish PublishFunc, logger *zap.Logger) *Forwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	f := &Forwarder{
		prefix:  prefix,
		publish: publish,
		logger:  logger,
		queue:   make(chan events.Event, queueSize),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Forwarder) ID() string { return "mqtt-forwarder" }

func (f *Forwarder) Deliver(e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return events.ErrBusClosed
	}
	select {
	case f.queue <- e:
	default:
		n := f.dropped.Add(1)
		f.logger.Debug("MQTT queue full, event dropped",
			zap.String("event", string(e.Kind)),
			zap.Uint64("dropped_total", n))
	}
	return nil
}

// Close stops accepting events. Queued events are still sent; Wait blocks
// until they are.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
}

func (f *Forwarder) Wait() {
	<-f.done
}

// Topic returns the topic an event kind is published on.
func (f *Forwarder) Topic(kind events.Kind) string {
	return f.prefix + "/" + string(kind)
}

type ForwarderStats struct {
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		Forwarded: f.forwarded.Load(),
		Dropped:   f.dropped.Load(),
		Failed:    f.failed.Load(),
	}
}

func (f *Forwarder) run() {
	defer close(f.done)

	for e := range f.queue {
		payload, err := json.Marshal(e)
		if err != nil {
			f.failed.Add(1)
			f.logger.Error("Failed to marshal event", zap.String("event", string(e.Kind)), zap.Error(err))
			continue
		}

		topic := f.Topic(e.Kind)
		if err := f.publish(topic, payload); err != nil {
			f.failed.Add(1)
			f.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		f.forwarded.Add(1)
	}
}
