package modbus

import "time"

const (
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 30 * time.Second
)

// Backoff yields exponentially growing reconnect delays up to a cap.
// Not safe for concurrent use; the client guards it.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max < initial {
		max = DefaultBackoffMax
		if max < initial {
			max = initial
		}
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the current delay and doubles it for the following call.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = b.initial
}
