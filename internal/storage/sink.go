package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"go.uber.org/zap"
)

// Sink is the append-only write side the collector depends on. Each call is
// atomic and must be safe for concurrent use.
type Sink interface {
	AppendReading(ctx context.Context, r types.Reading) error
	CreateAlert(ctx context.Context, a types.Alert) error
}

// PersistenceError is returned once all attempts failed.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RetryingSink retries a failed write a bounded number of times with a fixed delay.
type RetryingSink struct {
	next     Sink
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

func NewRetryingSink(next Sink, attempts int, delay time.Duration, logger *zap.Logger) *RetryingSink {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingSink{next: next, attempts: attempts, delay: delay, logger: logger}
}

func (s *RetryingSink) AppendReading(ctx context.Context, r types.Reading) error {
	return s.do(ctx, "append_reading", func() error {
		return s.next.AppendReading(ctx, r)
	})
}

func (s *RetryingSink) CreateAlert(ctx context.Context, a types.Alert) error {
	return s.do(ctx, "create_alert", func() error {
		return s.next.CreateAlert(ctx, a)
	})
}

func (s *RetryingSink) do(ctx context.Context, op string, fn func() error) error {
	var err error
	attempt := 0
	for attempt < s.attempts {
		attempt++
		if err = fn(); err == nil {
			return nil
		}
		if permanent(err) || attempt == s.attempts {
			break
		}

		s.logger.Debug("Persist failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return &PersistenceError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(s.delay):
		}
	}
	return &PersistenceError{Op: op, Attempts: attempt, Err: err}
}

func permanent(err error) bool {
	return errors.Is(err, ErrAlertOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
