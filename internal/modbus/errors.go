package modbus

import (
	"errors"
	"fmt"
	"time"
)

// ErrBackoff is returned while the client waits out its reconnect delay.
var ErrBackoff = errors.New("reconnect backoff in progress")

// ConnectionError means the transport could not be established or was dropped.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("modbus %s %s: connection error: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means no response arrived within the read bound.
type TimeoutError struct {
	Op      string
	Addr    string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("modbus %s %s: no response within %s: %v", e.Op, e.Addr, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProtocolError means the controller answered with something unusable:
// an exception response or a malformed frame.
type ProtocolError struct {
	Op        string
	Addr      string
	Exception uint8 // 0 if not an exception response
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Exception != 0 {
		return fmt.Sprintf("modbus %s %s: exception 0x%02X", e.Op, e.Addr, e.Exception)
	}
	return fmt.Sprintf("modbus %s %s: protocol error: %v", e.Op, e.Addr, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransient reports whether err should trigger reconnect handling.
func IsTransient(err error) bool {
	var ce *ConnectionError
	var te *TimeoutError
	return errors.As(err, &ce) || errors.As(err, &te)
}
