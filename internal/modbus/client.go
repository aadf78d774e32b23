package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DialFunc opens the transport to address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

type ClientOptions struct {
	Timeout        time.Duration
	UnitID         uint8
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Dialer         DialFunc
	Now            func() time.Time
	Logger         *zap.Logger
}

// ClientStatus is a snapshot of the connection.
type ClientStatus struct {
	Address      string    `json:"address"`
	State        string    `json:"state"`
	PLCConnected bool      `json:"plc_connected"`
	RetryAt      time.Time `json:"retry_at,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Client owns one Modbus TCP connection. Requests are serialised, there is
// never more than one outstanding read on the connection.
type Client struct {
	address string
	unitID  uint8
	timeout time.Duration
	dial    DialFunc
	now     func() time.Time
	logger  *zap.Logger

	mu            sync.Mutex // serialises requests, guards transactionID and backoff
	transactionID uint16
	backoff       *Backoff

	stateMu      sync.Mutex
	conn         net.Conn
	state        ConnState
	plcConnected bool
	closed       bool
	retryAt      time.Time
	lastErr      error
	listeners    []func(connected bool)
}

func NewClient(address string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.UnitID == 0 {
		opts.UnitID = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		d := &net.Dialer{Timeout: opts.Timeout}
		opts.Dialer = func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		}
	}

	return &Client{
		address: address,
		unitID:  opts.UnitID,
		timeout: opts.Timeout,
		dial:    opts.Dialer,
		now:     opts.Now,
		logger:  opts.Logger.With(zap.String("plc", address)),
		backoff: NewBackoff(opts.BackoffInitial, opts.BackoffMax),
		state:   StateDisconnected,
	}
}

func (c *Client) Address() string {
	return c.address
}

// OnStatusChange registers fn to be called whenever the plc_connected flag flips.
// fn runs synchronously on the reading goroutine and must not block.
func (c *Client) OnStatusChange(fn func(connected bool)) {
	c.stateMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.stateMu.Unlock()
}

// Connect stellt TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.connectLocked(ctx)
	return err
}

// ReadBlock liest quantity Holding Registers ab start.
// While the reconnect backoff has not elapsed it fails immediately with a
// ConnectionError wrapping ErrBackoff.
func (c *Client) ReadBlock(ctx context.Context, start, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > MaxReadQuantity {
		return nil, fmt.Errorf("modbus: invalid quantity %d", quantity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(); err != nil {
		return nil, err
	}

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return nil, err
	}

	c.transactionID++
	req := ReadHoldingRegistersRequest(c.transactionID, c.unitID, start, quantity)

	resp, err := c.roundTrip(ctx, conn, req)
	if err != nil {
		c.drop(err)
		return nil, err
	}

	// exception: controller is alive, keep the connection
	if resp.IsException() {
		return nil, &ProtocolError{Op: "read", Addr: c.address, Exception: resp.ExceptionCode()}
	}

	values, err := resp.ParseRegisterResponse(quantity)
	if err != nil {
		perr := &ProtocolError{Op: "read", Addr: c.address, Err: err}
		c.drop(perr)
		return nil, perr
	}

	c.succeeded()
	return values, nil
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() ClientStatus {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	st := ClientStatus{
		Address:      c.address,
		State:        c.state.String(),
		PLCConnected: c.plcConnected,
		RetryAt:      c.retryAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Client) State() ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) PLCConnected() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.plcConnected
}

// Close waits for the in-flight request, then closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ForceClose()
}

// ForceClose closes the connection without waiting for an in-flight request,
// which then fails with a ConnectionError.
func (c *Client) ForceClose() error {
	c.stateMu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	wasConnected := c.plcConnected
	c.plcConnected = false
	listeners := append([]func(bool){}, c.listeners...)
	c.stateMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if wasConnected {
		notify(listeners, false)
	}
	return err
}

func (c *Client) ready() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return &ConnectionError{Op: "read", Addr: c.address, Err: net.ErrClosed}
	}
	if c.conn == nil && c.now().Before(c.retryAt) {
		return &ConnectionError{Op: "read", Addr: c.address, Err: ErrBackoff}
	}
	return nil
}

// connectLocked requires c.mu.
func (c *Client) connectLocked(ctx context.Context) (net.Conn, error) {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil, &ConnectionError{Op: "connect", Addr: c.address, Err: net.ErrClosed}
	}
	if c.conn != nil {
		conn := c.conn
		c.stateMu.Unlock()
		return conn, nil
	}
	c.state = StateConnecting
	c.stateMu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(dialCtx, c.address)
	if err != nil {
		cerr := &ConnectionError{Op: "connect", Addr: c.address, Err: err}
		c.drop(cerr)
		return nil, cerr
	}

	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		conn.Close()
		return nil, &ConnectionError{Op: "connect", Addr: c.address, Err: net.ErrClosed}
	}
	c.conn = conn
	c.state = StateConnected
	c.stateMu.Unlock()

	c.logger.Info("PLC connected")
	return conn, nil
}

func (c *Client) roundTrip(ctx context.Context, conn net.Conn, req *ModbusFrame) (*ModbusFrame, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, &ConnectionError{Op: "read", Addr: c.address, Err: err}
	}

	// Abbruch von außen: blockierendes I/O sofort beenden
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(req.Encode()); err != nil {
		return nil, c.classify(ctx, "write", err)
	}

	resp, err := ReadFrame(conn)
	if err != nil {
		if errors.Is(err, ErrMalformedFrame) {
			return nil, &ProtocolError{Op: "read", Addr: c.address, Err: err}
		}
		return nil, c.classify(ctx, "read", err)
	}

	if resp.TransactionID != req.TransactionID {
		return nil, &ProtocolError{Op: "read", Addr: c.address,
			Err: fmt.Errorf("%w: transaction ID mismatch: expected %d, got %d",
				ErrMalformedFrame, req.TransactionID, resp.TransactionID)}
	}
	if resp.FunctionCode&^exceptionFlag != req.FunctionCode {
		return nil, &ProtocolError{Op: "read", Addr: c.address,
			Err: fmt.Errorf("%w: unexpected function code 0x%02X", ErrMalformedFrame, resp.FunctionCode)}
	}

	return resp, nil
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &ConnectionError{Op: op, Addr: c.address, Err: ctx.Err()}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Addr: c.address, Timeout: c.timeout, Err: ctx.Err()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Addr: c.address, Timeout: c.timeout, Err: err}
	}
	return &ConnectionError{Op: op, Addr: c.address, Err: err}
}

// drop tears the connection down and schedules the next attempt. Requires c.mu.
func (c *Client) drop(cause error) {
	delay := c.backoff.Next()

	c.stateMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.state == StateConnecting {
		c.state = StateError
	} else {
		c.state = StateDisconnected
	}
	c.retryAt = c.now().Add(delay)
	c.lastErr = cause
	wasConnected := c.plcConnected
	c.plcConnected = false
	listeners := append([]func(bool){}, c.listeners...)
	c.stateMu.Unlock()

	c.logger.Warn("PLC connection dropped",
		zap.Error(cause),
		zap.Duration("retry_in", delay))

	if wasConnected {
		notify(listeners, false)
	}
}

// succeeded resets the backoff after a good read. Requires c.mu.
func (c *Client) succeeded() {
	c.backoff.Reset()

	c.stateMu.Lock()
	c.state = StateConnected
	c.retryAt = time.Time{}
	c.lastErr = nil
	flipped := !c.plcConnected
	c.plcConnected = true
	listeners := append([]func(bool){}, c.listeners...)
	c.stateMu.Unlock()

	if flipped {
		notify(listeners, true)
	}
}

func notify(listeners []func(bool), connected bool) {
	for _, fn := range listeners {
		fn(connected)
	}
}
