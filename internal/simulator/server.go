package simulator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/modbus"
	"go.uber.org/zap"
)

// DefaultRegisters is the size of the holding register table.
const DefaultRegisters = 100

// Server is a Modbus TCP slave answering FC 0x03 from an in-memory
// register table.
type Server struct {
	logger *zap.Logger

	mu        sync.Mutex
	registers []uint16
	stalled   bool
	listener  net.Listener
	conns     map[net.Conn]struct{}
	closed    bool

	wg sync.WaitGroup
}

func NewServer(size int, logger *zap.Logger) *Server {
	if size <= 0 {
		size = DefaultRegisters
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		registers: make([]uint16, size),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Set writes a raw register word. Out-of-range addresses are ignored.
func (s *Server) Set(addr, raw uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) < len(s.registers) {
		s.registers[addr] = raw
	}
}

// SetValue writes an engineering value at DefaultScale.
func (s *Server) SetValue(addr uint16, value float64) error {
	raw, err := modbus.Encode(value, modbus.DefaultScale)
	if err != nil {
		return err
	}
	s.Set(addr, raw)
	return nil
}

func (s *Server) Get(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr) < len(s.registers) {
		return s.registers[addr]
	}
	return 0
}

// Stall makes the server swallow requests without answering, like a PLC
// that hangs mid-transaction.
func (s *Server) Stall(on bool) {
	s.mu.Lock()
	s.stalled = on
	s.mu.Unlock()
}

// ListenAndServe listens on addr and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil after Close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("PLC simulator listening", zap.String("address", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// Addr returns the listen address once Serve runs.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run refreshes the registers from g every interval until ctx is done.
func (s *Server) Run(ctx context.Context, g *Generator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.apply(g.Sample(time.Now()))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.apply(g.Sample(now))
		}
	}
}

// Close stops accepting, drops every client and waits for the handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *Server) apply(values map[uint16]uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, raw := range values {
		if int(addr) < len(s.registers) {
			s.registers[addr] = raw
		}
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("Client connected")

	for {
		req, err := modbus.ReadFrame(conn)
		if err != nil {
			log.Debug("Client disconnected", zap.Error(err))
			return
		}

		resp := s.respond(req)
		if resp == nil {
			continue
		}
		if _, err := conn.Write(resp.Encode()); err != nil {
			log.Debug("Write failed", zap.Error(err))
			return
		}
	}
}

// respond builds the answer for req, nil while stalled.
func (s *Server) respond(req *modbus.ModbusFrame) *modbus.ModbusFrame {
	if req.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		return modbus.ExceptionResponse(req, modbus.ExceptionIllegalFunction)
	}

	start, qty, err := req.ParseReadRequest()
	if err != nil || qty == 0 || qty > modbus.MaxReadQuantity {
		return modbus.ExceptionResponse(req, modbus.ExceptionIllegalDataValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stalled {
		return nil
	}
	end := int(start) + int(qty)
	if end > len(s.registers) {
		return modbus.ExceptionResponse(req, modbus.ExceptionIllegalDataAddress)
	}

	values := make([]uint16, qty)
	copy(values, s.registers[start:end])
	return modbus.ReadHoldingRegistersResponse(req, values)
}
