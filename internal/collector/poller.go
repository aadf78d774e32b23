package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/alerting"
	"github.com/KevinKickass/OpenMachineMonitor/internal/directory"
	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"github.com/KevinKickass/OpenMachineMonitor/internal/modbus"
	"github.com/KevinKickass/OpenMachineMonitor/internal/storage"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"go.uber.org/zap"
)

// BlockReader is the protocol side of a poller.
type BlockReader interface {
	ReadBlock(ctx context.Context, start, quantity uint16) ([]uint16, error)
}

// Publisher receives live events.
type Publisher interface {
	Publish(events.Event)
}

type PollerConfig struct {
	Machine   types.Machine
	Reader    BlockReader
	Source    directory.Source
	Tracker   *alerting.Tracker
	Sink      storage.Sink
	Publisher Publisher
	Clock     Clock
	Logger    *zap.Logger
}

// PollerStats is a snapshot of one poller.
type PollerStats struct {
	Running       bool          `json:"running"`
	InCycle       bool          `json:"in_cycle"`
	Cycles        uint64        `json:"cycles"`
	Skipped       uint64        `json:"skipped"`
	FailedReads   uint64        `json:"failed_reads"`
	DroppedWrites uint64        `json:"dropped_writes"`
	LastCycle     time.Duration `json:"last_cycle"`
	LastUpdate    *time.Time    `json:"last_update"`
}

// Poller runs the fixed-interval read cycle of one machine. A tick that
// arrives while the previous cycle still runs is skipped and counted.
type Poller struct {
	machine   types.Machine
	reader    BlockReader
	source    directory.Source
	tracker   *alerting.Tracker
	sink      storage.Sink
	publisher Publisher
	clock     Clock
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	busy    atomic.Bool
	skipped atomic.Uint64

	statsMu       sync.Mutex
	cycles        uint64
	failedReads   uint64
	droppedWrites uint64
	lastCycle     time.Duration
	lastUpdate    time.Time
	lastTimestamp time.Time
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{
		machine:   cfg.Machine,
		reader:    cfg.Reader,
		source:    cfg.Source,
		tracker:   cfg.Tracker,
		sink:      cfg.Sink,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		logger: cfg.Logger.With(
			zap.Int64("machine_id", cfg.Machine.ID),
			zap.String("machine", cfg.Machine.Name)),
	}
}

// Start startet das zyklische Polling. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.logger.Info("Poller started", zap.Duration("interval", p.machine.PollInterval))
}

// Cancel stops scheduling and cancels the in-flight cycle without waiting.
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	p.running = false
}

// Wait blocks until the loop and any in-flight cycle have returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Stop stoppt das Polling
func (p *Poller) Stop() {
	p.Cancel()
	p.Wait()
	p.logger.Info("Poller stopped")
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Stats() PollerStats {
	st := PollerStats{
		Running: p.IsRunning(),
		InCycle: p.busy.Load(),
		Skipped: p.skipped.Load(),
	}

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	st.Cycles = p.cycles
	st.FailedReads = p.failedReads
	st.DroppedWrites = p.droppedWrites
	st.LastCycle = p.lastCycle
	if !p.lastUpdate.IsZero() {
		t := p.lastUpdate
		st.LastUpdate = &t
	}
	return st
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.machine.PollInterval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		n := p.skipped.Add(1)
		p.logger.Warn("Previous cycle still running, tick skipped",
			zap.Uint64("skipped_total", n))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)
		p.RunCycle(ctx)
	}()
}

// RunCycle performs one complete read cycle. Callers must not run two cycles
// of the same poller concurrently; the loop guarantees that.
func (p *Poller) RunCycle(ctx context.Context) {
	start := p.clock.Now()

	params, err := p.source.ActiveParameters(ctx, p.machine.ID)
	if err != nil {
		p.logger.Error("Failed to load parameters", zap.Error(err))
		return
	}

	byAddr := make(map[uint16][]types.Parameter, len(params))
	addrs := make([]uint16, 0, len(params))
	for _, prm := range params {
		byAddr[prm.Address] = append(byAddr[prm.Address], prm)
		addrs = append(addrs, prm.Address)
	}

	var lastGood time.Time
	for _, block := range modbus.PlanBlocks(addrs) {
		if ctx.Err() != nil {
			break
		}

		values, err := p.reader.ReadBlock(ctx, block.Start, block.Count)
		ts := p.timestamp()

		if err != nil {
			if ctx.Err() != nil {
				p.logger.Debug("Block read cancelled",
					zap.Uint16("start", block.Start),
					zap.Error(err))
				break
			}
			p.readFailed(block, err)
			for i := 0; i < int(block.Count); i++ {
				for _, prm := range byAddr[block.Start+uint16(i)] {
					p.persist(ctx, types.BadReading(prm.ID, ts))
				}
			}
			continue
		}

		for i, raw := range values {
			for _, prm := range byAddr[block.Start+uint16(i)] {
				value := modbus.Decode(raw, prm.ScaleFactor)
				p.persist(ctx, types.GoodReading(prm.ID, raw, value, ts))
				p.publisher.Publish(events.NewReadingUpdated(prm.ID, value, ts))
				p.evaluate(ctx, prm, value, ts)
				lastGood = ts
			}
		}
	}

	elapsed := p.clock.Now().Sub(start)

	p.statsMu.Lock()
	p.cycles++
	p.lastCycle = elapsed
	if !lastGood.IsZero() {
		p.lastUpdate = lastGood
	}
	p.statsMu.Unlock()

	if elapsed > p.machine.PollInterval {
		p.logger.Warn("Collection took longer than interval",
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", p.machine.PollInterval))
	}
}

// timestamp returns the capture time, strictly increasing per poller.
func (p *Poller) timestamp() time.Time {
	now := p.clock.Now()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if !now.After(p.lastTimestamp) {
		now = p.lastTimestamp.Add(time.Microsecond)
	}
	p.lastTimestamp = now
	return now
}

func (p *Poller) readFailed(block modbus.Block, err error) {
	p.statsMu.Lock()
	p.failedReads++
	p.statsMu.Unlock()

	fields := []zap.Field{
		zap.Uint16("start", block.Start),
		zap.Uint16("count", block.Count),
		zap.Error(err),
	}

	var pe *modbus.ProtocolError
	switch {
	case errors.Is(err, modbus.ErrBackoff):
		p.logger.Debug("PLC in reconnect backoff, block marked bad", fields...)
	case errors.As(err, &pe):
		p.logger.Error("Protocol error reading block", fields...)
	default:
		p.logger.Warn("Block read failed", fields...)
	}
}

func (p *Poller) persist(ctx context.Context, r types.Reading) {
	if err := p.sink.AppendReading(ctx, r); err != nil {
		p.statsMu.Lock()
		p.droppedWrites++
		p.statsMu.Unlock()

		p.logger.Warn("Reading dropped",
			zap.Int64("parameter_id", r.ParameterID),
			zap.Error(err))
	}
}

func (p *Poller) evaluate(ctx context.Context, prm types.Parameter, value float64, ts time.Time) {
	alert, raised := p.tracker.Evaluate(prm, value, ts)
	if !raised {
		return
	}

	if err := p.sink.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrAlertOpen) {
			// Slot ist in der DB schon belegt, nicht erneut versuchen
			p.tracker.Hold(alert)
			p.logger.Debug("Alert already open in storage",
				zap.Int64("parameter_id", prm.ID),
				zap.String("direction", string(alert.Direction)))
			return
		}
		p.tracker.Release(alert)

		p.statsMu.Lock()
		p.droppedWrites++
		p.statsMu.Unlock()

		p.logger.Warn("Alert dropped",
			zap.Int64("parameter_id", prm.ID),
			zap.String("severity", string(alert.Severity)),
			zap.Error(err))
		return
	}

	p.tracker.Confirm(alert)
	p.publisher.Publish(events.NewAlertCreated(alert))

	p.logger.Info("Alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.Int64("parameter_id", prm.ID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("value", value))
}
