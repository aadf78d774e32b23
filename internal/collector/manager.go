package collector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/alerting"
	"github.com/KevinKickass/OpenMachineMonitor/internal/directory"
	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"github.com/KevinKickass/OpenMachineMonitor/internal/modbus"
	"github.com/KevinKickass/OpenMachineMonitor/internal/storage"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"go.uber.org/zap"
)

// ConnectivityNotifier receives raw connectivity transitions, typically an
// events.Debouncer.
type ConnectivityNotifier interface {
	Submit(events.ConnectivityData)
}

type ManagerConfig struct {
	ReadTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	ShutdownGrace  time.Duration
	Dialer         modbus.DialFunc
	Clock          Clock
}

// MachineStatus is what the status endpoint reports per machine.
type MachineStatus struct {
	MachineID      int64               `json:"machine_id"`
	Name           string              `json:"name"`
	Host           string              `json:"host"`
	Port           int                 `json:"port"`
	UpdateInterval float64             `json:"update_interval"`
	Running        bool                `json:"running"`
	Connected      bool                `json:"connected"`
	Connection     modbus.ClientStatus `json:"connection"`
	Poller         PollerStats         `json:"poller"`
}

type machineEntry struct {
	machine types.Machine
	client  *modbus.Client
	poller  *Poller
}

// Manager owns one client and one poller per machine.
type Manager struct {
	cfg       ManagerConfig
	source    directory.Source
	tracker   *alerting.Tracker
	sink      storage.Sink
	publisher Publisher
	notifier  ConnectivityNotifier
	logger    *zap.Logger

	mu       sync.RWMutex
	machines map[int64]*machineEntry
}

func NewManager(
	cfg ManagerConfig,
	source directory.Source,
	tracker *alerting.Tracker,
	sink storage.Sink,
	publisher Publisher,
	notifier ConnectivityNotifier,
	logger *zap.Logger,
) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		source:    source,
		tracker:   tracker,
		sink:      sink,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		machines:  make(map[int64]*machineEntry),
	}
}

// AddMachine creates client and poller for m. Polling starts with StartAll.
func (m *Manager) AddMachine(machine types.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.machines[machine.ID]; exists {
		return fmt.Errorf("machine already registered: %d", machine.ID)
	}
	if machine.PollInterval <= 0 {
		return fmt.Errorf("machine %d: poll interval must be positive", machine.ID)
	}

	client := modbus.NewClient(machine.Address(), modbus.ClientOptions{
		Timeout:        m.cfg.ReadTimeout,
		UnitID:         machine.UnitID,
		BackoffInitial: m.cfg.BackoffInitial,
		BackoffMax:     m.cfg.BackoffMax,
		Dialer:         m.cfg.Dialer,
		Now:            m.cfg.Clock.Now,
		Logger:         m.logger,
	})

	poller := NewPoller(PollerConfig{
		Machine:   machine,
		Reader:    client,
		Source:    m.source,
		Tracker:   m.tracker,
		Sink:      m.sink,
		Publisher: m.publisher,
		Clock:     m.cfg.Clock,
		Logger:    m.logger,
	})

	entry := &machineEntry{machine: machine, client: client, poller: poller}
	client.OnStatusChange(func(connected bool) {
		m.notify(entry, connected)
	})

	m.machines[machine.ID] = entry

	m.logger.Info("Machine registered",
		zap.Int64("machine_id", machine.ID),
		zap.String("name", machine.Name),
		zap.String("address", machine.Address()),
		zap.Duration("interval", machine.PollInterval))

	return nil
}

// StartAll starts every poller. Each machine runs independently.
func (m *Manager) StartAll(ctx context.Context) {
	for _, e := range m.entries() {
		e.poller.Start(ctx)
		m.notify(e, e.client.PLCConnected())
	}
}

// StopAll cancels all pollers and waits for them. In-flight reads that do not
// return within the shutdown grace get their connection force-closed. StopAll
// returns only after every cycle goroutine has exited.
func (m *Manager) StopAll(ctx context.Context) error {
	entries := m.entries()

	for _, e := range entries {
		e.poller.Cancel()
	}

	done := make(chan struct{})
	go func() {
		for _, e := range entries {
			e.poller.Wait()
		}
		close(done)
	}()

	grace := time.NewTimer(m.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		m.logger.Warn("Shutdown grace elapsed, force closing PLC connections")
		m.forceClose(entries)
		<-done
	case <-ctx.Done():
		m.logger.Warn("Shutdown context done, force closing PLC connections")
		m.forceClose(entries)
		<-done
	}

	for _, e := range entries {
		if err := e.client.Close(); err != nil {
			m.logger.Error("Failed to close PLC connection",
				zap.Int64("machine_id", e.machine.ID),
				zap.Error(err))
		}
		m.notify(e, false)
	}

	m.logger.Info("All pollers stopped", zap.Int("machines", len(entries)))
	return nil
}

// Status returns per-machine status ordered by machine id.
func (m *Manager) Status() []MachineStatus {
	entries := m.entries()
	out := make([]MachineStatus, 0, len(entries))
	for _, e := range entries {
		conn := e.client.Status()
		out = append(out, MachineStatus{
			MachineID:      e.machine.ID,
			Name:           e.machine.Name,
			Host:           e.machine.Host,
			Port:           e.machine.Port,
			UpdateInterval: e.machine.PollInterval.Seconds(),
			Running:        e.poller.IsRunning(),
			Connected:      conn.PLCConnected,
			Connection:     conn,
			Poller:         e.poller.Stats(),
		})
	}
	return out
}

// Poller returns the poller of a machine.
func (m *Manager) Poller(machineID int64) (*Poller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.machines[machineID]
	if !ok {
		return nil, false
	}
	return e.poller, true
}

func (m *Manager) entries() []*machineEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*machineEntry, 0, len(m.machines))
	for _, e := range m.machines {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *machineEntry) int {
		return cmp.Compare(a.machine.ID, b.machine.ID)
	})
	return out
}

func (m *Manager) forceClose(entries []*machineEntry) {
	for _, e := range entries {
		if err := e.client.ForceClose(); err != nil {
			m.logger.Debug("Force close", zap.Int64("machine_id", e.machine.ID), zap.Error(err))
		}
	}
}

func (m *Manager) notify(e *machineEntry, connected bool) {
	if m.notifier == nil {
		return
	}
	m.notifier.Submit(events.ConnectivityData{
		MachineID:            e.machine.ID,
		PLCConnected:         connected,
		DataCollectionActive: e.poller.IsRunning(),
		LastUpdate:           e.poller.Stats().LastUpdate,
	})
}
