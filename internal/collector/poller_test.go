package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/alerting"
	"github.com/KevinKickass/OpenMachineMonitor/internal/directory"
	"github.com/KevinKickass/OpenMachineMonitor/internal/events"
	"github.com/KevinKickass/OpenMachineMonitor/internal/modbus"
	"github.com/KevinKickass/OpenMachineMonitor/internal/storage"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		ch:  make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker { return fakeTicker{c.ch} }

// Tick delivers one tick to the running poll loop.
func (c *fakeClock) Tick(t *testing.T) {
	t.Helper()
	select {
	case c.ch <- c.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not accept tick")
	}
}

type fakeTicker struct{ ch chan time.Time }

func (f fakeTicker) C() <-chan time.Time { return f.ch }
func (f fakeTicker) Stop()               {}

// mapReader serves registers from a map and fails blocks starting at a listed address.
type mapReader struct {
	mu     sync.Mutex
	values map[uint16]uint16
	fail   map[uint16]error
	calls  int
}

func (r *mapReader) ReadBlock(_ context.Context, start, quantity uint16) ([]uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.fail[start]; err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = r.values[start+uint16(i)]
	}
	return out, nil
}

func (r *mapReader) set(addr, raw uint16) {
	r.mu.Lock()
	r.values[addr] = raw
	r.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	readings  []types.Reading
	alerts    []types.Alert
	alertErrs []error
}

func (s *recordingSink) AppendReading(_ context.Context, r types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingSink) CreateAlert(_ context.Context, a types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alertErrs) > 0 {
		err := s.alertErrs[0]
		s.alertErrs = s.alertErrs[1:]
		if err != nil {
			return err
		}
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) snapshot() ([]types.Reading, []types.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Reading(nil), s.readings...), append([]types.Alert(nil), s.alerts...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(kind events.Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var testMachine = types.Machine{ID: 1, Name: "press-1", Host: "127.0.0.1", Port: 5020, UnitID: 1, PollInterval: time.Second}

func testParameters() []types.Parameter {
	return []types.Parameter{
		{ID: 1, MachineID: 1, Name: "Temperature", Address: 20, Unit: "°C", ScaleFactor: 100, Min: types.Float(20), Max: types.Float(80), Active: true},
		{ID: 2, MachineID: 1, Name: "Vibration", Address: 21, Unit: "Hz", ScaleFactor: 100, Min: types.Float(0), Max: types.Float(100), Active: true},
		{ID: 3, MachineID: 1, Name: "Sound", Address: 30, Unit: "dB", ScaleFactor: 100, Max: types.Float(90), Active: true},
		{ID: 4, MachineID: 1, Name: "Disabled", Address: 40, Unit: "", ScaleFactor: 100, Active: false},
	}
}

type pollerFixture struct {
	poller    *Poller
	reader    *mapReader
	sink      *recordingSink
	publisher *recordingPublisher
	tracker   *alerting.Tracker
	clock     *fakeClock
}

func newPollerFixture(reader BlockReader) *pollerFixture {
	f := &pollerFixture{
		sink:      &recordingSink{},
		publisher: &recordingPublisher{},
		tracker:   alerting.NewTracker(alerting.DefaultRecentAlerts),
		clock:     newFakeClock(),
	}
	if reader == nil {
		f.reader = &mapReader{
			values: map[uint16]uint16{20: 2534, 21: 5000, 30: 6000},
			fail:   map[uint16]error{},
		}
		reader = f.reader
	}
	f.poller = NewPoller(PollerConfig{
		Machine:   testMachine,
		Reader:    reader,
		Source:    directory.NewStatic(testParameters()),
		Tracker:   f.tracker,
		Sink:      f.sink,
		Publisher: f.publisher,
		Clock:     f.clock,
		Logger:    zap.NewNop(),
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestRunCycleDecodesPersistsAndPublishes(t *testing.T) {
	f := newPollerFixture(nil)

	f.poller.RunCycle(context.Background())

	readings, alerts := f.sink.snapshot()
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}
	if len(alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(alerts))
	}

	byParam := make(map[int64]types.Reading)
	for _, r := range readings {
		byParam[r.ParameterID] = r
	}
	if _, ok := byParam[4]; ok {
		t.Error("Inactive parameter must not be polled")
	}
	temp := byParam[1]
	if temp.Quality != types.QualityGood || temp.Value == nil || *temp.Value != 25.34 {
		t.Errorf("Expected good reading 25.34, got %+v", temp)
	}
	if temp.Raw == nil || *temp.Raw != 2534 {
		t.Errorf("Expected raw 2534, got %v", temp.Raw)
	}

	if n := f.publisher.count(events.KindReadingUpdated); n != 3 {
		t.Errorf("Expected 3 reading events, got %d", n)
	}
	if f.reader.calls != 2 {
		t.Errorf("Expected 2 block reads (20-21, 30), got %d", f.reader.calls)
	}

	st := f.poller.Stats()
	if st.Cycles != 1 {
		t.Errorf("Expected 1 cycle, got %d", st.Cycles)
	}
	if st.LastUpdate == nil {
		t.Error("Expected last update to be set")
	}
}

func TestRunCycleRaisesAlert(t *testing.T) {
	f := newPollerFixture(nil)
	f.reader.set(20, 9500)

	f.poller.RunCycle(context.Background())

	_, alerts := f.sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.ParameterID != 1 || a.Direction != types.DirectionHigh {
		t.Errorf("Unexpected alert %+v", a)
	}
	if a.Severity != types.SeverityMedium {
		t.Errorf("Expected medium severity, got %s", a.Severity)
	}
	if a.ActualValue != 95 || a.ThresholdValue != 80 {
		t.Errorf("Expected 95 over 80, got %v over %v", a.ActualValue, a.ThresholdValue)
	}
	if n := f.publisher.count(events.KindAlertCreated); n != 1 {
		t.Errorf("Expected 1 alert event, got %d", n)
	}
	if f.tracker.OpenCount() != 1 {
		t.Errorf("Expected 1 open alert, got %d", f.tracker.OpenCount())
	}
}

func TestRunCycleFailedBlockMarksBad(t *testing.T) {
	f := newPollerFixture(nil)
	f.reader.fail[20] = &modbus.TimeoutError{Op: "read", Addr: "plc", Timeout: time.Second, Err: context.DeadlineExceeded}

	f.poller.RunCycle(context.Background())

	readings, _ := f.sink.snapshot()
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}
	for _, r := range readings {
		switch r.ParameterID {
		case 1, 2:
			if r.Quality != types.QualityBad || r.Value != nil || r.Raw != nil {
				t.Errorf("Expected bad reading for %d, got %+v", r.ParameterID, r)
			}
		case 3:
			if r.Quality != types.QualityGood {
				t.Errorf("Expected good reading for 3, got %s", r.Quality)
			}
		}
	}

	if n := f.publisher.count(events.KindReadingUpdated); n != 1 {
		t.Errorf("Expected 1 reading event, got %d", n)
	}
	if st := f.poller.Stats(); st.FailedReads != 1 {
		t.Errorf("Expected 1 failed read, got %d", st.FailedReads)
	}
}

func TestRunCycleTimestampsStrictlyIncrease(t *testing.T) {
	f := newPollerFixture(nil)

	// clock is frozen, so every block and cycle gets the same wall time
	f.poller.RunCycle(context.Background())
	f.poller.RunCycle(context.Background())

	readings, _ := f.sink.snapshot()
	last := map[int64]time.Time{}
	var prev time.Time
	for _, r := range readings {
		if t0, ok := last[r.ParameterID]; ok && !r.Timestamp.After(t0) {
			t.Errorf("Parameter %d: timestamp %v not after %v", r.ParameterID, r.Timestamp, t0)
		}
		last[r.ParameterID] = r.Timestamp
		if r.Timestamp.Before(prev) {
			t.Errorf("Timestamp went backwards: %v before %v", r.Timestamp, prev)
		}
		prev = r.Timestamp
	}
}

func TestRunCycleDeduplicatesAlerts(t *testing.T) {
	f := newPollerFixture(nil)

	for _, raw := range []uint16{3000, 9500, 9500, 4000} {
		f.reader.set(20, raw)
		f.clock.Advance(time.Second)
		f.poller.RunCycle(context.Background())
	}

	_, alerts := f.sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if n := f.publisher.count(events.KindAlertCreated); n != 1 {
		t.Errorf("Expected 1 alert event, got %d", n)
	}
}

func TestRunCycleReleasesAlertOnPersistFailure(t *testing.T) {
	f := newPollerFixture(nil)
	f.sink.alertErrs = []error{errors.New("db down")}
	f.reader.set(20, 9500)

	f.poller.RunCycle(context.Background())

	_, alerts := f.sink.snapshot()
	if len(alerts) != 0 {
		t.Fatalf("Expected no persisted alert, got %d", len(alerts))
	}
	if f.tracker.OpenCount() != 0 {
		t.Errorf("Expected reservation released, got %d open", f.tracker.OpenCount())
	}
	if n := f.publisher.count(events.KindAlertCreated); n != 0 {
		t.Errorf("Expected no alert event, got %d", n)
	}
	if st := f.poller.Stats(); st.DroppedWrites != 1 {
		t.Errorf("Expected 1 dropped write, got %d", st.DroppedWrites)
	}

	f.poller.RunCycle(context.Background())

	_, alerts = f.sink.snapshot()
	if len(alerts) != 1 {
		t.Errorf("Expected alert on retry cycle, got %d", len(alerts))
	}
}

func TestRunCycleHoldsSlotWhenAlertAlreadyStored(t *testing.T) {
	f := newPollerFixture(nil)
	conflict := fmt.Errorf("parameter 1 high: %w", storage.ErrAlertOpen)
	f.sink.alertErrs = []error{conflict, conflict, conflict}
	f.reader.set(20, 9500)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		f.poller.RunCycle(context.Background())
	}

	f.sink.mu.Lock()
	left := len(f.sink.alertErrs)
	f.sink.mu.Unlock()
	if left != 2 {
		t.Errorf("Expected a single insert attempt, got %d", 3-left)
	}
	if !f.tracker.OpenState(1).High {
		t.Error("Expected high slot to stay closed")
	}
	if f.tracker.OpenCount() != 1 {
		t.Errorf("Expected 1 open alert, got %d", f.tracker.OpenCount())
	}
	if st := f.poller.Stats(); st.DroppedWrites != 0 {
		t.Errorf("Expected no dropped writes, got %d", st.DroppedWrites)
	}
	if n := f.publisher.count(events.KindAlertCreated); n != 0 {
		t.Errorf("Expected no alert event, got %d", n)
	}
}

// blockingReader blocks every read until released or cancelled.
type blockingReader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingReader) ReadBlock(ctx context.Context, start, quantity uint16) ([]uint16, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return make([]uint16, quantity), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPollerSkipsTickWhileCycleRuns(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	f := newPollerFixture(reader)

	f.poller.Start(context.Background())

	select {
	case <-reader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("First cycle did not start immediately")
	}

	f.clock.Tick(t)
	waitFor(t, "skipped tick", func() bool { return f.poller.Stats().Skipped == 1 })

	if !f.poller.Stats().InCycle {
		t.Error("Expected poller to be in cycle")
	}

	close(reader.release)
	waitFor(t, "cycle end", func() bool { return f.poller.Stats().Cycles == 1 })

	f.clock.Tick(t)
	waitFor(t, "second cycle", func() bool { return f.poller.Stats().Cycles == 2 })

	f.poller.Stop()
	if f.poller.IsRunning() {
		t.Error("Expected poller to be stopped")
	}
	if st := f.poller.Stats(); st.Skipped != 1 {
		t.Errorf("Expected exactly 1 skipped tick, got %d", st.Skipped)
	}
}

func TestPollerStopCancelsInFlightCycle(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}
	f := newPollerFixture(reader)

	f.poller.Start(context.Background())
	<-reader.started

	done := make(chan struct{})
	go func() {
		f.poller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	readings, _ := f.sink.snapshot()
	if len(readings) != 0 {
		t.Errorf("Expected no readings from a cancelled cycle, got %d", len(readings))
	}
	if st := f.poller.Stats(); st.FailedReads != 0 || st.DroppedWrites != 0 {
		t.Errorf("Expected no failed reads or dropped writes, got %d/%d", st.FailedReads, st.DroppedWrites)
	}
}
