package alerting

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
)

func temperature() types.Parameter {
	return types.Parameter{
		ID:     1,
		Name:   "Temperature",
		Unit:   "°C",
		Min:    types.Float(20),
		Max:    types.Float(80),
		Active: true,
	}
}

func TestTrackerDedupe(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()
	at := time.Unix(1_700_000_000, 0)

	var raised []types.Alert
	for i, v := range []float64{30, 95, 95, 40} {
		if a, ok := tr.Evaluate(p, v, at.Add(time.Duration(i)*time.Second)); ok {
			tr.Confirm(a)
			raised = append(raised, a)
		}
	}

	if len(raised) != 1 {
		t.Fatalf("Expected exactly 1 alert, got %d", len(raised))
	}
	if raised[0].ActualValue != 95 || raised[0].Direction != types.DirectionHigh {
		t.Errorf("Expected high alert at 95, got %+v", raised[0])
	}
	if !tr.OpenState(p.ID).High {
		t.Error("alert must stay open after value returned in range")
	}
}

func TestTrackerRearmAfterAcknowledge(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()
	now := time.Now()

	first, ok := tr.Evaluate(p, 95, now)
	if !ok {
		t.Fatal("Expected first alert")
	}
	tr.Confirm(first)

	if _, ok := tr.Evaluate(p, 96, now); ok {
		t.Fatal("Expected no duplicate while open")
	}

	if !tr.Acknowledge(first.ID, "operator", now) {
		t.Fatal("Acknowledge returned false for open alert")
	}

	second, ok := tr.Evaluate(p, 97, now)
	if !ok {
		t.Fatal("Expected new alert after acknowledge")
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh alert id")
	}

	recent := tr.Recent()
	if len(recent) != 1 || !recent[0].Acknowledged || *recent[0].AcknowledgedBy != "operator" {
		t.Errorf("Expected acknowledged first alert in recent, got %+v", recent)
	}
}

func TestTrackerDirectionsIndependent(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()

	if _, ok := tr.Evaluate(p, 95, time.Now()); !ok {
		t.Fatal("Expected high alert")
	}
	if _, ok := tr.Evaluate(p, 5, time.Now()); !ok {
		t.Fatal("Expected low alert alongside open high alert")
	}
	if tr.OpenCount() != 2 {
		t.Errorf("Expected 2 open, got %d", tr.OpenCount())
	}
}

func TestTrackerRelease(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()

	a, _ := tr.Evaluate(p, 95, time.Now())
	tr.Release(a)

	if _, ok := tr.Evaluate(p, 95, time.Now()); !ok {
		t.Error("Expected raise after release")
	}
}

func TestTrackerSeed(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()
	open := types.Alert{ID: uuid.New(), ParameterID: p.ID, Direction: types.DirectionHigh}
	acked := types.Alert{ID: uuid.New(), ParameterID: p.ID, Direction: types.DirectionLow, Acknowledged: true}
	tr.Seed([]types.Alert{open, acked})

	if _, ok := tr.Evaluate(p, 95, time.Now()); ok {
		t.Error("seeded open alert must suppress raise")
	}
	if _, ok := tr.Evaluate(p, 5, time.Now()); !ok {
		t.Error("acknowledged seed must not suppress raise")
	}
	if tr.Acknowledge(uuid.New(), "", time.Now()) {
		t.Error("Expected false for unknown alert")
	}
}

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	old, evicted := r.Push(4)
	if !evicted || old != 1 {
		t.Fatalf("Expected eviction of 1, got %d/%v", old, evicted)
	}

	items := r.Items()
	if len(items) != 3 || items[0] != 2 || items[2] != 4 {
		t.Errorf("Expected [2 3 4], got %v", items)
	}

	r.Update(func(v *int) { *v *= 10 })
	if got := r.Items(); got[0] != 20 {
		t.Errorf("Update not applied: %v", got)
	}
}

func TestTrackerRecentCapped(t *testing.T) {
	tr := NewTracker(DefaultRecentAlerts)
	for i := int64(1); i <= 15; i++ {
		p := temperature()
		p.ID = i
		a, _ := tr.Evaluate(p, 95, time.Now())
		tr.Confirm(a)
	}

	recent := tr.Recent()
	if len(recent) != DefaultRecentAlerts {
		t.Fatalf("Expected %d recent, got %d", DefaultRecentAlerts, len(recent))
	}
	if recent[0].ParameterID != 15 {
		t.Errorf("Expected newest first, got parameter %d", recent[0].ParameterID)
	}
}

func TestTrackerReconcileForgetsAcknowledged(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()
	now := time.Now()

	high, _ := tr.Evaluate(p, 95, now)
	tr.Confirm(high)
	low, _ := tr.Evaluate(p, 10, now)
	tr.Confirm(low)

	// high was acknowledged in the database while no listener ran
	if n := tr.Reconcile([]types.Alert{low}); n != 1 {
		t.Errorf("Expected 1 re-armed slot, got %d", n)
	}

	state := tr.OpenState(p.ID)
	if state.High || !state.Low {
		t.Errorf("Expected only low open, got %+v", state)
	}
	if _, ok := tr.Evaluate(p, 96, now); !ok {
		t.Error("Expected high to raise again after reconcile")
	}
	for _, a := range tr.Recent() {
		if a.ID == high.ID && !a.Acknowledged {
			t.Error("Expected reconciled alert marked acknowledged in recent buffer")
		}
	}
}

func TestTrackerReconcileKeepsPendingReservation(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()

	reserved, ok := tr.Evaluate(p, 95, time.Now())
	if !ok {
		t.Fatal("Expected reservation")
	}

	tr.Reconcile(nil)

	if !tr.OpenState(p.ID).High {
		t.Fatal("Expected in-flight reservation to survive reconcile")
	}
	tr.Release(reserved)
	if tr.OpenCount() != 0 {
		t.Errorf("Expected 0 open after release, got %d", tr.OpenCount())
	}
}

func TestTrackerHoldThenReconcileAdoptsStoredAlert(t *testing.T) {
	tr := NewTracker(0)
	p := temperature()

	placeholder, _ := tr.Evaluate(p, 95, time.Now())
	tr.Hold(placeholder)

	if _, ok := tr.Evaluate(p, 97, time.Now()); ok {
		t.Fatal("Expected held slot to suppress new alerts")
	}

	stored := types.Alert{ID: uuid.New(), ParameterID: p.ID, Direction: types.DirectionHigh}
	tr.Reconcile([]types.Alert{stored})

	if tr.Acknowledge(placeholder.ID, "", time.Now()) {
		t.Error("Expected placeholder id to be gone")
	}
	if !tr.Acknowledge(stored.ID, "op", time.Now()) {
		t.Error("Expected stored id to be open")
	}
	if tr.OpenCount() != 0 {
		t.Errorf("Expected 0 open, got %d", tr.OpenCount())
	}
}
