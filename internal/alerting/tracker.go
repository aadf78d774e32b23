package alerting

import (
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
)

// DefaultRecentAlerts is the size of the recent alert buffer.
const DefaultRecentAlerts = 10

type openKey struct {
	parameterID int64
	direction   types.Direction
}

// Tracker holds the open (unacknowledged) alert per parameter and direction
// and a short buffer of recently created alerts. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	open    map[openKey]uuid.UUID
	byID    map[uuid.UUID]openKey
	pending map[uuid.UUID]struct{}
	recent  *Ring[types.Alert]
}

func NewTracker(recentCapacity int) *Tracker {
	if recentCapacity <= 0 {
		recentCapacity = DefaultRecentAlerts
	}
	return &Tracker{
		open:    make(map[openKey]uuid.UUID),
		byID:    make(map[uuid.UUID]openKey),
		pending: make(map[uuid.UUID]struct{}),
		recent:  NewRing[types.Alert](recentCapacity),
	}
}

// Seed marks alerts loaded from storage as open so a restart does not
// duplicate them.
func (t *Tracker) Seed(alerts []types.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range alerts {
		if a.Acknowledged {
			continue
		}
		k := openKey{a.ParameterID, a.Direction}
		t.open[k] = a.ID
		t.byID[a.ID] = k
		t.recent.Push(a)
	}
}

// Evaluate checks value against p's thresholds. On a raise the slot for
// (parameter, direction) is reserved and the new alert is returned; the
// caller must Confirm or Release it.
func (t *Tracker) Evaluate(p types.Parameter, value float64, at time.Time) (types.Alert, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := OpenState{
		Low:  t.isOpen(p.ID, types.DirectionLow),
		High: t.isOpen(p.ID, types.DirectionHigh),
	}

	d := Evaluate(p.Thresholds(), value, state)
	if d.Action != ActionRaise {
		return types.Alert{}, false
	}

	alert := types.Alert{
		ID:             uuid.New(),
		ParameterID:    p.ID,
		ParameterName:  p.Name,
		Direction:      d.Direction,
		Severity:       d.Severity,
		ThresholdValue: d.Threshold,
		ActualValue:    value,
		Message:        Message(p, value, d.Direction),
		CreatedAt:      at,
	}

	k := openKey{p.ID, d.Direction}
	t.open[k] = alert.ID
	t.byID[alert.ID] = k
	t.pending[alert.ID] = struct{}{}
	return alert, true
}

// Confirm records a persisted alert in the recent buffer.
func (t *Tracker) Confirm(a types.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, a.ID)
	t.recent.Push(a)
}

// Release frees the slot reserved for an alert that could not be persisted.
func (t *Tracker) Release(a types.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, a.ID)
	t.forget(a.ID)
}

// Hold keeps the slot of an alert that storage refused because an open
// alert already exists for its parameter and direction. The slot stays
// closed under a placeholder id until Reconcile loads the stored one.
func (t *Tracker) Hold(a types.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, a.ID)
}

// Reconcile replaces the open set with the unacknowledged alerts from
// storage. Reservations still waiting for Confirm or Release survive unless
// storage holds an alert for the same slot. It returns the number of
// slots that were re-armed.
func (t *Tracker) Reconcile(open []types.Alert) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	openMap := make(map[openKey]uuid.UUID, len(open))
	byID := make(map[uuid.UUID]openKey, len(open))
	for _, a := range open {
		if a.Acknowledged {
			continue
		}
		k := openKey{a.ParameterID, a.Direction}
		openMap[k] = a.ID
		byID[a.ID] = k
	}
	for id := range t.pending {
		k, ok := t.byID[id]
		if !ok {
			continue
		}
		if _, taken := openMap[k]; taken {
			continue
		}
		openMap[k] = id
		byID[id] = k
	}

	rearmed := 0
	for k := range t.open {
		if _, ok := openMap[k]; !ok {
			rearmed++
		}
	}

	t.recent.Update(func(a *types.Alert) {
		if _, ok := byID[a.ID]; !ok {
			a.Acknowledged = true
		}
	})

	t.open = openMap
	t.byID = byID
	return rearmed
}

// Acknowledge re-arms evaluation for the alert's parameter and direction.
// It returns false if the alert was not open.
func (t *Tracker) Acknowledge(id uuid.UUID, by string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recent.Update(func(a *types.Alert) {
		if a.ID != id || a.Acknowledged {
			return
		}
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		if by != "" {
			a.AcknowledgedBy = &by
		}
	})

	return t.forget(id)
}

// OpenState returns which directions of parameterID are currently open.
func (t *Tracker) OpenState(parameterID int64) OpenState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return OpenState{
		Low:  t.isOpen(parameterID, types.DirectionLow),
		High: t.isOpen(parameterID, types.DirectionHigh),
	}
}

// OpenCount returns the number of unacknowledged alerts.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Recent returns the recent alerts, newest first.
func (t *Tracker) Recent() []types.Alert {
	t.mu.Lock()
	items := t.recent.Items()
	t.mu.Unlock()

	slices.Reverse(items)
	return items
}

func (t *Tracker) isOpen(parameterID int64, dir types.Direction) bool {
	_, ok := t.open[openKey{parameterID, dir}]
	return ok
}

func (t *Tracker) forget(id uuid.UUID) bool {
	k, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	if t.open[k] == id {
		delete(t.open, k)
	}
	return true
}
