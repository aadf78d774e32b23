package events

import (
	"sync"
	"time"
)

// DefaultDebounceWindow collapses connectivity flapping.
const DefaultDebounceWindow = 500 * time.Millisecond

type pendingState struct {
	latest ConnectivityData
	timer  *time.Timer
}

// Debouncer collapses connectivity transitions of one machine inside a window
// into the latest state. A state equal to the last published one is dropped.
type Debouncer struct {
	window  time.Duration
	publish func(Event)

	mu      sync.Mutex
	pending map[int64]*pendingState
	last    map[int64]ConnectivityData
	stopped bool
}

func NewDebouncer(window time.Duration, publish func(Event)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		window:  window,
		publish: publish,
		pending: make(map[int64]*pendingState),
		last:    make(map[int64]ConnectivityData),
	}
}

// Submit records a transition. The first transition of a burst opens the window.
func (d *Debouncer) Submit(state ConnectivityData) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	p, ok := d.pending[state.MachineID]
	if !ok {
		p = &pendingState{}
		id := state.MachineID
		p.timer = time.AfterFunc(d.window, func() { d.fire(id) })
		d.pending[id] = p
	}
	p.latest = state
}

// Flush publishes all pending states now.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	ids := make([]int64, 0, len(d.pending))
	for id, p := range d.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.fire(id)
	}
}

// Stop discards pending transitions.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for id, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, id)
	}
}

func (d *Debouncer) fire(machineID int64) {
	d.mu.Lock()
	p, ok := d.pending[machineID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, machineID)

	prev, seen := d.last[machineID]
	if seen && prev.PLCConnected == p.latest.PLCConnected &&
		prev.DataCollectionActive == p.latest.DataCollectionActive {
		d.mu.Unlock()
		return
	}
	d.last[machineID] = p.latest
	d.mu.Unlock()

	d.publish(NewConnectivityChanged(p.latest))
}
