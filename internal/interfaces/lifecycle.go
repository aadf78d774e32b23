package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenMachineMonitor/internal/collector"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State           string                    `json:"state"`
	Machines        []collector.MachineStatus `json:"machines"`
	MachineCount    int                       `json:"machine_count"`
	ConnectedPLCs   int                       `json:"connected_plcs"`
	OpenAlerts      int                       `json:"open_alerts"`
	LiveSubscribers int                       `json:"live_subscribers"`
	PublishedEvents uint64                    `json:"published_events"`
	Timestamp       int64                     `json:"timestamp"`
}

// Monitor is what the API layer needs from the running system.
type Monitor interface {
	GetCurrentStatus() SystemStatus
	RecentAlerts() []types.Alert
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string) (types.Alert, error)
	Shutdown(ctx context.Context) error
}
