package events

import (
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
)

// Kind defines the type of a published event
type Kind string

const (
	KindReadingUpdated      Kind = "reading_updated"
	KindAlertCreated        Kind = "alert_created"
	KindConnectivityChanged Kind = "connectivity_changed"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type ReadingData struct {
	ParameterID int64     `json:"parameter_id"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

type AlertData struct {
	AlertID       uuid.UUID      `json:"alert_id"`
	ParameterID   int64          `json:"parameter_id"`
	ParameterName string         `json:"parameter_name"`
	Severity      types.Severity `json:"severity"`
	Message       string         `json:"message"`
	CreatedAt     time.Time      `json:"created_at"`
}

type ConnectivityData struct {
	MachineID            int64      `json:"machine_id"`
	PLCConnected         bool       `json:"plc_connected"`
	DataCollectionActive bool       `json:"data_collection_active"`
	LastUpdate           *time.Time `json:"last_update"`
}

// Helper functions for creating specific events

func NewReadingUpdated(parameterID int64, value float64, ts time.Time) Event {
	return Event{
		Kind:      KindReadingUpdated,
		Timestamp: ts,
		Data: ReadingData{
			ParameterID: parameterID,
			Value:       value,
			Timestamp:   ts,
		},
	}
}

func NewAlertCreated(a types.Alert) Event {
	return Event{
		Kind:      KindAlertCreated,
		Timestamp: a.CreatedAt,
		Data: AlertData{
			AlertID:       a.ID,
			ParameterID:   a.ParameterID,
			ParameterName: a.ParameterName,
			Severity:      a.Severity,
			Message:       a.Message,
			CreatedAt:     a.CreatedAt,
		},
	}
}

func NewConnectivityChanged(state ConnectivityData) Event {
	return Event{
		Kind:      KindConnectivityChanged,
		Timestamp: time.Now(),
		Data:      state,
	}
}
