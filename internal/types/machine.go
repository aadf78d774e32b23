package types

import (
	"net"
	"strconv"
	"time"
)

// Machine is one monitored controller. Owned by configuration, read by the collector.
type Machine struct {
	ID           int64         `json:"machine_id"`
	Name         string        `json:"name"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	UnitID       uint8         `json:"unit_id"`
	PollInterval time.Duration `json:"poll_interval"`
}

func (m Machine) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Parameter maps a sensor value to a holding register on its machine.
type Parameter struct {
	ID          int64    `json:"parameter_id"`
	MachineID   int64    `json:"machine_id"`
	Name        string   `json:"name"`
	Address     uint16   `json:"register_address"`
	Unit        string   `json:"unit"`
	ScaleFactor float64  `json:"scale_factor"`
	Min         *float64 `json:"min_value,omitempty"`
	Max         *float64 `json:"max_value,omitempty"`
	Active      bool     `json:"is_active"`
}

func (p Parameter) Thresholds() Thresholds {
	return Thresholds{Min: p.Min, Max: p.Max}
}

// Thresholds are the optional bounds of a parameter. A nil bound is disabled.
type Thresholds struct {
	Min *float64
	Max *float64
}

// Float returns a pointer to v, handy for building thresholds.
func Float(v float64) *float64 {
	return &v
}
