package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Version    int         `json:"version"`
	Parameters []fileEntry `json:"parameters"`
}

type fileEntry struct {
	ID          int64    `json:"id"`
	MachineID   int64    `json:"machine_id"`
	Name        string   `json:"name"`
	Register    string   `json:"register"`
	Address     *uint16  `json:"address"`
	Unit        string   `json:"unit"`
	ScaleFactor float64  `json:"scale_factor"`
	Min         *float64 `json:"min_value"`
	Max         *float64 `json:"max_value"`
	Active      *bool    `json:"active"`
}

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	return &Loader{validator: validator}, nil
}

// LoadFile reads a YAML (or JSON) parameter directory.
func (l *Loader) LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter directory: %w", err)
	}

	params, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStatic(params), nil
}

// Parse validates and converts a directory document.
func (l *Loader) Parse(data []byte) ([]types.Parameter, error) {
	// YAML -> generisches JSON, damit das Schema greift
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to JSON: %w", err)
	}

	if err := l.validator.Validate(jsonData); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directory: %w", err)
	}

	seen := make(map[int64]bool, len(doc.Parameters))
	params := make([]types.Parameter, 0, len(doc.Parameters))
	for _, e := range doc.Parameters {
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate parameter id %d", e.ID)
		}
		seen[e.ID] = true

		addr, err := e.address()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", e.ID, err)
		}
		if e.Min != nil && e.Max != nil && *e.Min > *e.Max {
			return nil, fmt.Errorf("parameter %d: min_value %v above max_value %v", e.ID, *e.Min, *e.Max)
		}

		active := true
		if e.Active != nil {
			active = *e.Active
		}

		params = append(params, types.Parameter{
			ID:          e.ID,
			MachineID:   e.MachineID,
			Name:        e.Name,
			Address:     addr,
			Unit:        e.Unit,
			ScaleFactor: e.ScaleFactor,
			Min:         e.Min,
			Max:         e.Max,
			Active:      active,
		})
	}

	return params, nil
}

func (e fileEntry) address() (uint16, error) {
	if e.Address != nil {
		return *e.Address, nil
	}
	return ParseRegister(e.Register)
}

// ParseRegister converts a PLC register name like "D20" to its address.
func ParseRegister(name string) (uint16, error) {
	if len(name) < 2 || (name[0] != 'D' && name[0] != 'd') {
		return 0, fmt.Errorf("invalid register %q", name)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(name[1:]), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register %q: %w", name, err)
	}
	return uint16(n), nil
}
