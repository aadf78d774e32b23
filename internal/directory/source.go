package directory

import (
	"cmp"
	"context"
	"slices"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
)

// Source provides the parameters the collector polls. Implementations are
// read-only from the collector's point of view.
type Source interface {
	ActiveParameters(ctx context.Context, machineID int64) ([]types.Parameter, error)
}

// Static is an in-memory Source.
type Static struct {
	byMachine map[int64][]types.Parameter
}

func NewStatic(params []types.Parameter) *Static {
	s := &Static{byMachine: make(map[int64][]types.Parameter)}
	for _, p := range params {
		s.byMachine[p.MachineID] = append(s.byMachine[p.MachineID], p)
	}
	for id := range s.byMachine {
		slices.SortFunc(s.byMachine[id], func(a, b types.Parameter) int {
			return cmp.Compare(a.Address, b.Address)
		})
	}
	return s
}

func (s *Static) ActiveParameters(_ context.Context, machineID int64) ([]types.Parameter, error) {
	var out []types.Parameter
	for _, p := range s.byMachine[machineID] {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// All returns every parameter, active or not.
func (s *Static) All() []types.Parameter {
	var out []types.Parameter
	for _, params := range s.byMachine {
		out = append(out, params...)
	}
	slices.SortFunc(out, func(a, b types.Parameter) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
