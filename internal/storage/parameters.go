package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/jackc/pgx/v5"
)

// ActiveParameters implements directory.Source.
func (p *PostgresClient) ActiveParameters(ctx context.Context, machineID int64) ([]types.Parameter, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT parameter_id, machine_id, name, register_address, unit, scale_factor::float8,
		       min_value::float8, max_value::float8, is_active
		FROM parameters
		WHERE machine_id = $1 AND is_active
		ORDER BY register_address
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameters: %w", err)
	}
	defer rows.Close()

	params := make([]types.Parameter, 0)
	for rows.Next() {
		var prm types.Parameter
		var addr int32
		if err := rows.Scan(&prm.ID, &prm.MachineID, &prm.Name, &addr, &prm.Unit,
			&prm.ScaleFactor, &prm.Min, &prm.Max, &prm.Active); err != nil {
			return nil, fmt.Errorf("failed to scan parameter: %w", err)
		}
		prm.Address = uint16(addr)
		params = append(params, prm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read parameters: %w", err)
	}

	return params, nil
}

// UpsertParameters mirrors a file-based directory into the parameters table
// so readings and alerts keep their foreign keys.
func (p *PostgresClient) UpsertParameters(ctx context.Context, params []types.Parameter) error {
	batch := &pgx.Batch{}
	for _, prm := range params {
		scale := prm.ScaleFactor
		if scale == 0 {
			scale = 100
		}
		batch.Queue(`
			INSERT INTO parameters (parameter_id, machine_id, name, register_address, unit,
			                        scale_factor, min_value, max_value, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (parameter_id) DO UPDATE SET
				machine_id = EXCLUDED.machine_id,
				name = EXCLUDED.name,
				register_address = EXCLUDED.register_address,
				unit = EXCLUDED.unit,
				scale_factor = EXCLUDED.scale_factor,
				min_value = EXCLUDED.min_value,
				max_value = EXCLUDED.max_value,
				is_active = EXCLUDED.is_active
		`, prm.ID, prm.MachineID, prm.Name, int32(prm.Address), prm.Unit, scale, prm.Min, prm.Max, prm.Active)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert parameters: %w", err)
	}
	return nil
}
