package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
)

// AppendReading stores one reading. Bad readings carry NULL value and raw_value.
func (p *PostgresClient) AppendReading(ctx context.Context, r types.Reading) error {
	var raw *int32
	if r.Raw != nil {
		v := int32(*r.Raw)
		raw = &v
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sensor_data (parameter_id, value, raw_value, timestamp, quality_code)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ParameterID, r.Value, raw, r.Timestamp, int16(r.Quality))
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}
