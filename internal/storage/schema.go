package storage

import (
	"context"
	"fmt"
)

// AckChannel is the NOTIFY channel carrying acknowledged alert ids.
const AckChannel = "alert_acknowledged"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS parameters (
		parameter_id     BIGINT PRIMARY KEY,
		machine_id       BIGINT NOT NULL,
		name             VARCHAR(100) NOT NULL,
		register_address INTEGER NOT NULL CHECK (register_address BETWEEN 0 AND 65535),
		unit             VARCHAR(20) NOT NULL DEFAULT '',
		scale_factor     NUMERIC(10,4) NOT NULL DEFAULT 100,
		min_value        NUMERIC(10,2),
		max_value        NUMERIC(10,2),
		is_active        BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS sensor_data (
		data_id      BIGSERIAL PRIMARY KEY,
		parameter_id BIGINT NOT NULL REFERENCES parameters(parameter_id),
		value        NUMERIC(10,2),
		raw_value    INTEGER,
		timestamp    TIMESTAMPTZ NOT NULL,
		quality_code SMALLINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_data_parameter_ts ON sensor_data (parameter_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id        UUID PRIMARY KEY,
		parameter_id    BIGINT NOT NULL REFERENCES parameters(parameter_id),
		direction       VARCHAR(4) NOT NULL,
		severity        VARCHAR(20) NOT NULL,
		threshold_value NUMERIC(10,2),
		actual_value    NUMERIC(10,2),
		message         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		is_acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by VARCHAR(100),
		acknowledged_at TIMESTAMPTZ
	)`,
	// at most one open alert per parameter and direction
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open ON alerts (parameter_id, direction) WHERE NOT is_acknowledged`,
	`CREATE OR REPLACE FUNCTION notify_alert_acknowledged() RETURNS trigger AS $$
	BEGIN
		IF NEW.is_acknowledged AND NOT OLD.is_acknowledged THEN
			PERFORM pg_notify('` + AckChannel + `', NEW.alert_id::text);
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS alerts_acknowledged ON alerts`,
	`CREATE TRIGGER alerts_acknowledged AFTER UPDATE OF is_acknowledged ON alerts
		FOR EACH ROW EXECUTE FUNCTION notify_alert_acknowledged()`,
}

// Migrate creates the tables the collector reads and writes.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
