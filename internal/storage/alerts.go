package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrAlertNotFound       = errors.New("alert not found")
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")
	// ErrAlertOpen: an unacknowledged alert for the same parameter and direction exists.
	ErrAlertOpen = errors.New("open alert exists for parameter and direction")
)

const uniqueViolation = "23505"

// CreateAlert inserts a new unacknowledged alert.
func (p *PostgresClient) CreateAlert(ctx context.Context, a types.Alert) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, parameter_id, direction, severity, threshold_value,
		                    actual_value, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.ParameterID, string(a.Direction), string(a.Severity), a.ThresholdValue,
		a.ActualValue, a.Message, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "idx_alerts_open" {
			return fmt.Errorf("parameter %d %s: %w", a.ParameterID, a.Direction, ErrAlertOpen)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// AcknowledgeAlert marks an open alert acknowledged. The trigger installed by
// Migrate sends the id on AckChannel.
func (p *PostgresClient) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	result, err := p.pool.Exec(ctx, `
		UPDATE alerts
		SET is_acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3
		WHERE alert_id = $1 AND NOT is_acknowledged
	`, id, by, at)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var acknowledged bool
	err = p.pool.QueryRow(ctx, `SELECT is_acknowledged FROM alerts WHERE alert_id = $1`, id).Scan(&acknowledged)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up alert: %w", err)
	}
	return ErrAlreadyAcknowledged
}

// LoadOpenAlerts returns all unacknowledged alerts, oldest first.
func (p *PostgresClient) LoadOpenAlerts(ctx context.Context) ([]types.Alert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT a.alert_id, a.parameter_id, COALESCE(pa.name, ''), a.direction, a.severity,
		       COALESCE(a.threshold_value, 0)::float8, COALESCE(a.actual_value, 0)::float8,
		       a.message, a.created_at
		FROM alerts a
		LEFT JOIN parameters pa ON pa.parameter_id = a.parameter_id
		WHERE NOT a.is_acknowledged
		ORDER BY a.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]types.Alert, 0)
	for rows.Next() {
		var a types.Alert
		var direction, severity string
		if err := rows.Scan(&a.ID, &a.ParameterID, &a.ParameterName, &direction, &severity,
			&a.ThresholdValue, &a.ActualValue, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Direction = types.Direction(direction)
		a.Severity = types.Severity(severity)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	return alerts, nil
}

// ListenAcknowledgements blocks, calling fn for every alert id notified on
// AckChannel, until ctx is done or the connection fails. ready runs once the
// LISTEN is active; acknowledgements before that are not notified.
func (p *PostgresClient) ListenAcknowledgements(ctx context.Context, ready func(), fn func(uuid.UUID)) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+AckChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if ready != nil {
		ready()
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		id, err := uuid.Parse(n.Payload)
		if err != nil {
			continue
		}
		fn(id)
	}
}

// GetAlert loads one alert including its acknowledgement.
func (p *PostgresClient) GetAlert(ctx context.Context, id uuid.UUID) (types.Alert, error) {
	var a types.Alert
	var direction, severity string
	err := p.pool.QueryRow(ctx, `
		SELECT a.alert_id, a.parameter_id, COALESCE(pa.name, ''), a.direction, a.severity,
		       COALESCE(a.threshold_value, 0)::float8, COALESCE(a.actual_value, 0)::float8,
		       a.message, a.created_at, a.is_acknowledged, a.acknowledged_by, a.acknowledged_at
		FROM alerts a
		LEFT JOIN parameters pa ON pa.parameter_id = a.parameter_id
		WHERE a.alert_id = $1
	`, id).Scan(&a.ID, &a.ParameterID, &a.ParameterName, &direction, &severity,
		&a.ThresholdValue, &a.ActualValue, &a.Message, &a.CreatedAt,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Alert{}, ErrAlertNotFound
	}
	if err != nil {
		return types.Alert{}, fmt.Errorf("failed to load alert: %w", err)
	}
	a.Direction = types.Direction(direction)
	a.Severity = types.Severity(severity)
	return a, nil
}
