package system

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/alerting"
	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// alertStore is the part of storage the acknowledgement path needs.
type alertStore interface {
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	GetAlert(ctx context.Context, id uuid.UUID) (types.Alert, error)
	LoadOpenAlerts(ctx context.Context) ([]types.Alert, error)
	ListenAcknowledgements(ctx context.Context, ready func(), fn func(uuid.UUID)) error
}

// acknowledger keeps the tracker's open set in line with storage. Both the
// REST endpoint and database NOTIFYs re-arm evaluation through it.
type acknowledger struct {
	store   alertStore
	tracker *alerting.Tracker
	logger  *zap.Logger
	retry   time.Duration
}

func newAcknowledger(store alertStore, tracker *alerting.Tracker, logger *zap.Logger) *acknowledger {
	return &acknowledger{
		store:   store,
		tracker: tracker,
		logger:  logger,
		retry:   ackListenRetry,
	}
}

// acknowledge persists the acknowledgement and re-arms evaluation.
func (a *acknowledger) acknowledge(ctx context.Context, id uuid.UUID, by string) (types.Alert, error) {
	at := time.Now().UTC()
	if err := a.store.AcknowledgeAlert(ctx, id, by, at); err != nil {
		return types.Alert{}, err
	}
	if !a.tracker.Acknowledge(id, by, at) {
		// Tracker kennt die ID nicht (Platzhalter), DB ist maßgeblich
		a.reconcile(ctx)
	}

	stored, err := a.store.GetAlert(ctx, id)
	if err != nil {
		return types.Alert{ID: id, Acknowledged: true, AcknowledgedBy: &by, AcknowledgedAt: &at}, nil
	}
	return stored, nil
}

func (a *acknowledger) notified(ctx context.Context, id uuid.UUID) {
	by, at := "", time.Now().UTC()
	if stored, err := a.store.GetAlert(ctx, id); err == nil {
		if stored.AcknowledgedBy != nil {
			by = *stored.AcknowledgedBy
		}
		if stored.AcknowledgedAt != nil {
			at = *stored.AcknowledgedAt
		}
	}

	if a.tracker.Acknowledge(id, by, at) {
		a.logger.Info("Alert acknowledged", zap.String("alert_id", id.String()), zap.String("by", by))
		return
	}
	a.reconcile(ctx)
}

// reconcile reloads the open alerts and replaces the tracker's open set.
func (a *acknowledger) reconcile(ctx context.Context) {
	open, err := a.store.LoadOpenAlerts(ctx)
	if err != nil {
		a.logger.Warn("Failed to reconcile open alerts", zap.Error(err))
		return
	}
	if n := a.tracker.Reconcile(open); n > 0 {
		a.logger.Info("Open alerts reconciled",
			zap.Int("rearmed", n),
			zap.Int("open", len(open)))
	}
}

// run keeps a LISTEN connection open until ctx is done. Every time the
// LISTEN becomes active the open set is reloaded, so acknowledgements made
// while no listener ran are not lost.
func (a *acknowledger) run(ctx context.Context) {
	for {
		err := a.store.ListenAcknowledgements(ctx,
			func() { a.reconcile(ctx) },
			func(id uuid.UUID) { a.notified(ctx, id) })
		if ctx.Err() != nil {
			return
		}
		a.logger.Warn("Acknowledgement listener stopped, retrying",
			zap.Error(err),
			zap.Duration("retry_in", a.retry))

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.retry):
		}
	}
}
