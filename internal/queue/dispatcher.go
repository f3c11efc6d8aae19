package queue

import (
	"context"
	"errors"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/telemetry"
)

// Dispatcher hands batches to remote workers through a queue.
type Dispatcher struct {
	Client Client
	Now    func() time.Time
}

// Dispatch enqueues a run request for batch.
func (d *Dispatcher) Dispatch(ctx context.Context, batch claims.Batch) error {
	if d == nil || d.Client == nil {
		return errors.New("queue client not configured")
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	msg := Message{
		BatchID:    batch.ID,
		OwnerID:    batch.OwnerID,
		RequestID:  telemetry.RequestID(ctx),
		EnqueuedAt: now().UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
	if err := d.Client.Send(ctx, msg); err != nil {
		return err
	}
	telemetry.Info("batch.enqueued", telemetry.Fields(ctx, map[string]any{
		"batch_id": batch.ID,
		"owner_id": batch.OwnerID,
	}))
	return nil
}
