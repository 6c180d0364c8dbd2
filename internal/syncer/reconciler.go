// Package syncer bridges connectivity events and the pending operation
// queue: when the remote store becomes reachable again (or a caller
// asks), it replays queued mutations in order and then refreshes
// in-memory state from the store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmynk/pouch/internal/metrics"
	"github.com/mmynk/pouch/internal/remote"
	"github.com/mmynk/pouch/internal/storage"
)

// RemoteStore is the slice of the remote client the reconciler needs.
type RemoteStore interface {
	Create(ctx context.Context, collection string, payload remote.Record) (remote.Record, error)
	Update(ctx context.Context, collection, id string, payload remote.Record) (remote.Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// Reconciler drains the pending operation queue against the remote
// store.
type Reconciler struct {
	queue  storage.OpQueue
	remote RemoteStore
	logger *slog.Logger

	// refresh re-fetches authoritative state after a clean drain;
	// wired to the data context's Refresh.
	refresh func(ctx context.Context) error
}

// New creates a Reconciler.
func New(queue storage.OpQueue, store RemoteStore, refresh func(ctx context.Context) error, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		queue:   queue,
		remote:  store,
		logger:  logger,
		refresh: refresh,
	}
}

// Reconcile replays every queued operation in order, then refreshes
// state from the store. A replay failure is handled exactly like the
// original offline failure: the operation stays queued, the pass halts,
// and the next connectivity event or manual call tries again.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.queue.Drain(ctx, r.apply); err != nil {
		metrics.DrainFailures.Inc()
		r.updateQueueDepth(ctx)
		return fmt.Errorf("failed to drain pending operations: %w", err)
	}
	r.updateQueueDepth(ctx)

	if err := r.refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh after drain: %w", err)
	}
	return nil
}

// apply replays one operation against the remote store. Local id
// references in the payload have already been rewritten by the queue's
// drain bookkeeping.
func (r *Reconciler) apply(ctx context.Context, op storage.PendingOp) (string, error) {
	switch op.Kind {
	case storage.KindCreate:
		created, err := r.remote.Create(ctx, op.Collection, op.Payload)
		if err != nil {
			return "", err
		}
		metrics.OpsReplayed.Inc()
		remoteID, _ := created["id"].(string)
		if remoteID == "" {
			// The store always assigns ids; an empty one would poison
			// every later reference to this record.
			return "", fmt.Errorf("store returned no id for created %s record", op.Collection)
		}
		r.logger.Debug("replayed create", "collection", op.Collection, "local_id", op.LocalID, "remote_id", remoteID)
		return remoteID, nil

	case storage.KindUpdate:
		id, body := splitID(op.Payload)
		if _, err := r.remote.Update(ctx, op.Collection, id, body); err != nil {
			return "", err
		}
		metrics.OpsReplayed.Inc()
		r.logger.Debug("replayed update", "collection", op.Collection, "id", id)
		return "", nil

	case storage.KindDelete:
		id, _ := splitID(op.Payload)
		if err := r.remote.Delete(ctx, op.Collection, id); err != nil {
			return "", err
		}
		metrics.OpsReplayed.Inc()
		r.logger.Debug("replayed delete", "collection", op.Collection, "id", id)
		return "", nil

	default:
		return "", fmt.Errorf("unknown pending op kind %q", op.Kind)
	}
}

func (r *Reconciler) updateQueueDepth(ctx context.Context) {
	if n, err := r.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

// splitID separates the target id from an update/delete payload body.
func splitID(payload map[string]any) (string, map[string]any) {
	body := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "id" {
			continue
		}
		body[k] = v
	}
	id, _ := payload["id"].(string)
	return id, body
}
