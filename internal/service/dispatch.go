package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/pouch/internal/metrics"
	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/remote"
	"github.com/mmynk/pouch/internal/storage"
)

// mutationOp is one remote-store operation a mutation produces. The
// payload is wire-shaped; for updates and deletes it carries the target
// record id under "id".
type mutationOp struct {
	collection string
	kind       storage.Kind
	payload    remote.Record
	localID    string // creates only
}

// dispatch routes a mutation's operations exactly once: the
// connectivity decision is made up front, not interleaved per call
// site. Offline, every op goes to the queue. Online, each op is
// attempted directly; a connectivity-class failure drops that op and
// all remaining ones into the queue (the optimistic update already
// applied stands either way), while a validation rejection is returned
// to the caller and never queued. A confirmed op triggers a refresh at
// the end so in-memory state converges on authoritative data.
func (c *DataContext) dispatch(ctx context.Context, ops []mutationOp) (Applied, error) {
	if !c.online() {
		if err := c.enqueueAll(ctx, ops); err != nil {
			return Applied{}, err
		}
		c.recordMutations(ops, "optimistic")
		return Applied{Kind: AppliedOptimistic}, nil
	}

	anyConfirmed := false
	var created remote.Record
	for i, op := range ops {
		rec, err := c.applyDirect(ctx, op)
		if err == nil {
			anyConfirmed = true
			// The primary create's confirmed record is handed back to
			// the caller so it holds the remote id, not the local
			// placeholder.
			if op.kind == storage.KindCreate && op.localID != "" && created == nil {
				created = rec
			}
			continue
		}
		if remote.IsCancelled(err) {
			// Superseded mid-flight; not an error, not queued.
			c.logger.Debug("mutation call superseded", "collection", op.collection, "kind", op.kind)
			return Applied{Kind: AppliedOptimistic}, nil
		}
		if remote.IsRetryable(err) {
			// Connectivity failure mid-mutation: same handling as being
			// offline from the start, for this op and everything after
			// it.
			c.logger.Info("remote call failed, queueing for replay",
				"collection", op.collection,
				"kind", op.kind,
				"error", err,
			)
			if qerr := c.enqueueAll(ctx, ops[i:]); qerr != nil {
				return Applied{}, qerr
			}
			c.recordMutations(ops[i:], "optimistic")
			if anyConfirmed {
				c.refreshAfterConfirm(ctx)
			}
			return Applied{Kind: AppliedOptimistic}, nil
		}
		// Validation rejections (and anything else that retrying could
		// never fix) are surfaced to the caller, never queued.
		c.recordMutations(ops[i:i+1], "rejected")
		return Applied{}, fmt.Errorf("remote store rejected %s %s: %w", op.collection, op.kind, err)
	}

	c.recordMutations(ops, "confirmed")
	if anyConfirmed {
		c.refreshAfterConfirm(ctx)
	}
	return Applied{Kind: AppliedConfirmed, Record: created}, nil
}

// applyDirect performs one remote call for the op. The returned record
// is the store's response for creates and updates, nil for deletes.
func (c *DataContext) applyDirect(ctx context.Context, op mutationOp) (remote.Record, error) {
	switch op.kind {
	case storage.KindCreate:
		return c.remote.Create(ctx, op.collection, op.payload)
	case storage.KindUpdate:
		id, body := splitID(op.payload)
		return c.remote.Update(ctx, op.collection, id, body)
	case storage.KindDelete:
		id, _ := splitID(op.payload)
		return nil, c.remote.Delete(ctx, op.collection, id)
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", op.kind)
	}
}

// enqueueAll appends ops to the pending queue in order.
func (c *DataContext) enqueueAll(ctx context.Context, ops []mutationOp) error {
	for _, op := range ops {
		if err := c.queue.Enqueue(ctx, op.collection, op.kind, op.payload, op.localID); err != nil {
			return fmt.Errorf("failed to queue %s %s: %w", op.collection, op.kind, err)
		}
		metrics.OpsEnqueued.WithLabelValues(op.collection, string(op.kind)).Inc()
	}
	c.bumpQueueDepth(ctx)
	return nil
}

// refreshAfterConfirm reconciles state after a confirmed direct call.
// Refresh failure costs only staleness, never the mutation.
func (c *DataContext) refreshAfterConfirm(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("post-mutation refresh failed", "error", err)
	}
}

func (c *DataContext) recordMutations(ops []mutationOp, result string) {
	for _, op := range ops {
		metrics.Mutations.WithLabelValues(op.collection, string(op.kind), result).Inc()
	}
}

func (c *DataContext) bumpQueueDepth(ctx context.Context) {
	if n, err := c.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

// splitID separates the target id from an update/delete payload.
func splitID(payload remote.Record) (string, remote.Record) {
	body := make(remote.Record, len(payload))
	for k, v := range payload {
		if k == "id" {
			continue
		}
		body[k] = v
	}
	id, _ := payload["id"].(string)
	return id, body
}

// withID returns the payload with the target id set.
func withID(payload remote.Record, id string) remote.Record {
	payload["id"] = id
	return payload
}

// --- state helpers ---

func indexByID[T any](records []T, id string, idOf func(T) string) int {
	for i, rec := range records {
		if idOf(rec) == id {
			return i
		}
	}
	return -1
}

func replaceByID[T any](records []T, id string, replacement T, idOf func(T) string) bool {
	idx := indexByID(records, id, idOf)
	if idx < 0 {
		return false
	}
	records[idx] = replacement
	return true
}

func deleteByID[T any](records []T, id string, idOf func(T) string) []T {
	idx := indexByID(records, id, idOf)
	if idx < 0 {
		return records
	}
	return append(records[:idx], records[idx+1:]...)
}

// copyStateLocked returns a snapshot copy safe to hand out or marshal
// outside the lock. Caller must hold c.mu.
func (c *DataContext) copyStateLocked() models.Snapshot {
	out := models.Snapshot{
		MoneyDrops:    append([]models.MoneyDrop(nil), c.state.MoneyDrops...),
		Debts:         append([]models.Debt(nil), c.state.Debts...),
		Subscriptions: append([]models.Subscription(nil), c.state.Subscriptions...),
		Allocations:   append([]models.Allocation(nil), c.state.Allocations...),
		Transactions:  append([]models.Transaction(nil), c.state.Transactions...),
	}
	out.BudgetTemplates = make([]models.BudgetTemplate, len(c.state.BudgetTemplates))
	for i, tmpl := range c.state.BudgetTemplates {
		tmpl.Splits = append([]models.TemplateSplit(nil), tmpl.Splits...)
		out.BudgetTemplates[i] = tmpl
	}
	return out
}

// scheduleSave arms (or re-arms) the debounced cache save. Rapid
// successive mutations coalesce into one write after the quiet period.
func (c *DataContext) scheduleSave() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(c.saveDelay, c.saveNow)
}

// saveNow persists the current snapshot immediately.
func (c *DataContext) saveNow() {
	c.mu.Lock()
	snap := c.copyStateLocked()
	c.mu.Unlock()
	c.cache.Save(&snap)
}
