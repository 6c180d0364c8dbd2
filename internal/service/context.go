// Package service implements the data context: the single integration
// point the UI layer mutates records through.
//
// Every mutation is applied to in-memory state synchronously first (the
// optimistic update), then dispatched exactly once: offline mutations
// go straight to the pending operation queue, online mutations attempt
// the direct remote call and fall back to the queue when the call fails
// for connectivity reasons. Validation rejections are surfaced to the
// caller and never queued. The in-memory snapshot is mirrored to the
// local cache on a debounce.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/pouch/internal/localid"
	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/remote"
	"github.com/mmynk/pouch/internal/storage"
)

// RemoteStore is the slice of the remote client the data context needs.
type RemoteStore interface {
	List(ctx context.Context, collection string) ([]remote.Record, error)
	Create(ctx context.Context, collection string, payload remote.Record) (remote.Record, error)
	Update(ctx context.Context, collection, id string, payload remote.Record) (remote.Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// AppliedKind tags how a mutation resolved.
type AppliedKind int

const (
	// AppliedOptimistic means the mutation lives in in-memory state and
	// the pending queue; the remote store has not confirmed it yet.
	AppliedOptimistic AppliedKind = iota

	// AppliedConfirmed means the remote store accepted the mutation
	// directly.
	AppliedConfirmed
)

// Applied is the tagged result of a mutation dispatch.
type Applied struct {
	Kind AppliedKind

	// Record is the store's version of a confirmed create: remote id
	// assigned, server-side defaults filled in. Nil for optimistic
	// results and for mutations that create nothing.
	Record remote.Record
}

func (k AppliedKind) String() string {
	if k == AppliedConfirmed {
		return "confirmed"
	}
	return "optimistic"
}

// defaultSaveDelay is the cache-save debounce quiet period.
const defaultSaveDelay = 500 * time.Millisecond

// Options configures a DataContext. Remote, Queue, Cache and Online are
// required.
type Options struct {
	Remote RemoteStore
	Queue  storage.OpQueue
	Cache  storage.SnapshotCache

	// Online is the synchronous connectivity check consulted once per
	// mutation dispatch.
	Online func() bool

	Logger *slog.Logger

	// SaveDelay overrides the cache-save debounce period. Zero means
	// the default.
	SaveDelay time.Duration

	// GenerateID overrides local id generation, for tests.
	GenerateID func(prefix string) string
}

// DataContext owns the in-memory collections and orchestrates
// optimistic mutations. It is the only writer of in-memory state, the
// cache and (via mutations) the queue. Safe for concurrent use.
type DataContext struct {
	remote RemoteStore
	queue  storage.OpQueue
	cache  storage.SnapshotCache
	online func() bool
	logger *slog.Logger
	newID  func(prefix string) string

	mu       sync.Mutex
	state    models.Snapshot
	fetchSeq uint64 // last refresh generation started
	applied  uint64 // last refresh generation applied

	saveMu    sync.Mutex
	saveTimer *time.Timer
	saveDelay time.Duration
}

// New creates a DataContext.
func New(opts Options) (*DataContext, error) {
	if opts.Remote == nil || opts.Queue == nil || opts.Cache == nil || opts.Online == nil {
		return nil, fmt.Errorf("remote, queue, cache and online check are all required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := opts.GenerateID
	if newID == nil {
		newID = localid.Generate
	}
	delay := opts.SaveDelay
	if delay == 0 {
		delay = defaultSaveDelay
	}
	return &DataContext{
		remote:    opts.Remote,
		queue:     opts.Queue,
		cache:     opts.Cache,
		online:    opts.Online,
		logger:    logger,
		newID:     newID,
		saveDelay: delay,
	}, nil
}

// Bootstrap seeds in-memory state: the cached snapshot first for an
// instant start, then a refresh if the store is reachable. Neither step
// failing is fatal; the app runs on whatever state it has.
func (c *DataContext) Bootstrap(ctx context.Context) {
	if snap, ok := c.cache.Load(); ok {
		c.mu.Lock()
		c.state = *snap
		c.mu.Unlock()
		c.logger.Info("state restored from cache",
			"allocations", len(snap.Allocations),
			"transactions", len(snap.Transactions),
		)
	}
	if c.online() {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("initial refresh failed, using cached data", "error", err)
		}
	}
}

// Close flushes any pending debounced cache save.
func (c *DataContext) Close() {
	c.saveMu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.saveMu.Unlock()
	c.saveNow()
}

// Snapshot returns a copy of the current in-memory state.
func (c *DataContext) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyStateLocked()
}

// Refresh replaces in-memory state with a full remote fetch of every
// collection, then persists the new snapshot to the cache.
//
// Two guards apply. A fetch superseded by a newer one is discarded
// silently, as is a fetch cancelled mid-flight. And while the pending
// queue is non-empty the fetched state is NOT applied: the server does
// not know about the queued mutations yet, so replacing the optimistic
// view would drop them from memory. The reconciler refreshes again
// after a clean drain, at which point the fetch wins.
func (c *DataContext) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	var fetched models.Snapshot
	for _, collection := range allCollections {
		records, err := c.remote.List(ctx, collection)
		if err != nil {
			if remote.IsCancelled(err) {
				c.logger.Debug("refresh superseded", "collection", collection)
				return nil
			}
			return fmt.Errorf("failed to refresh %s: %w", collection, err)
		}
		if err := decodeCollection(&fetched, collection, records); err != nil {
			return err
		}
	}

	pending, err := c.queue.Len(ctx)
	if err != nil {
		c.logger.Warn("failed to check queue before refresh", "error", err)
		pending = 1 // assume non-empty; keeping optimistic state is the safe side
	}

	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		c.logger.Debug("stale refresh discarded", "seq", seq)
		return nil
	}
	if pending > 0 {
		c.applied = seq
		c.mu.Unlock()
		c.logger.Debug("refresh skipped, pending ops outrank server state", "pending", pending)
		return nil
	}
	c.state = fetched
	c.applied = seq
	c.mu.Unlock()

	c.scheduleSave()
	c.logger.Debug("state refreshed from remote")
	return nil
}

// --- MoneyDrop operations ---

// CreateMoneyDrop adds a money drop.
func (c *DataContext) CreateMoneyDrop(ctx context.Context, drop models.MoneyDrop) (models.MoneyDrop, Applied, error) {
	drop.ID = c.newID(localid.PrefixMoneyDrop)
	if drop.DropDate == 0 {
		drop.DropDate = time.Now().Unix()
	}

	c.mu.Lock()
	c.state.MoneyDrops = append(c.state.MoneyDrops, drop)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colMoneyDrops, kind: storage.KindCreate, payload: moneyDropToWire(drop), localID: drop.ID},
	})
	if applied.Record != nil {
		drop = moneyDropFromWire(applied.Record)
	}
	return drop, applied, err
}

// UpdateMoneyDrop applies the given record over the stored one.
func (c *DataContext) UpdateMoneyDrop(ctx context.Context, drop models.MoneyDrop) (Applied, error) {
	c.mu.Lock()
	found := replaceByID(c.state.MoneyDrops, drop.ID, drop, func(d models.MoneyDrop) string { return d.ID })
	c.mu.Unlock()
	if !found {
		return Applied{}, fmt.Errorf("unknown money drop %q", drop.ID)
	}
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colMoneyDrops, kind: storage.KindUpdate, payload: withID(moneyDropToWire(drop), drop.ID)},
	})
}

// DeleteMoneyDrop removes a money drop.
func (c *DataContext) DeleteMoneyDrop(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	c.state.MoneyDrops = deleteByID(c.state.MoneyDrops, id, func(d models.MoneyDrop) string { return d.ID })
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colMoneyDrops, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	})
}

// --- Debt operations ---

// CreateDebt adds a debt.
func (c *DataContext) CreateDebt(ctx context.Context, debt models.Debt) (models.Debt, Applied, error) {
	debt.ID = c.newID(localid.PrefixDebt)
	if debt.Remaining.IsZero() {
		debt.Remaining = debt.TotalAmount
	}

	c.mu.Lock()
	c.state.Debts = append(c.state.Debts, debt)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colDebts, kind: storage.KindCreate, payload: debtToWire(debt), localID: debt.ID},
	})
	if applied.Record != nil {
		debt = debtFromWire(applied.Record)
	}
	return debt, applied, err
}

// UpdateDebt applies the given record over the stored one.
func (c *DataContext) UpdateDebt(ctx context.Context, debt models.Debt) (Applied, error) {
	c.mu.Lock()
	found := replaceByID(c.state.Debts, debt.ID, debt, func(d models.Debt) string { return d.ID })
	c.mu.Unlock()
	if !found {
		return Applied{}, fmt.Errorf("unknown debt %q", debt.ID)
	}
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colDebts, kind: storage.KindUpdate, payload: withID(debtToWire(debt), debt.ID)},
	})
}

// DeleteDebt removes a debt.
func (c *DataContext) DeleteDebt(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	c.state.Debts = deleteByID(c.state.Debts, id, func(d models.Debt) string { return d.ID })
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colDebts, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	})
}

// --- Subscription operations ---

// CreateSubscription adds a subscription.
func (c *DataContext) CreateSubscription(ctx context.Context, sub models.Subscription) (models.Subscription, Applied, error) {
	sub.ID = c.newID(localid.PrefixSubscription)

	c.mu.Lock()
	c.state.Subscriptions = append(c.state.Subscriptions, sub)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colSubscriptions, kind: storage.KindCreate, payload: subscriptionToWire(sub), localID: sub.ID},
	})
	if applied.Record != nil {
		sub = subscriptionFromWire(applied.Record)
	}
	return sub, applied, err
}

// UpdateSubscription applies the given record over the stored one.
func (c *DataContext) UpdateSubscription(ctx context.Context, sub models.Subscription) (Applied, error) {
	c.mu.Lock()
	found := replaceByID(c.state.Subscriptions, sub.ID, sub, func(s models.Subscription) string { return s.ID })
	c.mu.Unlock()
	if !found {
		return Applied{}, fmt.Errorf("unknown subscription %q", sub.ID)
	}
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colSubscriptions, kind: storage.KindUpdate, payload: withID(subscriptionToWire(sub), sub.ID)},
	})
}

// DeleteSubscription removes a subscription.
func (c *DataContext) DeleteSubscription(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	c.state.Subscriptions = deleteByID(c.state.Subscriptions, id, func(s models.Subscription) string { return s.ID })
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colSubscriptions, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	})
}

// --- Allocation operations ---

// CreateAllocation adds an allocation. The referenced money drop may
// still carry a local id; the queue's id substitution resolves it at
// replay time.
func (c *DataContext) CreateAllocation(ctx context.Context, alloc models.Allocation) (models.Allocation, Applied, error) {
	alloc.ID = c.newID(localid.PrefixAllocation)
	if alloc.CurrentBalance.IsZero() {
		alloc.CurrentBalance = alloc.Budget
	}

	c.mu.Lock()
	c.state.Allocations = append(c.state.Allocations, alloc)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colAllocations, kind: storage.KindCreate, payload: allocationToWire(alloc), localID: alloc.ID},
	})
	if applied.Record != nil {
		alloc = allocationFromWire(applied.Record)
	}
	return alloc, applied, err
}

// UpdateAllocation applies the given record over the stored one.
func (c *DataContext) UpdateAllocation(ctx context.Context, alloc models.Allocation) (Applied, error) {
	c.mu.Lock()
	found := replaceByID(c.state.Allocations, alloc.ID, alloc, func(a models.Allocation) string { return a.ID })
	c.mu.Unlock()
	if !found {
		return Applied{}, fmt.Errorf("unknown allocation %q", alloc.ID)
	}
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colAllocations, kind: storage.KindUpdate, payload: withID(allocationToWire(alloc), alloc.ID)},
	})
}

// DeleteAllocation removes an allocation.
func (c *DataContext) DeleteAllocation(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	c.state.Allocations = deleteByID(c.state.Allocations, id, func(a models.Allocation) string { return a.ID })
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colAllocations, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	})
}

// --- BudgetTemplate operations ---

// CreateBudgetTemplate adds a budget template.
func (c *DataContext) CreateBudgetTemplate(ctx context.Context, tmpl models.BudgetTemplate) (models.BudgetTemplate, Applied, error) {
	tmpl.ID = c.newID(localid.PrefixBudgetTemplate)

	c.mu.Lock()
	c.state.BudgetTemplates = append(c.state.BudgetTemplates, tmpl)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colBudgetTemplates, kind: storage.KindCreate, payload: budgetTemplateToWire(tmpl), localID: tmpl.ID},
	})
	if applied.Record != nil {
		tmpl = budgetTemplateFromWire(applied.Record)
	}
	return tmpl, applied, err
}

// UpdateBudgetTemplate applies the given record over the stored one.
func (c *DataContext) UpdateBudgetTemplate(ctx context.Context, tmpl models.BudgetTemplate) (Applied, error) {
	c.mu.Lock()
	found := replaceByID(c.state.BudgetTemplates, tmpl.ID, tmpl, func(t models.BudgetTemplate) string { return t.ID })
	c.mu.Unlock()
	if !found {
		return Applied{}, fmt.Errorf("unknown budget template %q", tmpl.ID)
	}
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colBudgetTemplates, kind: storage.KindUpdate, payload: withID(budgetTemplateToWire(tmpl), tmpl.ID)},
	})
}

// DeleteBudgetTemplate removes a budget template.
func (c *DataContext) DeleteBudgetTemplate(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	c.state.BudgetTemplates = deleteByID(c.state.BudgetTemplates, id, func(t models.BudgetTemplate) string { return t.ID })
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colBudgetTemplates, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	})
}
