package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pouch/internal/localid"
	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/remote"
	"github.com/mmynk/pouch/internal/storage"
	"github.com/mmynk/pouch/internal/storage/badgercache"
	"github.com/mmynk/pouch/internal/storage/sqlitequeue"
	"github.com/mmynk/pouch/internal/syncer"
)

// fakeRemote is an in-memory remote store, scriptable to fail.
type fakeRemote struct {
	mu          sync.Mutex
	collections map[string][]remote.Record
	nextID      int
	createErr   error
	updateErr   error
	listErr     error
	updates     []remote.Record // update payloads, in call order
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{collections: make(map[string][]remote.Record)}
}

func (f *fakeRemote) seed(collection string, records ...remote.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = append(f.collections[collection], records...)
}

func (f *fakeRemote) List(ctx context.Context, collection string) ([]remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]remote.Record, len(f.collections[collection]))
	copy(out, f.collections[collection])
	return out, nil
}

func (f *fakeRemote) Create(ctx context.Context, collection string, payload remote.Record) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	created := remote.Record{"id": fmt.Sprintf("remote%d", f.nextID)}
	for k, v := range payload {
		created[k] = v
	}
	f.collections[collection] = append(f.collections[collection], created)
	return created, nil
}

func (f *fakeRemote) Update(ctx context.Context, collection, id string, payload remote.Record) (remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for _, rec := range f.collections[collection] {
		if rec["id"] == id {
			for k, v := range payload {
				rec[k] = v
			}
			f.updates = append(f.updates, payload)
			return rec, nil
		}
	}
	return nil, &remote.Error{Status: 404, Message: "record not found"}
}

func (f *fakeRemote) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.collections[collection]
	for i, rec := range records {
		if rec["id"] == id {
			f.collections[collection] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return &remote.Error{Status: 404, Message: "record not found"}
}

func (f *fakeRemote) record(collection, id string) remote.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.collections[collection] {
		if rec["id"] == id {
			return rec
		}
	}
	return nil
}

type testEnv struct {
	ctx    *DataContext
	store  *fakeRemote
	queue  *sqlitequeue.Queue
	cache  storage.SnapshotCache
	online *atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "pouch-service-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	queue, err := sqlitequeue.New(filepath.Join(tempDir, "queue.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	cache, err := badgercache.Open(badgercache.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	store := newFakeRemote()
	online := &atomic.Bool{}
	online.Store(true)

	dc, err := New(Options{
		Remote:    store,
		Queue:     queue,
		Cache:     cache,
		Online:    online.Load,
		SaveDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create data context: %v", err)
	}
	return &testEnv{ctx: dc, store: store, queue: queue, cache: cache, online: online}
}

// drainOps collects and removes everything in the queue, for asserting
// on what a mutation enqueued.
func drainOps(t *testing.T, q *sqlitequeue.Queue) []storage.PendingOp {
	t.Helper()
	var ops []storage.PendingOp
	err := q.Drain(context.Background(), func(ctx context.Context, op storage.PendingOp) (string, error) {
		ops = append(ops, op)
		return "drained-" + op.LocalID, nil
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	return ops
}

func TestOfflineExpenseScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.seed(colAllocations, remote.Record{
		"id": "alloc1", "name": "Living", "type": "wallet",
		"budget": 1000.0, "current_balance": 1000.0, "money_drop": "drop1",
	})
	env.ctx.Bootstrap(ctx)

	// Go offline and log a 200 expense from the Living wallet.
	env.online.Store(false)
	txn, applied, err := env.ctx.CreateTransaction(ctx, models.Transaction{
		AllocationID: "alloc1",
		Amount:       decimal.NewFromInt(200),
		Description:  "groceries",
		Category:     models.CategoryLiving,
	})
	if err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if applied.Kind != AppliedOptimistic {
		t.Errorf("applied = %v, want optimistic", applied.Kind)
	}
	if !localid.IsLocal(txn.ID) {
		t.Errorf("offline create got id %q, want a local placeholder", txn.ID)
	}

	// Balance drops to 800 instantly.
	snap := env.ctx.Snapshot()
	if !snap.Allocations[0].CurrentBalance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("in-memory balance = %s, want 800", snap.Allocations[0].CurrentBalance)
	}
	if len(snap.Transactions) != 1 {
		t.Fatalf("in-memory transactions = %d, want 1", len(snap.Transactions))
	}

	// Reconnect and reconcile: both ops replay, then a refetch confirms
	// the balance server-side.
	env.online.Store(true)
	rec := syncer.New(env.queue, env.store, env.ctx.Refresh, nil)
	if err := rec.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	n, err := env.queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queue length after reconcile = %d, want 0", n)
	}

	serverAlloc := env.store.record(colAllocations, "alloc1")
	if serverAlloc["current_balance"] != 800.0 {
		t.Errorf("server-side balance = %v, want 800", serverAlloc["current_balance"])
	}

	// In-memory state now reflects the refetched authoritative data:
	// the transaction carries its remote id.
	snap = env.ctx.Snapshot()
	if len(snap.Transactions) != 1 {
		t.Fatalf("transactions after reconcile = %d, want 1", len(snap.Transactions))
	}
	if localid.IsLocal(snap.Transactions[0].ID) {
		t.Errorf("transaction id %q still local after reconcile", snap.Transactions[0].ID)
	}
	if !snap.Allocations[0].CurrentBalance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("balance after reconcile = %s, want 800", snap.Allocations[0].CurrentBalance)
	}
}

func TestOfflineExpenseEnqueuesInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.seed(colAllocations, remote.Record{
		"id": "alloc1", "name": "Living", "type": "wallet",
		"budget": 1000.0, "current_balance": 1000.0,
	})
	env.ctx.Bootstrap(ctx)
	env.online.Store(false)

	if _, _, err := env.ctx.CreateTransaction(ctx, models.Transaction{
		AllocationID: "alloc1",
		Amount:       decimal.NewFromInt(200),
		Category:     models.CategoryLiving,
	}); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	ops := drainOps(t, env.queue)
	if len(ops) != 2 {
		t.Fatalf("enqueued %d ops, want 2", len(ops))
	}
	if ops[0].Collection != colTransactions || ops[0].Kind != storage.KindCreate {
		t.Errorf("first op = %s %s, want transactions create", ops[0].Collection, ops[0].Kind)
	}
	if ops[1].Collection != colAllocations || ops[1].Kind != storage.KindUpdate {
		t.Errorf("second op = %s %s, want allocations update", ops[1].Collection, ops[1].Kind)
	}
	if ops[1].Payload["current_balance"] != 800.0 {
		t.Errorf("queued balance = %v, want 800", ops[1].Payload["current_balance"])
	}
}

func TestOnlineCreateConfirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	drop, applied, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "March salary",
		Amount: decimal.NewFromInt(3200),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop failed: %v", err)
	}
	if applied.Kind != AppliedConfirmed {
		t.Errorf("applied = %v, want confirmed", applied.Kind)
	}
	// A confirmed create hands back the store's record: remote id, not
	// the optimistic placeholder.
	if localid.IsLocal(drop.ID) {
		t.Errorf("returned id %q still local after confirmed create", drop.ID)
	}

	snap := env.ctx.Snapshot()
	if len(snap.MoneyDrops) != 1 {
		t.Fatalf("money drops = %d, want 1", len(snap.MoneyDrops))
	}
	if snap.MoneyDrops[0].ID != drop.ID {
		t.Errorf("state id %q, want the returned id %q", snap.MoneyDrops[0].ID, drop.ID)
	}

	n, err := env.queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queue length = %d, want 0 for a confirmed create", n)
	}
}

func TestConfirmedCreateIDUsableForFollowUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	drop, _, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "March salary",
		Amount: decimal.NewFromInt(3200),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop failed: %v", err)
	}

	// Mutating through the id the create handed back must hit the
	// record the refetch installed.
	drop.Name = "March salary (corrected)"
	if _, err := env.ctx.UpdateMoneyDrop(ctx, drop); err != nil {
		t.Fatalf("UpdateMoneyDrop with the returned id failed: %v", err)
	}

	snap := env.ctx.Snapshot()
	if len(snap.MoneyDrops) != 1 || snap.MoneyDrops[0].Name != "March salary (corrected)" {
		t.Errorf("state = %+v, want the renamed drop", snap.MoneyDrops)
	}
}

func TestServerErrorQueuedForRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.createErr = &remote.Error{Status: 503, Message: "temporarily unavailable"}

	drop, applied, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "Refund",
		Amount: decimal.NewFromInt(80),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop returned error for a 503: %v", err)
	}
	if applied.Kind != AppliedOptimistic {
		t.Errorf("applied = %v, want optimistic", applied.Kind)
	}

	ops := drainOps(t, env.queue)
	if len(ops) != 1 || ops[0].LocalID != drop.ID {
		t.Errorf("queued ops = %+v, want one create for %q", ops, drop.ID)
	}
}

func TestNetworkFailureFallsBackToQueue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.createErr = errors.New("connection reset by peer")

	drop, applied, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "Bonus",
		Amount: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop returned error for a connectivity failure: %v", err)
	}
	if applied.Kind != AppliedOptimistic {
		t.Errorf("applied = %v, want optimistic", applied.Kind)
	}

	// The optimistic record stands; nothing was rolled back.
	snap := env.ctx.Snapshot()
	if len(snap.MoneyDrops) != 1 || snap.MoneyDrops[0].ID != drop.ID {
		t.Errorf("optimistic record missing from state after fallback")
	}

	ops := drainOps(t, env.queue)
	if len(ops) != 1 || ops[0].Kind != storage.KindCreate || ops[0].LocalID != drop.ID {
		t.Errorf("queued ops = %+v, want one create tagged with the local id", ops)
	}
}

func TestValidationErrorSurfacedNotQueued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.createErr = &remote.Error{Status: 400, Message: "amount is required"}

	_, _, err := env.ctx.CreateDebt(ctx, models.Debt{Name: "Car loan"})
	if err == nil {
		t.Fatal("expected a validation error")
	}

	n, lerr := env.queue.Len(ctx)
	if lerr != nil {
		t.Fatalf("Len failed: %v", lerr)
	}
	if n != 0 {
		t.Errorf("queue length = %d, want 0: invalid payloads must not be retried", n)
	}
}

func TestBalanceMathIdenticalAcrossPaths(t *testing.T) {
	paths := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{"online", func(env *testEnv) {}},
		{"offline", func(env *testEnv) { env.online.Store(false) }},
		{"fallback", func(env *testEnv) { env.store.createErr = errors.New("dropped mid-flight") }},
	}

	for _, path := range paths {
		t.Run(path.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.store.seed(colAllocations, remote.Record{
				"id": "alloc1", "name": "Living", "type": "wallet",
				"budget": 1000.0, "current_balance": 1000.0,
			})
			env.ctx.Bootstrap(ctx)
			path.setup(env)

			if _, _, err := env.ctx.CreateTransaction(ctx, models.Transaction{
				AllocationID: "alloc1",
				Amount:       decimal.NewFromInt(150),
				Category:     models.CategoryLiving,
			}); err != nil {
				t.Fatalf("CreateTransaction failed: %v", err)
			}

			snap := env.ctx.Snapshot()
			if !snap.Allocations[0].CurrentBalance.Equal(decimal.NewFromInt(850)) {
				t.Errorf("in-memory balance = %s, want 850", snap.Allocations[0].CurrentBalance)
			}

			// The balance sent (or queued) must be the same 850.
			var sent float64
			if path.name == "online" {
				env.store.mu.Lock()
				for _, u := range env.store.updates {
					if v, ok := u["current_balance"]; ok {
						sent = v.(float64)
					}
				}
				env.store.mu.Unlock()
			} else {
				for _, op := range drainOps(t, env.queue) {
					if v, ok := op.Payload["current_balance"]; ok {
						sent = v.(float64)
					}
				}
			}
			if sent != 850.0 {
				t.Errorf("dispatched balance = %v, want 850", sent)
			}
		})
	}
}

func TestDeleteTransactionRefundsBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.seed(colAllocations, remote.Record{
		"id": "alloc1", "name": "Living", "type": "wallet",
		"budget": 1000.0, "current_balance": 800.0,
	})
	env.store.seed(colTransactions, remote.Record{
		"id": "txn1", "allocation": "alloc1", "amount": 200.0,
		"description": "groceries", "type": "wallet",
	})
	env.ctx.Bootstrap(ctx)
	env.online.Store(false)

	applied, err := env.ctx.DeleteTransaction(ctx, "txn1")
	if err != nil {
		t.Fatalf("DeleteTransaction failed: %v", err)
	}
	if applied.Kind != AppliedOptimistic {
		t.Errorf("applied = %v, want optimistic", applied.Kind)
	}

	snap := env.ctx.Snapshot()
	if len(snap.Transactions) != 0 {
		t.Errorf("transactions = %d, want 0", len(snap.Transactions))
	}
	if !snap.Allocations[0].CurrentBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("refunded balance = %s, want 1000", snap.Allocations[0].CurrentBalance)
	}

	ops := drainOps(t, env.queue)
	if len(ops) != 2 {
		t.Fatalf("enqueued %d ops, want delete + balance update", len(ops))
	}
	if ops[0].Kind != storage.KindDelete || ops[1].Payload["current_balance"] != 1000.0 {
		t.Errorf("unexpected ops: %+v", ops)
	}
}

func TestRefreshKeepsOptimisticStateWhileOpsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.online.Store(false)

	drop, _, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "Freelance gig",
		Amount: decimal.NewFromInt(750),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop failed: %v", err)
	}

	// The server knows nothing about the queued create; a refresh now
	// must not wipe the optimistic record.
	env.online.Store(true)
	if err := env.ctx.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	snap := env.ctx.Snapshot()
	if len(snap.MoneyDrops) != 1 || snap.MoneyDrops[0].ID != drop.ID {
		t.Error("optimistic record lost to a refresh while its create was still queued")
	}
}

func TestCancelledRefreshIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.store.listErr = context.Canceled

	if err := env.ctx.Refresh(context.Background()); err != nil {
		t.Errorf("superseded refresh returned %v, want nil", err)
	}
}

func TestApplyBudgetTemplateOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.online.Store(false)

	drop, _, err := env.ctx.CreateMoneyDrop(ctx, models.MoneyDrop{
		Name:   "Salary",
		Amount: decimal.NewFromInt(2000),
	})
	if err != nil {
		t.Fatalf("CreateMoneyDrop failed: %v", err)
	}
	tmpl, _, err := env.ctx.CreateBudgetTemplate(ctx, models.BudgetTemplate{
		Name: "halves",
		Splits: []models.TemplateSplit{
			{Name: "Living", Type: models.AllocationWallet, Percent: decimal.NewFromInt(50)},
			{Name: "Savings", Type: models.AllocationSavings, Percent: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("CreateBudgetTemplate failed: %v", err)
	}

	created, applied, err := env.ctx.ApplyBudgetTemplate(ctx, tmpl.ID, drop.ID)
	if err != nil {
		t.Fatalf("ApplyBudgetTemplate failed: %v", err)
	}
	if applied.Kind != AppliedOptimistic {
		t.Errorf("applied = %v, want optimistic", applied.Kind)
	}
	if len(created) != 2 {
		t.Fatalf("created %d allocations, want 2", len(created))
	}
	for _, alloc := range created {
		if !alloc.Budget.Equal(decimal.NewFromInt(1000)) {
			t.Errorf("allocation %q budget = %s, want 1000", alloc.Name, alloc.Budget)
		}
		if alloc.MoneyDropID != drop.ID {
			t.Errorf("allocation %q references %q, want the drop's local id %q", alloc.Name, alloc.MoneyDropID, drop.ID)
		}
	}
}

func TestDebouncedCacheSave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.online.Store(false)

	if _, _, err := env.ctx.CreateDebt(ctx, models.Debt{
		Name:        "Dentist",
		TotalAmount: decimal.NewFromInt(300),
	}); err != nil {
		t.Fatalf("CreateDebt failed: %v", err)
	}

	// Nothing persisted before the quiet period elapses is fine; after
	// it, the snapshot must be there.
	time.Sleep(50 * time.Millisecond)
	snap, ok := env.cache.Load()
	if !ok {
		t.Fatal("cache empty after the debounce period")
	}
	if len(snap.Debts) != 1 || snap.Debts[0].Name != "Dentist" {
		t.Errorf("cached snapshot = %+v, want the debt", snap.Debts)
	}
}

func TestCloseFlushesPendingSave(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.online.Store(false)

	if _, _, err := env.ctx.CreateSubscription(ctx, models.Subscription{
		Name:       "Streaming",
		Amount:     decimal.NewFromFloat(15.99),
		BillingDay: 4,
		Category:   models.CategoryPlay,
	}); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	env.ctx.Close()

	snap, ok := env.cache.Load()
	if !ok {
		t.Fatal("cache empty after Close")
	}
	if len(snap.Subscriptions) != 1 {
		t.Errorf("cached subscriptions = %d, want 1", len(snap.Subscriptions))
	}
}

func TestBootstrapRestoresFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.online.Store(false)

	env.cache.Save(&models.Snapshot{
		Allocations: []models.Allocation{
			{ID: "alloc1", Name: "Bills", Type: models.AllocationBill, CurrentBalance: decimal.NewFromInt(400)},
		},
	})

	env.ctx.Bootstrap(context.Background())

	snap := env.ctx.Snapshot()
	if len(snap.Allocations) != 1 || snap.Allocations[0].Name != "Bills" {
		t.Errorf("state after offline bootstrap = %+v, want the cached allocation", snap.Allocations)
	}
}
