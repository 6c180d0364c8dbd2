package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmynk/pouch/internal/calculator"
	"github.com/mmynk/pouch/internal/localid"
	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/remote"
	"github.com/mmynk/pouch/internal/storage"
)

// CreateTransaction logs an expense against an allocation. The
// allocation's balance is decremented in the same in-memory update, and
// the new balance is computed exactly once from the pre-mutation value:
// the payload sent (or queued) carries that same number on every path,
// so online, offline and fallback handling can never disagree on the
// math. Two operations are dispatched in order: the transaction create,
// then the allocation balance update.
func (c *DataContext) CreateTransaction(ctx context.Context, txn models.Transaction) (models.Transaction, Applied, error) {
	txn.ID = c.newID(localid.PrefixTransaction)
	if txn.Timestamp == 0 {
		txn.Timestamp = time.Now().Unix()
	}

	c.mu.Lock()
	idx := indexByID(c.state.Allocations, txn.AllocationID, func(a models.Allocation) string { return a.ID })
	if idx < 0 {
		c.mu.Unlock()
		return models.Transaction{}, Applied{}, fmt.Errorf("unknown allocation %q", txn.AllocationID)
	}
	newBalance := calculator.BalanceAfterSpend(c.state.Allocations[idx].CurrentBalance, txn.Amount)
	c.state.Allocations[idx].CurrentBalance = newBalance
	c.state.Transactions = append(c.state.Transactions, txn)
	c.mu.Unlock()
	c.scheduleSave()

	applied, err := c.dispatch(ctx, []mutationOp{
		{collection: colTransactions, kind: storage.KindCreate, payload: transactionToWire(txn), localID: txn.ID},
		{collection: colAllocations, kind: storage.KindUpdate, payload: remote.Record{
			"id":              txn.AllocationID,
			"current_balance": wireAmount(newBalance),
		}},
	})
	if applied.Record != nil {
		txn = transactionFromWire(applied.Record)
	}
	return txn, applied, err
}

// UpdateTransaction rewrites a transaction's descriptive fields. Amount
// and allocation are deliberately immutable here: correcting a wrong
// amount is a delete plus a fresh create, which keeps the balance
// bookkeeping to two well-tested paths.
func (c *DataContext) UpdateTransaction(ctx context.Context, id, description string, category models.Category) (Applied, error) {
	c.mu.Lock()
	idx := indexByID(c.state.Transactions, id, func(t models.Transaction) string { return t.ID })
	if idx < 0 {
		c.mu.Unlock()
		return Applied{}, fmt.Errorf("unknown transaction %q", id)
	}
	c.state.Transactions[idx].Description = description
	c.state.Transactions[idx].Category = category
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, []mutationOp{
		{collection: colTransactions, kind: storage.KindUpdate, payload: remote.Record{
			"id":          id,
			"description": description,
			"type":        string(categoryToType[category]),
		}},
	})
}

// DeleteTransaction removes an expense and refunds its amount to the
// allocation it drew from, symmetric to CreateTransaction.
func (c *DataContext) DeleteTransaction(ctx context.Context, id string) (Applied, error) {
	c.mu.Lock()
	idx := indexByID(c.state.Transactions, id, func(t models.Transaction) string { return t.ID })
	if idx < 0 {
		c.mu.Unlock()
		return Applied{}, fmt.Errorf("unknown transaction %q", id)
	}
	txn := c.state.Transactions[idx]
	c.state.Transactions = append(c.state.Transactions[:idx], c.state.Transactions[idx+1:]...)

	ops := []mutationOp{
		{collection: colTransactions, kind: storage.KindDelete, payload: remote.Record{"id": id}},
	}
	if allocIdx := indexByID(c.state.Allocations, txn.AllocationID, func(a models.Allocation) string { return a.ID }); allocIdx >= 0 {
		newBalance := calculator.BalanceAfterRefund(c.state.Allocations[allocIdx].CurrentBalance, txn.Amount)
		c.state.Allocations[allocIdx].CurrentBalance = newBalance
		ops = append(ops, mutationOp{
			collection: colAllocations, kind: storage.KindUpdate, payload: remote.Record{
				"id":              txn.AllocationID,
				"current_balance": wireAmount(newBalance),
			},
		})
	}
	c.mu.Unlock()
	c.scheduleSave()

	return c.dispatch(ctx, ops)
}

// ApplyBudgetTemplate seeds allocations for a money drop from a
// template's percentage splits. Each allocation is created through the
// normal create path so the offline/online handling is identical to a
// hand-made allocation.
func (c *DataContext) ApplyBudgetTemplate(ctx context.Context, templateID, dropID string) ([]models.Allocation, Applied, error) {
	c.mu.Lock()
	tmplIdx := indexByID(c.state.BudgetTemplates, templateID, func(t models.BudgetTemplate) string { return t.ID })
	dropIdx := indexByID(c.state.MoneyDrops, dropID, func(d models.MoneyDrop) string { return d.ID })
	if tmplIdx < 0 {
		c.mu.Unlock()
		return nil, Applied{}, fmt.Errorf("unknown budget template %q", templateID)
	}
	if dropIdx < 0 {
		c.mu.Unlock()
		return nil, Applied{}, fmt.Errorf("unknown money drop %q", dropID)
	}
	tmpl := c.state.BudgetTemplates[tmplIdx]
	drop := c.state.MoneyDrops[dropIdx]
	c.mu.Unlock()

	allocations, err := calculator.ApplyTemplate(tmpl, drop)
	if err != nil {
		return nil, Applied{}, err
	}

	result := Applied{Kind: AppliedConfirmed}
	created := make([]models.Allocation, 0, len(allocations))
	for _, alloc := range allocations {
		stored, applied, err := c.CreateAllocation(ctx, alloc)
		if err != nil {
			return created, applied, err
		}
		if applied.Kind == AppliedOptimistic {
			result.Kind = AppliedOptimistic
		}
		created = append(created, stored)
	}
	return created, result, nil
}
