package models

import (
	"github.com/shopspring/decimal"
)

// Category classifies a transaction in the UI's terms.
// The remote store uses a coarser allocation type (see AllocationType);
// the mapping between the two lives in the service package.
type Category string

const (
	CategoryLiving  Category = "living"
	CategoryPlay    Category = "play"
	CategoryBills   Category = "bills"
	CategoryDebt    Category = "debt"
	CategorySavings Category = "savings"
)

// AllocationType is the remote store's classification of an allocation.
type AllocationType string

const (
	AllocationWallet  AllocationType = "wallet"
	AllocationBill    AllocationType = "bill"
	AllocationDebt    AllocationType = "debt"
	AllocationSavings AllocationType = "savings"
)

// MoneyDrop represents a unit of incoming funds that allocations are
// drawn against.
type MoneyDrop struct {
	// ID is the record identifier; a local placeholder until synced.
	ID string `json:"id"`

	// Name is the human-readable label (e.g. "March salary").
	Name string `json:"name"`

	// Amount is the total incoming amount.
	Amount decimal.Decimal `json:"amount"`

	// DropDate is the Unix timestamp the funds landed.
	DropDate int64 `json:"drop_date"`

	// Recurring marks salary-period drops that repeat.
	Recurring bool `json:"recurring"`
}

// Allocation is a named virtual wallet with a budget and a running
// balance, linked to the money drop it draws from.
type Allocation struct {
	ID string `json:"id"`

	Name string `json:"name"`

	// Type is the remote store's classification (wallet/bill/debt/savings).
	Type AllocationType `json:"type"`

	// Budget is the amount set aside for this allocation.
	Budget decimal.Decimal `json:"budget"`

	// CurrentBalance is the running balance after transactions.
	CurrentBalance decimal.Decimal `json:"current_balance"`

	// MoneyDropID references the MoneyDrop this allocation draws from.
	// May be a still-pending local ID.
	MoneyDropID string `json:"money_drop_id"`
}

// Transaction is a single expense logged against an allocation.
type Transaction struct {
	ID string `json:"id"`

	// AllocationID references the Allocation the expense draws from.
	// May be a still-pending local ID.
	AllocationID string `json:"allocation_id"`

	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`

	// Category is the UI-side classification; translated to the remote
	// store's type field on the wire.
	Category Category `json:"category"`

	// Timestamp is the Unix timestamp of the expense. The remote store
	// calls this transaction_date.
	Timestamp int64 `json:"timestamp"`
}

// Debt tracks money owed with a remaining balance.
type Debt struct {
	ID string `json:"id"`

	Name string `json:"name"`

	// TotalAmount is the original amount owed.
	TotalAmount decimal.Decimal `json:"total_amount"`

	// Remaining is what is still owed after repayments.
	Remaining decimal.Decimal `json:"remaining"`

	// DueDate is the Unix timestamp the debt is due, zero if open-ended.
	DueDate int64 `json:"due_date"`
}

// Subscription is a recurring charge on a fixed day of the month.
type Subscription struct {
	ID string `json:"id"`

	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`

	// BillingDay is the day of the month the charge lands (1-28).
	BillingDay int `json:"billing_day"`

	Category Category `json:"category"`
}

// TemplateSplit is one line of a budget template: a named percentage
// share of a money drop.
type TemplateSplit struct {
	Name string `json:"name"`

	Type AllocationType `json:"type"`

	// Percent is the share of the drop, 0-100.
	Percent decimal.Decimal `json:"percent"`
}

// BudgetTemplate is a reusable set of percentage splits applied to a
// new money drop to seed its allocations.
type BudgetTemplate struct {
	ID string `json:"id"`

	Name   string          `json:"name"`
	Splits []TemplateSplit `json:"splits"`
}

// Snapshot is the full optimistic in-memory dataset, persisted
// wholesale to the local cache. It mirrors in-memory state, not
// confirmed remote truth.
type Snapshot struct {
	MoneyDrops      []MoneyDrop      `json:"money_drops"`
	Debts           []Debt           `json:"debts"`
	Subscriptions   []Subscription   `json:"subscriptions"`
	Allocations     []Allocation     `json:"allocations"`
	Transactions    []Transaction    `json:"transactions"`
	BudgetTemplates []BudgetTemplate `json:"budget_templates"`
}
