package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pouch/internal/models"
	"github.com/mmynk/pouch/internal/remote"
)

// Collection names as the remote store knows them.
const (
	colMoneyDrops      = "money_drops"
	colDebts           = "debts"
	colSubscriptions   = "subscriptions"
	colAllocations     = "allocations"
	colTransactions    = "transactions"
	colBudgetTemplates = "budget_templates"
)

// categoryToType maps the UI-side transaction category to the remote
// store's allocation type.
var categoryToType = map[models.Category]models.AllocationType{
	models.CategoryLiving:  models.AllocationWallet,
	models.CategoryPlay:    models.AllocationWallet,
	models.CategoryBills:   models.AllocationBill,
	models.CategoryDebt:    models.AllocationDebt,
	models.CategorySavings: models.AllocationSavings,
}

// typeToCategory is the reverse mapping. It is lossy by construction:
// both living and play map to wallet, so wallet decodes to living.
var typeToCategory = map[models.AllocationType]models.Category{
	models.AllocationWallet:  models.CategoryLiving,
	models.AllocationBill:    models.CategoryBills,
	models.AllocationDebt:    models.CategoryDebt,
	models.AllocationSavings: models.CategorySavings,
}

// wireTime formats a Unix timestamp the way the store's date fields
// expect it.
func wireTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// unixFromWire parses a store date value back to a Unix timestamp.
// Zero and missing values decode to 0.
func unixFromWire(v any) int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05.000Z", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Unix()
		}
	}
	return 0
}

// wireAmount converts a decimal to the number the store expects.
func wireAmount(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// decimalFromWire parses a store number (or numeric string) into a
// decimal. Missing and malformed values decode to zero.
func decimalFromWire(v any) decimal.Decimal {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func stringFromWire(v any) string {
	s, _ := v.(string)
	return s
}

func boolFromWire(v any) bool {
	b, _ := v.(bool)
	return b
}

func intFromWire(v any) int {
	f, _ := v.(float64)
	return int(f)
}

// --- MoneyDrop ---

func moneyDropToWire(d models.MoneyDrop) remote.Record {
	return remote.Record{
		"name":      d.Name,
		"amount":    wireAmount(d.Amount),
		"drop_date": wireTime(d.DropDate),
		"recurring": d.Recurring,
	}
}

func moneyDropFromWire(rec remote.Record) models.MoneyDrop {
	return models.MoneyDrop{
		ID:        stringFromWire(rec["id"]),
		Name:      stringFromWire(rec["name"]),
		Amount:    decimalFromWire(rec["amount"]),
		DropDate:  unixFromWire(rec["drop_date"]),
		Recurring: boolFromWire(rec["recurring"]),
	}
}

// --- Debt ---

func debtToWire(d models.Debt) remote.Record {
	rec := remote.Record{
		"name":         d.Name,
		"total_amount": wireAmount(d.TotalAmount),
		"remaining":    wireAmount(d.Remaining),
	}
	if d.DueDate != 0 {
		rec["due_date"] = wireTime(d.DueDate)
	}
	return rec
}

func debtFromWire(rec remote.Record) models.Debt {
	return models.Debt{
		ID:          stringFromWire(rec["id"]),
		Name:        stringFromWire(rec["name"]),
		TotalAmount: decimalFromWire(rec["total_amount"]),
		Remaining:   decimalFromWire(rec["remaining"]),
		DueDate:     unixFromWire(rec["due_date"]),
	}
}

// --- Subscription ---

func subscriptionToWire(s models.Subscription) remote.Record {
	return remote.Record{
		"name":        s.Name,
		"amount":      wireAmount(s.Amount),
		"billing_day": s.BillingDay,
		"type":        string(categoryToType[s.Category]),
	}
}

func subscriptionFromWire(rec remote.Record) models.Subscription {
	return models.Subscription{
		ID:         stringFromWire(rec["id"]),
		Name:       stringFromWire(rec["name"]),
		Amount:     decimalFromWire(rec["amount"]),
		BillingDay: intFromWire(rec["billing_day"]),
		Category:   typeToCategory[models.AllocationType(stringFromWire(rec["type"]))],
	}
}

// --- Allocation ---

func allocationToWire(a models.Allocation) remote.Record {
	return remote.Record{
		"name":            a.Name,
		"type":            string(a.Type),
		"budget":          wireAmount(a.Budget),
		"current_balance": wireAmount(a.CurrentBalance),
		"money_drop":      a.MoneyDropID,
	}
}

func allocationFromWire(rec remote.Record) models.Allocation {
	return models.Allocation{
		ID:             stringFromWire(rec["id"]),
		Name:           stringFromWire(rec["name"]),
		Type:           models.AllocationType(stringFromWire(rec["type"])),
		Budget:         decimalFromWire(rec["budget"]),
		CurrentBalance: decimalFromWire(rec["current_balance"]),
		MoneyDropID:    stringFromWire(rec["money_drop"]),
	}
}

// --- Transaction ---

func transactionToWire(t models.Transaction) remote.Record {
	return remote.Record{
		"allocation":       t.AllocationID,
		"amount":           wireAmount(t.Amount),
		"description":      t.Description,
		"type":             string(categoryToType[t.Category]),
		"transaction_date": wireTime(t.Timestamp),
	}
}

func transactionFromWire(rec remote.Record) models.Transaction {
	return models.Transaction{
		ID:           stringFromWire(rec["id"]),
		AllocationID: stringFromWire(rec["allocation"]),
		Amount:       decimalFromWire(rec["amount"]),
		Description:  stringFromWire(rec["description"]),
		Category:     typeToCategory[models.AllocationType(stringFromWire(rec["type"]))],
		Timestamp:    unixFromWire(rec["transaction_date"]),
	}
}

// --- BudgetTemplate ---

func budgetTemplateToWire(t models.BudgetTemplate) remote.Record {
	splits := make([]any, len(t.Splits))
	for i, s := range t.Splits {
		splits[i] = map[string]any{
			"name":    s.Name,
			"type":    string(s.Type),
			"percent": wireAmount(s.Percent),
		}
	}
	return remote.Record{
		"name":   t.Name,
		"splits": splits,
	}
}

func budgetTemplateFromWire(rec remote.Record) models.BudgetTemplate {
	t := models.BudgetTemplate{
		ID:   stringFromWire(rec["id"]),
		Name: stringFromWire(rec["name"]),
	}
	raw, _ := rec["splits"].([]any)
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		t.Splits = append(t.Splits, models.TemplateSplit{
			Name:    stringFromWire(m["name"]),
			Type:    models.AllocationType(stringFromWire(m["type"])),
			Percent: decimalFromWire(m["percent"]),
		})
	}
	return t
}

// decodeCollection decodes a full remote listing into the snapshot
// field for the given collection.
func decodeCollection(snap *models.Snapshot, collection string, records []remote.Record) error {
	switch collection {
	case colMoneyDrops:
		snap.MoneyDrops = decodeAll(records, moneyDropFromWire)
	case colDebts:
		snap.Debts = decodeAll(records, debtFromWire)
	case colSubscriptions:
		snap.Subscriptions = decodeAll(records, subscriptionFromWire)
	case colAllocations:
		snap.Allocations = decodeAll(records, allocationFromWire)
	case colTransactions:
		snap.Transactions = decodeAll(records, transactionFromWire)
	case colBudgetTemplates:
		snap.BudgetTemplates = decodeAll(records, budgetTemplateFromWire)
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
	return nil
}

func decodeAll[T any](records []remote.Record, decode func(remote.Record) T) []T {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		out = append(out, decode(rec))
	}
	return out
}

// allCollections lists every synced collection, in fetch order.
var allCollections = []string{
	colMoneyDrops,
	colDebts,
	colSubscriptions,
	colAllocations,
	colTransactions,
	colBudgetTemplates,
}
