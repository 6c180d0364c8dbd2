// Package calculator provides the pure money math used by the service
// layer: allocation balance adjustments and budget template splits.
// Everything here is free of I/O so it can be tested without a store.
package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pouch/internal/models"
)

// BalanceAfterSpend returns the allocation balance after an expense.
// Callers must compute this once from the pre-mutation balance and use
// the result on every path (optimistic, queued, direct), so the math
// can never diverge between online and offline handling.
func BalanceAfterSpend(current, amount decimal.Decimal) decimal.Decimal {
	return current.Sub(amount)
}

// BalanceAfterRefund returns the allocation balance after an expense is
// removed, the inverse of BalanceAfterSpend.
func BalanceAfterRefund(current, amount decimal.Decimal) decimal.Decimal {
	return current.Add(amount)
}

// DebtRemaining returns the remaining debt after a repayment, floored
// at zero: overpaying closes the debt rather than flipping its sign.
func DebtRemaining(remaining, repayment decimal.Decimal) decimal.Decimal {
	next := remaining.Sub(repayment)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// ApplyTemplate computes the allocations a budget template produces for
// a money drop. Each split gets Percent% of the drop amount, rounded to
// cents, as both budget and starting balance. Percents must be positive
// and sum to at most 100.
func ApplyTemplate(template models.BudgetTemplate, drop models.MoneyDrop) ([]models.Allocation, error) {
	if len(template.Splits) == 0 {
		return nil, fmt.Errorf("template %q has no splits", template.Name)
	}

	total := decimal.Zero
	for _, split := range template.Splits {
		if !split.Percent.IsPositive() {
			return nil, fmt.Errorf("split %q has non-positive percent %s", split.Name, split.Percent)
		}
		total = total.Add(split.Percent)
	}
	if total.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("template %q splits sum to %s%%, exceeding 100%%", template.Name, total)
	}

	hundred := decimal.NewFromInt(100)
	allocations := make([]models.Allocation, 0, len(template.Splits))
	for _, split := range template.Splits {
		budget := drop.Amount.Mul(split.Percent).Div(hundred).Round(2)
		allocations = append(allocations, models.Allocation{
			Name:           split.Name,
			Type:           split.Type,
			Budget:         budget,
			CurrentBalance: budget,
			MoneyDropID:    drop.ID,
		})
	}
	return allocations, nil
}
