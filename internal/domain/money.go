package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits a monetary amount may carry.
const MoneyScale = 2

// ParseAmount parses a positive monetary amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ErrInvalidAmount{Amount: s, Reason: "not a decimal number"}
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is strictly positive and has no more than
// MoneyScale fractional digits.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return &ErrInvalidAmount{Amount: d.String(), Reason: "must be greater than zero"}
	}
	if !hasMoneyScale(d) {
		return &ErrInvalidAmount{Amount: d.String(), Reason: "too many decimal places"}
	}
	return nil
}

// ValidateOpeningBalance accepts zero as well as any valid amount.
func ValidateOpeningBalance(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	if d.IsNegative() {
		return &ErrInvalidAmount{Amount: d.String(), Reason: "opening balance cannot be negative"}
	}
	return ValidateAmount(d)
}

func hasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// LockOrder returns the distinct ids sorted ascending. Every operation that
// needs several accounts acquires them in this order.
func LockOrder(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
