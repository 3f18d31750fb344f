package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions (append-only log)
// ============================================================

// TransactionKind classifies a transaction.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
	KindTransfer   TransactionKind = "TRANSFER"
)

// StatusCompleted is the only status a committed transaction can have.
const StatusCompleted = "COMPLETED"

// ParseTransactionKind accepts a kind name in any letter case.
func ParseTransactionKind(s string) (TransactionKind, bool) {
	switch TransactionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindDeposit:
		return KindDeposit, true
	case KindWithdrawal:
		return KindWithdrawal, true
	case KindTransfer:
		return KindTransfer, true
	}
	return "", false
}

// Transaction is an immutable ledger record. FromAccountID is nil for
// deposits and ToAccountID is nil for withdrawals.
type Transaction struct {
	ID            string          `json:"id"`
	FromAccountID *string         `json:"from_account_id,omitempty"`
	ToAccountID   *string         `json:"to_account_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          TransactionKind `json:"transaction_type"`
	Description   string          `json:"description"`
	OccurredAt    time.Time       `json:"transaction_date"`
	Status        string          `json:"status"`
}

// Touches reports whether the transaction debits or credits accountID.
func (t *Transaction) Touches(accountID string) bool {
	return (t.FromAccountID != nil && *t.FromAccountID == accountID) ||
		(t.ToAccountID != nil && *t.ToAccountID == accountID)
}

// TransferRequest carries the inputs of a transfer between two accounts.
type TransferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// TransactionFilter selects transactions from the log. Zero values do not
// filter. Results are ordered newest first.
type TransactionFilter struct {
	ID         string
	AccountIDs []string
	Kind       TransactionKind
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Matches reports whether t satisfies every set field of f.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && t.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.OccurredAt.After(f.Until) {
		return false
	}
	if len(f.AccountIDs) > 0 {
		for _, id := range f.AccountIDs {
			if t.Touches(id) {
				return true
			}
		}
		return false
	}
	return true
}

// QueryBy names the dimension a transaction listing is keyed on.
type QueryBy string

const (
	ByAccount   QueryBy = "account"
	ByOwner     QueryBy = "owner"
	ByType      QueryBy = "type"
	ByDateRange QueryBy = "date_range"
	ByRecent    QueryBy = "recent"
	ByID        QueryBy = "id"
)

// TransactionQuery is the caller-facing listing request.
type TransactionQuery struct {
	By            QueryBy
	AccountID     string
	OwnerID       string
	TransactionID string
	Kind          string
	Since         time.Time
	Until         time.Time
	Count         int
}
