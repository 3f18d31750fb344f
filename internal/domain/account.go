package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// DefaultAccountType is used when an account is opened without a type.
const DefaultAccountType = "SAVINGS"

// AccountNumberPrefix prefixes every generated account number.
const AccountNumberPrefix = "ACC"

// accountNumberDigits is the count of digits following the prefix.
const accountNumberDigits = 10

// Account is a ledger account. Balance is never negative after a commit.
type Account struct {
	ID        string          `json:"id"`
	Number    string          `json:"account_number"`
	Balance   decimal.Decimal `json:"balance"`
	OwnerID   string          `json:"owner_id"`
	Type      string          `json:"account_type"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateAccountRequest carries the inputs for opening an account.
type CreateAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Type           string          `json:"account_type,omitempty"`
}

// IsAccountNumber reports whether s has the ACC + 10 digits shape.
func IsAccountNumber(s string) bool {
	if len(s) != len(AccountNumberPrefix)+accountNumberDigits {
		return false
	}
	if s[:len(AccountNumberPrefix)] != AccountNumberPrefix {
		return false
	}
	for _, r := range s[len(AccountNumberPrefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AccountSummary aggregates the transaction history of one account.
type AccountSummary struct {
	AccountID        string          `json:"account_id"`
	AccountNumber    string          `json:"account_number"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	NetTransfers     decimal.Decimal `json:"net_transfers"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	TransactionCount int             `json:"transaction_count"`
}

// OwnerSummary aggregates all accounts of one owner.
type OwnerSummary struct {
	OwnerID      string           `json:"owner_id"`
	TotalBalance decimal.Decimal  `json:"total_balance"`
	Accounts     []AccountSummary `json:"accounts"`
}
