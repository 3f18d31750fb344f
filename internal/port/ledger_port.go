package port

import (
	"context"

	"github.com/boddenberg/bank-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerView reads accounts and transactions from one consistent state.
type LedgerView interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// LedgerTx is the handle passed to a unit of work. Reads see the locked
// accounts; writes are staged and become visible only when the unit commits.
type LedgerTx interface {
	// Account returns a copy of a locked account, including staged changes.
	Account(accountID string) (*domain.Account, error)
	// SetBalance stages a new balance for a locked account.
	SetBalance(accountID string, balance decimal.Decimal) error
	// Append stages a transaction record.
	Append(t *domain.Transaction) error
}

// LedgerStore holds the Account Store and the Transaction Log and commits
// balance mutations together with their log records.
type LedgerStore interface {
	LedgerView

	// WithAccounts runs fn with exclusive access to the given accounts,
	// acquired in domain.LockOrder. If fn returns an error, or the commit
	// fails, nothing fn staged becomes visible. Unknown ids fail with
	// *domain.ErrNotFound before fn runs.
	WithAccounts(ctx context.Context, accountIDs []string, fn func(tx LedgerTx) error) error

	// CreateAccount inserts a new account and, when opening is non-nil, its
	// opening transaction, atomically. A duplicate number fails with
	// *domain.ErrConflict.
	CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error

	// DeleteAccount removes an account. Its transactions stay in the log.
	DeleteAccount(ctx context.Context, accountID string) error

	// ReadSnapshot runs fn against a view that no commit can change while fn runs.
	ReadSnapshot(ctx context.Context, fn func(view LedgerView) error) error
}
