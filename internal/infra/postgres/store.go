// Package postgres implements the ledger store on PostgreSQL with pgx.
// A unit of work is one SQL transaction; accounts are row-locked with
// SELECT ... FOR UPDATE in ascending id order.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var pgTracer = otel.Tracer("infra/postgres")

const uniqueViolation = "23505"

const accountColumns = `id, number, owner_id, account_type, balance, created_at`

const transactionColumns = `id, from_account_id, to_account_id, amount, kind, description, status, occurred_at`

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore is the PostgreSQL port.LedgerStore.
type LedgerStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ port.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore connects to connString and verifies the connection.
func NewLedgerStore(ctx context.Context, connString string, logger *zap.Logger) (*LedgerStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &LedgerStore{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *LedgerStore) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ============================================================
// Units of work
// ============================================================

// WithAccounts implements port.LedgerStore.
func (s *LedgerStore) WithAccounts(ctx context.Context, accountIDs []string, fn func(tx port.LedgerTx) error) error {
	ctx, span := pgTracer.Start(ctx, "LedgerStore.WithAccounts")
	defer span.End()

	order := domain.LockOrder(accountIDs...)
	span.SetAttributes(attribute.Int("accounts.count", len(order)))

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &domain.ErrInternal{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	// byte-wise collation so the database locks in the same order as domain.LockOrder
	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id COLLATE "C" FOR UPDATE`,
		order)
	if err != nil {
		return &domain.ErrInternal{Op: "lock_accounts", Err: err}
	}
	locked, err := collectAccounts(rows)
	if err != nil {
		return &domain.ErrInternal{Op: "lock_accounts", Err: err}
	}

	utx := &pgTx{ctx: ctx, q: tx, accounts: make(map[string]*domain.Account, len(locked))}
	for i := range locked {
		utx.accounts[locked[i].ID] = &locked[i]
	}
	for _, id := range order {
		if _, ok := utx.accounts[id]; !ok {
			return &domain.ErrNotFound{Resource: "account", ID: id}
		}
	}

	if err := fn(utx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("ledger commit failed", zap.Error(err))
		return &domain.ErrInternal{Op: "commit", Err: err}
	}
	return nil
}

// CreateAccount implements port.LedgerStore.
func (s *LedgerStore) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	ctx, span := pgTracer.Start(ctx, "LedgerStore.CreateAccount")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.ErrInternal{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Number, account.OwnerID, account.Type, account.Balance, account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &domain.ErrConflict{Message: fmt.Sprintf("account already exists (%s): %s", pgErr.ConstraintName, account.Number)}
		}
		return &domain.ErrInternal{Op: "insert_account", Err: err}
	}

	if opening != nil {
		if err := insertTransaction(ctx, tx, opening); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.ErrInternal{Op: "commit", Err: err}
	}
	return nil
}

// DeleteAccount implements port.LedgerStore. Transactions are kept.
func (s *LedgerStore) DeleteAccount(ctx context.Context, accountID string) error {
	ctx, span := pgTracer.Start(ctx, "LedgerStore.DeleteAccount")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return &domain.ErrInternal{Op: "delete_account", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return nil
}

// ReadSnapshot implements port.LedgerStore with a read-only REPEATABLE READ transaction.
func (s *LedgerStore) ReadSnapshot(ctx context.Context, fn func(view port.LedgerView) error) error {
	ctx, span := pgTracer.Start(ctx, "LedgerStore.ReadSnapshot")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return &domain.ErrInternal{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(view{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ============================================================
// Unit-of-work handle
// ============================================================

type pgTx struct {
	ctx      context.Context
	q        querier
	accounts map[string]*domain.Account
}

func (t *pgTx) Account(accountID string) (*domain.Account, error) {
	a, ok := t.accounts[accountID]
	if !ok {
		return nil, &domain.ErrInternal{Op: "account", Err: fmt.Errorf("account %s is not part of this unit of work", accountID)}
	}
	c := *a
	return &c, nil
}

func (t *pgTx) SetBalance(accountID string, balance decimal.Decimal) error {
	a, ok := t.accounts[accountID]
	if !ok {
		return &domain.ErrInternal{Op: "set_balance", Err: fmt.Errorf("account %s is not part of this unit of work", accountID)}
	}
	if _, err := t.q.Exec(t.ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID); err != nil {
		return &domain.ErrInternal{Op: "set_balance", Err: err}
	}
	a.Balance = balance
	return nil
}

func (t *pgTx) Append(tr *domain.Transaction) error {
	return insertTransaction(t.ctx, t.q, tr)
}

func insertTransaction(ctx context.Context, q querier, tr *domain.Transaction) error {
	_, err := q.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tr.ID, tr.FromAccountID, tr.ToAccountID, tr.Amount, string(tr.Kind), tr.Description, tr.Status, tr.OccurredAt)
	if err != nil {
		return &domain.ErrInternal{Op: "append", Err: err}
	}
	return nil
}

// ============================================================
// Reads
// ============================================================

func (s *LedgerStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return view{q: s.pool}.GetAccount(ctx, accountID)
}

func (s *LedgerStore) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return view{q: s.pool}.GetAccountByNumber(ctx, number)
}

func (s *LedgerStore) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return view{q: s.pool}.ListAccountsByOwner(ctx, ownerID)
}

func (s *LedgerStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return view{q: s.pool}.ListAccounts(ctx)
}

func (s *LedgerStore) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return view{q: s.pool}.GetTransaction(ctx, transactionID)
}

func (s *LedgerStore) FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return view{q: s.pool}.FindTransactions(ctx, filter)
}

type view struct {
	q querier
}

func (v view) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return v.oneAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

func (v view) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return v.oneAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number)
}

func (v view) oneAccount(ctx context.Context, sql, key string) (*domain.Account, error) {
	var a domain.Account
	err := v.q.QueryRow(ctx, sql, key).Scan(&a.ID, &a.Number, &a.OwnerID, &a.Type, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: key}
	}
	if err != nil {
		return nil, &domain.ErrInternal{Op: "get_account", Err: err}
	}
	return &a, nil
}

func (v view) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := v.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, &domain.ErrInternal{Op: "list_accounts", Err: err}
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, &domain.ErrInternal{Op: "list_accounts", Err: err}
	}
	return accounts, nil
}

func (v view) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := v.q.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, &domain.ErrInternal{Op: "list_accounts", Err: err}
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, &domain.ErrInternal{Op: "list_accounts", Err: err}
	}
	return accounts, nil
}

func (v view) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txs, err := v.FindTransactions(ctx, domain.TransactionFilter{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	return &txs[0], nil
}

func (v view) FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	sql, args := buildTransactionQuery(filter)
	rows, err := v.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, &domain.ErrInternal{Op: "find_transactions", Err: err}
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			t    domain.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &kind, &t.Description, &t.Status, &t.OccurredAt); err != nil {
			return nil, &domain.ErrInternal{Op: "find_transactions", Err: err}
		}
		t.Kind = domain.TransactionKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrInternal{Op: "find_transactions", Err: err}
	}
	return out, nil
}

// buildTransactionQuery renders filter as a parameterized SELECT, newest first.
func buildTransactionQuery(filter domain.TransactionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ID != "" {
		where = append(where, "id = "+arg(filter.ID))
	}
	if len(filter.AccountIDs) > 0 {
		p := arg(filter.AccountIDs)
		where = append(where, fmt.Sprintf("(from_account_id = ANY(%s) OR to_account_id = ANY(%s))", p, p))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+arg(string(filter.Kind)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "occurred_at <= "+arg(filter.Until))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + ` FROM transactions`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY occurred_at DESC, seq DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	return b.String(), args
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()

	out := make([]domain.Account, 0)
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Number, &a.OwnerID, &a.Type, &a.Balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
