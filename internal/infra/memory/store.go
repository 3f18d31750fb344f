// Package memory implements the ledger store in process memory.
//
// Each account has its own mutex, acquired in domain.LockOrder by
// WithAccounts. A store-wide RWMutex guards the maps and the transaction
// log; commits take it exclusively only for the final apply step, so a
// ReadSnapshot never observes half of a unit of work. When a journal is
// configured every commit is written to it before being applied.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var storeTracer = otel.Tracer("infra/memory")

// Journal persists commit records before they are applied.
type Journal interface {
	Write(v any) error
}

// ReplayJournal is a Journal that can also be read back from the start.
type ReplayJournal interface {
	Journal
	ReadAll(fn func(raw []byte) error) error
}

// record is one committed batch. Accounts hold post-commit state.
type record struct {
	Accounts     []domain.Account     `json:"accounts,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	Deleted      []string             `json:"deleted,omitempty"`
}

// LedgerStore is the in-memory port.LedgerStore.
type LedgerStore struct {
	// mu guards accounts, byNumber, txs and txIndex.
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byNumber map[string]string
	txs      []domain.Transaction
	txIndex  map[string]int

	// commitMu serializes journal writes with their apply step so the
	// journal order matches the in-memory append order.
	commitMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	journal Journal
	logger  *zap.Logger
}

var _ port.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates an empty store without a journal.
func NewLedgerStore(logger *zap.Logger) *LedgerStore {
	return &LedgerStore{
		accounts: make(map[string]*domain.Account),
		byNumber: make(map[string]string),
		txIndex:  make(map[string]int),
		locks:    make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// NewJournaledLedgerStore replays j into a new store and then journals
// every subsequent commit to it.
func NewJournaledLedgerStore(j ReplayJournal, logger *zap.Logger) (*LedgerStore, error) {
	s := NewLedgerStore(logger)

	batches := 0
	err := j.ReadAll(func(raw []byte) error {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode journal record %d: %w", batches+1, err)
		}
		s.apply(&rec)
		batches++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	s.journal = j
	logger.Info("ledger journal replayed",
		zap.Int("batches", batches),
		zap.Int("accounts", len(s.accounts)),
		zap.Int("transactions", len(s.txs)),
	)
	return s, nil
}

// ============================================================
// Units of work
// ============================================================

// WithAccounts implements port.LedgerStore.
func (s *LedgerStore) WithAccounts(ctx context.Context, accountIDs []string, fn func(tx port.LedgerTx) error) error {
	ctx, span := storeTracer.Start(ctx, "LedgerStore.WithAccounts")
	defer span.End()

	order := domain.LockOrder(accountIDs...)
	span.SetAttributes(attribute.Int("accounts.count", len(order)))

	if err := ctx.Err(); err != nil {
		return err
	}
	// fail fast on unknown ids so no lock entries are created for them
	if err := s.requireAccounts(order); err != nil {
		return err
	}

	for _, id := range order {
		m := s.lockFor(id)
		m.Lock()
		defer m.Unlock()
	}

	// an account may have been deleted while we were waiting
	tx := &memTx{accounts: make(map[string]*domain.Account, len(order)), dirty: make(map[string]bool)}
	s.mu.RLock()
	for _, id := range order {
		a, ok := s.accounts[id]
		if !ok {
			s.mu.RUnlock()
			return &domain.ErrNotFound{Resource: "account", ID: id}
		}
		c := *a
		tx.accounts[id] = &c
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx.record(order))
}

// CreateAccount implements port.LedgerStore.
func (s *LedgerStore) CreateAccount(ctx context.Context, account *domain.Account, opening *domain.Transaction) error {
	_, span := storeTracer.Start(ctx, "LedgerStore.CreateAccount")
	defer span.End()

	if account == nil || account.ID == "" || account.Number == "" {
		return &domain.ErrInternal{Op: "create_account", Err: errors.New("account id and number are required")}
	}
	if account.Balance.IsNegative() {
		return &domain.ErrInternal{Op: "create_account", Err: errors.New("negative opening balance")}
	}

	rec := &record{Accounts: []domain.Account{*account}}
	if opening != nil {
		rec.Transactions = []domain.Transaction{*opening}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	// only commits mutate the maps and they all hold commitMu
	if _, taken := s.byNumber[account.Number]; taken {
		return &domain.ErrConflict{Message: fmt.Sprintf("account number already exists: %s", account.Number)}
	}
	if _, taken := s.accounts[account.ID]; taken {
		return &domain.ErrConflict{Message: fmt.Sprintf("account id already exists: %s", account.ID)}
	}
	if opening != nil {
		if _, dup := s.txIndex[opening.ID]; dup {
			return &domain.ErrInternal{Op: "create_account", Err: fmt.Errorf("duplicate transaction id %s", opening.ID)}
		}
	}

	return s.commitLocked(rec)
}

// DeleteAccount implements port.LedgerStore.
func (s *LedgerStore) DeleteAccount(ctx context.Context, accountID string) error {
	_, span := storeTracer.Start(ctx, "LedgerStore.DeleteAccount")
	defer span.End()

	if err := s.requireAccounts([]string{accountID}); err != nil {
		return err
	}

	m := s.lockFor(accountID)
	m.Lock()
	defer m.Unlock()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	if err := s.commitLocked(&record{Deleted: []string{accountID}}); err != nil {
		return err
	}

	s.locksMu.Lock()
	delete(s.locks, accountID)
	s.locksMu.Unlock()
	return nil
}

// ReadSnapshot implements port.LedgerStore. No commit is applied while fn runs.
func (s *LedgerStore) ReadSnapshot(ctx context.Context, fn func(view port.LedgerView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{s})
}

func (s *LedgerStore) requireAccounts(ids []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if _, ok := s.accounts[id]; !ok {
			return &domain.ErrNotFound{Resource: "account", ID: id}
		}
	}
	return nil
}

func (s *LedgerStore) lockFor(accountID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	m, ok := s.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[accountID] = m
	}
	return m
}

func (s *LedgerStore) commit(rec *record) error {
	if len(rec.Accounts) == 0 && len(rec.Transactions) == 0 && len(rec.Deleted) == 0 {
		return nil
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for _, t := range rec.Transactions {
		if _, dup := s.txIndex[t.ID]; dup {
			return &domain.ErrInternal{Op: "append", Err: fmt.Errorf("duplicate transaction id %s", t.ID)}
		}
	}
	return s.commitLocked(rec)
}

// commitLocked journals rec and applies it. Caller holds commitMu.
func (s *LedgerStore) commitLocked(rec *record) error {
	if s.journal != nil {
		if err := s.journal.Write(rec); err != nil {
			s.logger.Error("journal write failed, commit discarded", zap.Error(err))
			return &domain.ErrInternal{Op: "journal", Err: err}
		}
	}

	s.mu.Lock()
	s.apply(rec)
	s.mu.Unlock()
	return nil
}

// apply installs rec. Caller holds mu (or owns the store exclusively).
func (s *LedgerStore) apply(rec *record) {
	for i := range rec.Accounts {
		a := rec.Accounts[i]
		if prev, ok := s.accounts[a.ID]; ok && prev.Number != a.Number {
			delete(s.byNumber, prev.Number)
		}
		s.accounts[a.ID] = &a
		s.byNumber[a.Number] = a.ID
	}
	for _, t := range rec.Transactions {
		s.txIndex[t.ID] = len(s.txs)
		s.txs = append(s.txs, t)
	}
	for _, id := range rec.Deleted {
		if a, ok := s.accounts[id]; ok {
			delete(s.byNumber, a.Number)
			delete(s.accounts, id)
		}
	}
}

// ============================================================
// Staged changes
// ============================================================

type memTx struct {
	accounts map[string]*domain.Account
	dirty    map[string]bool
	txs      []domain.Transaction
}

func (t *memTx) Account(accountID string) (*domain.Account, error) {
	a, ok := t.accounts[accountID]
	if !ok {
		return nil, &domain.ErrInternal{Op: "account", Err: fmt.Errorf("account %s is not part of this unit of work", accountID)}
	}
	c := *a
	return &c, nil
}

func (t *memTx) SetBalance(accountID string, balance decimal.Decimal) error {
	a, ok := t.accounts[accountID]
	if !ok {
		return &domain.ErrInternal{Op: "set_balance", Err: fmt.Errorf("account %s is not part of this unit of work", accountID)}
	}
	if balance.IsNegative() {
		return &domain.ErrInternal{Op: "set_balance", Err: fmt.Errorf("negative balance for account %s", accountID)}
	}
	a.Balance = balance
	t.dirty[accountID] = true
	return nil
}

func (t *memTx) Append(tr *domain.Transaction) error {
	if tr == nil || tr.ID == "" {
		return &domain.ErrInternal{Op: "append", Err: errors.New("transaction id is required")}
	}
	for _, staged := range t.txs {
		if staged.ID == tr.ID {
			return &domain.ErrInternal{Op: "append", Err: fmt.Errorf("duplicate transaction id %s", tr.ID)}
		}
	}
	t.txs = append(t.txs, *tr)
	return nil
}

func (t *memTx) record(order []string) *record {
	rec := &record{Transactions: t.txs}
	for _, id := range order {
		if t.dirty[id] {
			rec.Accounts = append(rec.Accounts, *t.accounts[id])
		}
	}
	return rec
}

// ============================================================
// Reads
// ============================================================

func (s *LedgerStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.GetAccount(ctx, accountID)
}

func (s *LedgerStore) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.GetAccountByNumber(ctx, number)
}

func (s *LedgerStore) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.ListAccountsByOwner(ctx, ownerID)
}

func (s *LedgerStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.ListAccounts(ctx)
}

func (s *LedgerStore) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.GetTransaction(ctx, transactionID)
}

func (s *LedgerStore) FindTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{s}.FindTransactions(ctx, filter)
}

// view reads the store without locking. The caller holds s.mu.
type view struct {
	s *LedgerStore
}

func (v view) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	a, ok := v.s.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	c := *a
	return &c, nil
}

func (v view) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	id, ok := v.s.byNumber[number]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: number}
	}
	return v.GetAccount(ctx, id)
}

func (v view) ListAccountsByOwner(_ context.Context, ownerID string) ([]domain.Account, error) {
	out := make([]domain.Account, 0)
	for _, a := range v.s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (v view) ListAccounts(_ context.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(v.s.accounts))
	for _, a := range v.s.accounts {
		out = append(out, *a)
	}
	sortAccounts(out)
	return out, nil
}

func (v view) GetTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	i, ok := v.s.txIndex[transactionID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	t := v.s.txs[i]
	return &t, nil
}

func (v view) FindTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0)
	if filter.ID != "" {
		if i, ok := v.s.txIndex[filter.ID]; ok && filter.Matches(&v.s.txs[i]) {
			out = append(out, v.s.txs[i])
		}
		return out, nil
	}

	// newest appended first, then a stable sort keeps that order for equal timestamps
	for i := len(v.s.txs) - 1; i >= 0; i-- {
		if filter.Matches(&v.s.txs[i]) {
			out = append(out, v.s.txs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortAccounts(accounts []domain.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
