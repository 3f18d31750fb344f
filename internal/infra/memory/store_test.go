package memory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/memory"
	"github.com/boddenberg/bank-ledger-go/internal/infra/wal"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func newAccount(id, number, owner, balance string) *domain.Account {
	return &domain.Account{
		ID:        id,
		Number:    number,
		OwnerID:   owner,
		Balance:   decimal.RequireFromString(balance),
		Type:      domain.DefaultAccountType,
		CreatedAt: t0,
	}
}

func deposit(id, accountID, amount string, at time.Time) *domain.Transaction {
	to := accountID
	return &domain.Transaction{
		ID:          id,
		ToAccountID: &to,
		Amount:      decimal.RequireFromString(amount),
		Kind:        domain.KindDeposit,
		Description: "Cash deposit",
		OccurredAt:  at,
		Status:      domain.StatusCompleted,
	}
}

// creditOne is the smallest unit of work: credit one account and log it.
func creditOne(s *memory.LedgerStore, accountID, txID, amount string, at time.Time) error {
	return s.WithAccounts(context.Background(), []string{accountID}, func(tx port.LedgerTx) error {
		a, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(accountID, a.Balance.Add(decimal.RequireFromString(amount))); err != nil {
			return err
		}
		return tx.Append(deposit(txID, accountID, amount, at))
	})
}

type failingJournal struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (j *failingJournal) Write(any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.fail {
		return errors.New("disk full")
	}
	return nil
}

func (j *failingJournal) ReadAll(func([]byte) error) error { return nil }

func TestLedgerStore_CreateAndRead(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())
	ctx := context.Background()

	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "100"), deposit("t1", "a1", "100", t0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAccountByNumber(ctx, "ACC0000000001")
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if got.ID != "a1" || !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected account %+v", got)
	}

	txs, err := s.FindTransactions(ctx, domain.TransactionFilter{AccountIDs: []string{"a1"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "t1" {
		t.Errorf("expected opening transaction, got %+v", txs)
	}
}

func TestLedgerStore_DuplicateNumberConflicts(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())
	ctx := context.Background()

	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "0"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateAccount(ctx, newAccount("a2", "ACC0000000001", "owner-1", "0"), nil)

	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.GetAccount(ctx, "a2"); err == nil {
		t.Error("conflicting account must not be stored")
	}
}

func TestLedgerStore_WithAccounts_UnknownAccount(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())

	called := false
	err := s.WithAccounts(context.Background(), []string{"missing"}, func(port.LedgerTx) error {
		called = true
		return nil
	})

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if called {
		t.Error("unit of work must not run for unknown accounts")
	}
}

func TestLedgerStore_WithAccounts_ErrorDiscardsStagedChanges(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "50"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("rejected")
	err := s.WithAccounts(ctx, []string{"a1"}, func(tx port.LedgerTx) error {
		if err := tx.SetBalance("a1", decimal.NewFromInt(0)); err != nil {
			return err
		}
		if err := tx.Append(deposit("t1", "a1", "1", t0)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	a, _ := s.GetAccount(ctx, "a1")
	if !a.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance changed to %s", a.Balance)
	}
	if _, err := s.GetTransaction(ctx, "t1"); err == nil {
		t.Error("staged transaction leaked into the log")
	}
}

func TestLedgerStore_JournalFailureRollsBack(t *testing.T) {
	j := &failingJournal{}
	s, err := memory.NewJournaledLedgerStore(j, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "10"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	j.fail = true
	err = creditOne(s, "a1", "t1", "5", t0)

	var internal *domain.ErrInternal
	if !errors.As(err, &internal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	a, _ := s.GetAccount(ctx, "a1")
	if !a.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance must be unchanged, got %s", a.Balance)
	}
	if _, err := s.GetTransaction(ctx, "t1"); err == nil {
		t.Error("transaction must not be visible after a failed commit")
	}
}

func TestLedgerStore_ReplayRestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ctx := context.Background()

	w, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	s, err := memory.NewJournaledLedgerStore(w, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "0"), nil); err != nil {
		t.Fatalf("create a1: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a2", "ACC0000000002", "owner-1", "0"), nil); err != nil {
		t.Fatalf("create a2: %v", err)
	}
	if err := creditOne(s, "a1", "t1", "12.34", t0.Add(time.Minute)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.DeleteAccount(ctx, "a2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	w.Close()

	w, err = wal.Open(path)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w.Close()
	restored, err := memory.NewJournaledLedgerStore(w, zap.NewNop())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	a, err := restored.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	if !a.Balance.Equal(decimal.RequireFromString("12.34")) {
		t.Errorf("expected balance 12.34, got %s", a.Balance)
	}
	if _, err := restored.GetAccount(ctx, "a2"); err == nil {
		t.Error("deleted account came back after replay")
	}
	if _, err := restored.GetTransaction(ctx, "t1"); err != nil {
		t.Errorf("transaction lost in replay: %v", err)
	}
}

// syncFailingFile fails the next fsync, as a disk error would.
type syncFailingFile struct {
	*os.File
	fail bool
}

func (f *syncFailingFile) Sync() error {
	if f.fail {
		f.fail = false
		return syscall.EIO
	}
	return f.File.Sync()
}

func TestLedgerStore_FailedJournalSyncDoesNotReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ctx := context.Background()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, wal.FileMode)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	ff := &syncFailingFile{File: file}
	w, err := wal.New(ff)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	s, err := memory.NewJournaledLedgerStore(w, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "10"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	ff.fail = true
	var internal *domain.ErrInternal
	if err := creditOne(s, "a1", "t1", "5", t0); !errors.As(err, &internal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if err := creditOne(s, "a1", "t2", "1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("credit after failure: %v", err)
	}
	w.Close()

	w, err = wal.Open(path)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer w.Close()
	restored, err := memory.NewJournaledLedgerStore(w, zap.NewNop())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	a, err := restored.GetAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	if !a.Balance.Equal(decimal.NewFromInt(11)) {
		t.Errorf("expected balance 11 after replay, got %s", a.Balance)
	}
	if _, err := restored.GetTransaction(ctx, "t1"); err == nil {
		t.Error("rolled-back transaction reappeared after replay")
	}
}

func TestLedgerStore_FindTransactionsNewestFirst(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "ACC0000000001", "owner-1", "0"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// t2 and t3 share a timestamp; append order breaks the tie
	for _, step := range []struct {
		id string
		at time.Time
	}{
		{"t1", t0},
		{"t2", t0.Add(time.Hour)},
		{"t3", t0.Add(time.Hour)},
	} {
		if err := creditOne(s, "a1", step.id, "1", step.at); err != nil {
			t.Fatalf("credit %s: %v", step.id, err)
		}
	}

	txs, err := s.FindTransactions(ctx, domain.TransactionFilter{AccountIDs: []string{"a1"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []string{"t3", "t2", "t1"}
	for i, id := range want {
		if txs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, txs[i].ID)
		}
	}

	limited, _ := s.FindTransactions(ctx, domain.TransactionFilter{Limit: 2})
	if len(limited) != 2 || limited[0].ID != "t3" {
		t.Errorf("unexpected limited result %+v", limited)
	}
}

func TestLedgerStore_ConcurrentUnitsOfWork(t *testing.T) {
	s := memory.NewLedgerStore(zap.NewNop())
	ctx := context.Background()
	for _, a := range []*domain.Account{
		newAccount("a1", "ACC0000000001", "owner-1", "1000"),
		newAccount("a2", "ACC0000000002", "owner-1", "1000"),
	} {
		if err := s.CreateAccount(ctx, a, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// opposite-direction moves between the same pair must not deadlock
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "a1", "a2"
			if i%2 == 0 {
				from, to = to, from
			}
			err := s.WithAccounts(ctx, []string{from, to}, func(tx port.LedgerTx) error {
				src, _ := tx.Account(from)
				dst, _ := tx.Account(to)
				if err := tx.SetBalance(from, src.Balance.Sub(decimal.NewFromInt(1))); err != nil {
					return err
				}
				return tx.SetBalance(to, dst.Balance.Add(decimal.NewFromInt(1)))
			})
			if err != nil {
				t.Errorf("unit of work %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	err := s.ReadSnapshot(ctx, func(v port.LedgerView) error {
		accounts, err := v.ListAccounts(ctx)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, a := range accounts {
			total = total.Add(a.Balance)
		}
		if !total.Equal(decimal.NewFromInt(2000)) {
			t.Errorf("money not conserved: %s", total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}

func TestOwnerRegistry(t *testing.T) {
	r := memory.NewOwnerRegistry("owner-1", " ", "owner-2")

	if ok, _ := r.OwnerExists(context.Background(), "owner-2"); !ok {
		t.Error("expected owner-2 to exist")
	}
	if ok, _ := r.OwnerExists(context.Background(), "owner-3"); ok {
		t.Error("owner-3 was never registered")
	}
}
