package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/cache"
	"github.com/boddenberg/bank-ledger-go/internal/infra/memory"
	"github.com/boddenberg/bank-ledger-go/internal/infra/observability"
	"github.com/boddenberg/bank-ledger-go/internal/port"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stepClock returns baseTime plus one second per call.
type stepClock struct {
	mu sync.Mutex
	n  int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return baseTime.Add(time.Duration(c.n) * time.Second)
}

// seqNumbers hands out scripted numbers first, then sequential ones.
type seqNumbers struct {
	mu     sync.Mutex
	script []string
	next   int
	calls  int
}

func (g *seqNumbers) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.script) > 0 {
		n := g.script[0]
		g.script = g.script[1:]
		return n
	}
	g.next++
	return fmt.Sprintf("ACC%010d", g.next)
}

// constNumbers always returns the same number.
type constNumbers struct {
	calls atomic.Int32
}

func (g *constNumbers) Generate() string {
	g.calls.Add(1)
	return "ACC0000000042"
}

type countingOwners struct {
	reg   *memory.OwnerRegistry
	calls atomic.Int32
	err   error
}

func (o *countingOwners) OwnerExists(ctx context.Context, ownerID string) (bool, error) {
	o.calls.Add(1)
	if o.err != nil {
		return false, o.err
	}
	return o.reg.OwnerExists(ctx, ownerID)
}

type switchJournal struct {
	mu   sync.Mutex
	fail bool
}

func (j *switchJournal) Write(any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	return nil
}

func (j *switchJournal) ReadAll(func([]byte) error) error { return nil }

func (j *switchJournal) setFail(v bool) {
	j.mu.Lock()
	j.fail = v
	j.mu.Unlock()
}

type fixture struct {
	store   port.LedgerStore
	ledger  *service.LedgerService
	reports *service.ReportingService
	metrics *observability.Metrics
	owners  *countingOwners
	numbers port.NumberGenerator
}

func newFixture(t *testing.T, opts ...service.LedgerOption) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewLedgerStore(zap.NewNop()), &seqNumbers{}, opts...)
}

func newFixtureWith(t *testing.T, store port.LedgerStore, numbers port.NumberGenerator, opts ...service.LedgerOption) *fixture {
	t.Helper()

	ownerCache := cache.New[bool](time.Minute)
	t.Cleanup(ownerCache.Close)

	clock := &stepClock{}
	owners := &countingOwners{reg: memory.NewOwnerRegistry("owner-u", "owner-v")}
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	opts = append([]service.LedgerOption{service.WithClock(clock.Now)}, opts...)
	return &fixture{
		store:   store,
		ledger:  service.NewLedgerService(store, owners, numbers, ownerCache, metrics, logger, opts...),
		reports: service.NewReportingService(store, logger),
		metrics: metrics,
		owners:  owners,
		numbers: numbers,
	}
}

func (f *fixture) open(t *testing.T, owner, opening string) *domain.Account {
	t.Helper()
	a, err := f.ledger.CreateAccount(context.Background(), domain.CreateAccountRequest{
		OwnerID:        owner,
		OpeningBalance: d(opening),
	})
	if err != nil {
		t.Fatalf("create account for %s: %v", owner, err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	a, err := f.reports.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account %s: %v", accountID, err)
	}
	return a.Balance
}

func (f *fixture) history(t *testing.T, accountID string) []domain.Transaction {
	t.Helper()
	txs, err := f.reports.ListTransactions(context.Background(), domain.TransactionQuery{By: domain.ByAccount, AccountID: accountID})
	if err != nil {
		t.Fatalf("list transactions of %s: %v", accountID, err)
	}
	return txs
}

func (f *fixture) allTransactions(t *testing.T) []domain.Transaction {
	t.Helper()
	txs, err := f.store.FindTransactions(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("find transactions: %v", err)
	}
	return txs
}

func assertBalance(t *testing.T, f *fixture, accountID, want string) {
	t.Helper()
	if got := f.balance(t, accountID); !got.Equal(d(want)) {
		t.Errorf("account %s: expected balance %s, got %s", accountID, want, got.StringFixed(2))
	}
}
