package observability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/observability"
)

func TestMetrics_GetLedgerSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.RecordOperation("deposit", time.Millisecond, nil)
	m.RecordOperation("transfer", time.Millisecond, nil)
	m.RecordOperation("withdraw", time.Millisecond, &domain.ErrInsufficientFunds{AccountID: "a1"})
	m.RecordOperation("transfer", time.Millisecond, &domain.ErrSameAccount{AccountID: "a1"})
	m.RecordOperation("deposit", time.Millisecond, &domain.ErrInternal{Op: "journal", Err: errors.New("disk full")})
	m.RecordOperation(observability.OpTotalBalance, time.Millisecond, nil)
	m.IncrNumberCollision()
	m.AddAmountMoved(domain.KindDeposit, 12.5)
	m.IncrCacheHit(observability.OwnerCache)
	m.IncrCacheHit(observability.OwnerCache)
	m.IncrCacheHit(observability.OwnerCache)
	m.IncrCacheMiss(observability.OwnerCache)

	snap := m.GetLedgerSnapshot()

	if snap.Committed != 2 {
		t.Errorf("expected 2 committed, got %d", snap.Committed)
	}
	if snap.Rejected != 2 {
		t.Errorf("expected 2 rejected, got %d", snap.Rejected)
	}
	if snap.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", snap.Failed)
	}
	if snap.RejectionsByKind["insufficient_funds"] != 1 {
		t.Errorf("expected 1 insufficient_funds rejection, got %v", snap.RejectionsByKind)
	}
	if snap.NumberCollisions != 1 {
		t.Errorf("expected 1 collision, got %d", snap.NumberCollisions)
	}
	if snap.AmountMovedByKind["DEPOSIT"] != 12.5 {
		t.Errorf("expected 12.5 deposited, got %v", snap.AmountMovedByKind)
	}
	if snap.OwnerCacheHitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %f", snap.OwnerCacheHitRate)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "bogus"} {
		if observability.NewLogger(lvl) == nil {
			t.Errorf("NewLogger(%q) returned nil", lvl)
		}
	}
}
