// Package service provides the business logic layer (use cases).
// LedgerService is the ledger engine: every balance change and its
// transaction record commit together through port.LedgerStore.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/observability"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// Default transaction descriptions.
const (
	DescriptionOpening    = "account opening"
	DescriptionDeposit    = "Cash deposit"
	DescriptionWithdrawal = "Cash withdrawal"
	DescriptionTransfer   = "Fund transfer"
	DescriptionDemoMoney  = "Demo money deposit"

	internalTransferSuffix = "(Internal Transfer)"
)

// DefaultNumberAttempts bounds account number generation per CreateAccount.
const DefaultNumberAttempts = 5

const (
	ownerCacheKeyPrefix     = "owner:"
	ownerDirectoryComponent = "owner_directory"
)

// LedgerService executes ledger mutations as atomic units of work.
type LedgerService struct {
	store      port.LedgerStore
	owners     port.OwnerDirectory
	numbers    port.NumberGenerator
	ownerCache port.Cache[bool]
	metrics    *observability.Metrics
	logger     *zap.Logger

	now            func() time.Time
	newID          func() string
	numberAttempts int
	accountType    string
}

// LedgerOption customizes a LedgerService.
type LedgerOption func(*LedgerService)

// WithClock sets the clock used for createdAt and transaction dates.
func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

// WithAccountNumberAttempts bounds how many numbers CreateAccount tries.
func WithAccountNumberAttempts(n int) LedgerOption {
	return func(s *LedgerService) {
		if n > 0 {
			s.numberAttempts = n
		}
	}
}

// WithDefaultAccountType sets the type given to accounts opened without one.
func WithDefaultAccountType(t string) LedgerOption {
	return func(s *LedgerService) {
		if t = strings.TrimSpace(t); t != "" {
			s.accountType = strings.ToUpper(t)
		}
	}
}

// NewLedgerService creates the ledger engine. ownerCache may be nil.
func NewLedgerService(
	store port.LedgerStore,
	owners port.OwnerDirectory,
	numbers port.NumberGenerator,
	ownerCache port.Cache[bool],
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...LedgerOption,
) *LedgerService {
	s := &LedgerService{
		store:          store,
		owners:         owners,
		numbers:        numbers,
		ownerCache:     ownerCache,
		metrics:        metrics,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		numberAttempts: DefaultNumberAttempts,
		accountType:    domain.DefaultAccountType,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================
// Accounts
// ============================================================

// CreateAccount opens an account with a fresh unique number. A positive
// opening balance is recorded as a DEPOSIT in the same unit of work.
func (s *LedgerService) CreateAccount(ctx context.Context, req domain.CreateAccountRequest) (_ *domain.Account, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", req.OwnerID))
	defer s.observe("create_account", time.Now(), span, &err)

	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, &domain.ErrValidation{Field: "owner_id", Message: "owner id is required"}
	}
	if err := domain.ValidateOpeningBalance(req.OpeningBalance); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	accountType := s.accountType
	if t := strings.TrimSpace(req.Type); t != "" {
		accountType = strings.ToUpper(t)
	}

	for attempt := 1; attempt <= s.numberAttempts; attempt++ {
		now := s.now()
		account := &domain.Account{
			ID:        s.newID(),
			Number:    s.numbers.Generate(),
			Balance:   req.OpeningBalance,
			OwnerID:   ownerID,
			Type:      accountType,
			CreatedAt: now,
		}

		var opening *domain.Transaction
		if req.OpeningBalance.IsPositive() {
			opening = s.newTransaction(domain.KindDeposit, nil, &account.ID, req.OpeningBalance, DescriptionOpening, now)
		}

		err := s.store.CreateAccount(ctx, account, opening)
		if err == nil {
			if opening != nil {
				s.metrics.AddAmountMoved(domain.KindDeposit, opening.Amount.InexactFloat64())
			}
			s.logger.Info("account created",
				zap.String("account_id", account.ID),
				zap.String("account_number", account.Number),
				zap.String("owner_id", ownerID),
				zap.String("opening_balance", req.OpeningBalance.StringFixed(domain.MoneyScale)),
			)
			return account, nil
		}

		var conflict *domain.ErrConflict
		if !errors.As(err, &conflict) {
			return nil, err
		}
		s.metrics.IncrNumberCollision()
		s.logger.Warn("account number collision, retrying",
			zap.String("account_number", account.Number),
			zap.Int("attempt", attempt),
		)
	}

	return nil, &domain.ErrInternal{
		Op:  "create_account",
		Err: fmt.Errorf("no unique account number after %d attempts", s.numberAttempts),
	}
}

// DeleteAccount removes an account administratively. Its transactions stay
// in the log and its balance simply leaves the ledger.
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID string) (err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))
	defer s.observe("delete_account", time.Now(), span, &err)

	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("account_id", accountID))
	return nil
}

// TotalBalance sums the balances of every account of ownerID. An owner
// with no accounts has a total of zero.
func (s *LedgerService) TotalBalance(ctx context.Context, ownerID string) (_ decimal.Decimal, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.TotalBalance")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))
	defer s.observe(observability.OpTotalBalance, time.Now(), span, &err)

	total := decimal.Zero
	err = s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		accounts, err := v.ListAccountsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			total = total.Add(a.Balance)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// ============================================================
// Balance mutations
// ============================================================

// Deposit credits amount to accountID.
func (s *LedgerService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (_ *domain.Transaction, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Deposit")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.String("amount", amount.String()))
	defer s.observe("deposit", time.Now(), span, &err)

	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var out *domain.Transaction
	err = s.store.WithAccounts(ctx, []string{accountID}, func(tx port.LedgerTx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(accountID, acc.Balance.Add(amount)); err != nil {
			return err
		}
		t := s.newTransaction(domain.KindDeposit, nil, &accountID, amount, orDefault(description, DescriptionDeposit), s.now())
		if err := tx.Append(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(out)
	return out, nil
}

// Withdraw debits amount from accountID. The balance never goes negative.
func (s *LedgerService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (_ *domain.Transaction, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Withdraw")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.String("amount", amount.String()))
	defer s.observe("withdraw", time.Now(), span, &err)

	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var out *domain.Transaction
	err = s.store.WithAccounts(ctx, []string{accountID}, func(tx port.LedgerTx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}
		if acc.Balance.LessThan(amount) {
			return &domain.ErrInsufficientFunds{AccountID: accountID, Available: acc.Balance, Required: amount}
		}
		if err := tx.SetBalance(accountID, acc.Balance.Sub(amount)); err != nil {
			return err
		}
		t := s.newTransaction(domain.KindWithdrawal, &accountID, nil, amount, orDefault(description, DescriptionWithdrawal), s.now())
		if err := tx.Append(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(out)
	return out, nil
}

// Transfer moves amount between two accounts in one unit of work.
// Checks run in order: same account, amount, existence, funds.
func (s *LedgerService) Transfer(ctx context.Context, req domain.TransferRequest) (_ *domain.Transaction, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("from.account.id", req.FromAccountID),
		attribute.String("to.account.id", req.ToAccountID),
		attribute.String("amount", req.Amount.String()),
	)
	defer s.observe("transfer", time.Now(), span, &err)

	from, to := req.FromAccountID, req.ToAccountID
	if from == to {
		return nil, &domain.ErrSameAccount{AccountID: from}
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	var out *domain.Transaction
	err = s.store.WithAccounts(ctx, []string{from, to}, func(tx port.LedgerTx) error {
		src, err := tx.Account(from)
		if err != nil {
			return err
		}
		dst, err := tx.Account(to)
		if err != nil {
			return err
		}
		if src.Balance.LessThan(req.Amount) {
			return &domain.ErrInsufficientFunds{AccountID: from, Available: src.Balance, Required: req.Amount}
		}

		if err := tx.SetBalance(from, src.Balance.Sub(req.Amount)); err != nil {
			return err
		}
		if err := tx.SetBalance(to, dst.Balance.Add(req.Amount)); err != nil {
			return err
		}

		description := orDefault(req.Description, DescriptionTransfer)
		if src.OwnerID == dst.OwnerID {
			description += " " + internalTransferSuffix
		}
		t := s.newTransaction(domain.KindTransfer, &from, &to, req.Amount, description, s.now())
		if err := tx.Append(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(out)
	return out, nil
}

// AddDemoMoney deposits amount into every account of ownerID as one unit
// of work. An owner without accounts is NotFound.
func (s *LedgerService) AddDemoMoney(ctx context.Context, ownerID string, amount decimal.Decimal) (_ []domain.Transaction, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.AddDemoMoney")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID), attribute.String("amount", amount.String()))
	defer s.observe("add_demo_money", time.Now(), span, &err)

	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	accounts, err := s.store.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &domain.ErrNotFound{Resource: "accounts for owner", ID: ownerID}
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}

	var out []domain.Transaction
	err = s.store.WithAccounts(ctx, ids, func(tx port.LedgerTx) error {
		now := s.now()
		for _, id := range domain.LockOrder(ids...) {
			acc, err := tx.Account(id)
			if err != nil {
				return err
			}
			if err := tx.SetBalance(id, acc.Balance.Add(amount)); err != nil {
				return err
			}
			accountID := id
			t := s.newTransaction(domain.KindDeposit, nil, &accountID, amount, DescriptionDemoMoney, now)
			if err := tx.Append(t); err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range out {
		s.committed(&out[i])
	}
	return out, nil
}

// ============================================================
// Helpers
// ============================================================

// requireOwner confirms ownerID exists. It runs before any account is
// locked; only positive answers are cached.
func (s *LedgerService) requireOwner(ctx context.Context, ownerID string) error {
	key := ownerCacheKeyPrefix + ownerID
	if s.ownerCache != nil {
		if ok, hit := s.ownerCache.Get(key); hit && ok {
			s.metrics.IncrCacheHit(observability.OwnerCache)
			return nil
		}
		s.metrics.IncrCacheMiss(observability.OwnerCache)
	}

	exists, err := s.owners.OwnerExists(ctx, ownerID)
	if err != nil {
		s.metrics.IncrExternalError(ownerDirectoryComponent)
		s.logger.Error("owner lookup failed", zap.String("owner_id", ownerID), zap.Error(err))
		return err
	}
	if !exists {
		return &domain.ErrNotFound{Resource: "owner", ID: ownerID}
	}

	if s.ownerCache != nil {
		s.ownerCache.Set(key, true)
	}
	return nil
}

func (s *LedgerService) newTransaction(kind domain.TransactionKind, from, to *string, amount decimal.Decimal, description string, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:            s.newID(),
		FromAccountID: copyID(from),
		ToAccountID:   copyID(to),
		Amount:        amount,
		Kind:          kind,
		Description:   description,
		OccurredAt:    at,
		Status:        domain.StatusCompleted,
	}
}

func (s *LedgerService) committed(t *domain.Transaction) {
	s.metrics.AddAmountMoved(t.Kind, t.Amount.InexactFloat64())
	s.logger.Info("transaction committed",
		zap.String("transaction_id", t.ID),
		zap.String("type", string(t.Kind)),
		zap.String("amount", t.Amount.StringFixed(domain.MoneyScale)),
	)
}

// observe records duration and outcome. Business rejections are logged at
// debug; internal failures at error.
func (s *LedgerService) observe(op string, start time.Time, span trace.Span, errp *error) {
	err := *errp
	s.metrics.RecordOperation(op, time.Since(start), err)
	if err == nil {
		return
	}

	kind := domain.ErrorKind(err)
	span.SetAttributes(attribute.String("error.kind", kind))
	if kind == "internal" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("ledger operation failed", zap.String("operation", op), zap.Error(err))
		return
	}
	s.logger.Debug("ledger operation rejected",
		zap.String("operation", op),
		zap.String("reason", kind),
		zap.Error(err),
	)
}

func orDefault(description, fallback string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return fallback
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
