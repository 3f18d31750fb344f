package service

import (
	"context"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var reportTracer = otel.Tracer("service/reporting")

// ReportingService answers read-only queries. Every call reads from one
// store snapshot, so a transaction and its balance effect are always
// visible together.
type ReportingService struct {
	store  port.LedgerStore
	logger *zap.Logger
}

// NewReportingService creates a new reporting service.
func NewReportingService(store port.LedgerStore, logger *zap.Logger) *ReportingService {
	return &ReportingService{store: store, logger: logger}
}

// Ping opens and closes an empty snapshot, which proves the store answers.
func (s *ReportingService) Ping(ctx context.Context) error {
	ctx, span := reportTracer.Start(ctx, "ReportingService.Ping")
	defer span.End()
	return s.store.ReadSnapshot(ctx, func(port.LedgerView) error { return nil })
}

// ============================================================
// Accounts
// ============================================================

func (s *ReportingService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.GetAccount")
	defer span.End()

	var out *domain.Account
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		a, err := v.GetAccount(ctx, accountID)
		out = a
		return err
	})
	return out, err
}

func (s *ReportingService) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.GetAccountByNumber")
	defer span.End()

	var out *domain.Account
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		a, err := v.GetAccountByNumber(ctx, number)
		out = a
		return err
	})
	return out, err
}

// ListAccountsByOwner returns the owner's accounts; none is an empty list.
func (s *ReportingService) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.ListAccountsByOwner")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	var out []domain.Account
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		accounts, err := v.ListAccountsByOwner(ctx, ownerID)
		out = accounts
		return err
	})
	return out, err
}

func (s *ReportingService) ListAllAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.ListAllAccounts")
	defer span.End()

	var out []domain.Account
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		accounts, err := v.ListAccounts(ctx)
		out = accounts
		return err
	})
	return out, err
}

// ============================================================
// Transactions
// ============================================================

func (s *ReportingService) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.GetTransaction")
	defer span.End()

	var out *domain.Transaction
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		t, err := v.GetTransaction(ctx, transactionID)
		out = t
		return err
	})
	return out, err
}

// ListTransactions answers a listing keyed on q.By. Results are newest first.
func (s *ReportingService) ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.Transaction, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("query.by", string(q.By)))

	filter, err := baseFilter(q)
	if err != nil {
		return nil, err
	}

	var out []domain.Transaction
	err = s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		switch q.By {
		case domain.ByAccount:
			if q.AccountID == "" {
				return &domain.ErrValidation{Field: "account_id", Message: "account id is required"}
			}
			if _, err := v.GetAccount(ctx, q.AccountID); err != nil {
				return err
			}
			filter.AccountIDs = []string{q.AccountID}

		case domain.ByOwner:
			if q.OwnerID == "" {
				return &domain.ErrValidation{Field: "owner_id", Message: "owner id is required"}
			}
			accounts, err := v.ListAccountsByOwner(ctx, q.OwnerID)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				out = []domain.Transaction{}
				return nil
			}
			filter.AccountIDs = accountIDs(accounts)

		case domain.ByType:
			kind, ok := domain.ParseTransactionKind(q.Kind)
			if !ok {
				return &domain.ErrValidation{Field: "type", Message: "must be one of DEPOSIT, WITHDRAWAL, TRANSFER"}
			}
			filter.Kind = kind

		case domain.ByDateRange:
			if q.Since.IsZero() || q.Until.IsZero() {
				return &domain.ErrValidation{Field: "date_range", Message: "start and end dates are required"}
			}

		case domain.ByRecent:
			if q.Count <= 0 {
				return &domain.ErrValidation{Field: "count", Message: "must be greater than zero"}
			}

		case domain.ByID:
			if q.TransactionID == "" {
				return &domain.ErrValidation{Field: "transaction_id", Message: "transaction id is required"}
			}
			t, err := v.GetTransaction(ctx, q.TransactionID)
			if err != nil {
				return err
			}
			out = []domain.Transaction{*t}
			return nil

		default:
			return &domain.ErrValidation{Field: "by", Message: "unknown query " + string(q.By)}
		}

		txs, err := v.FindTransactions(ctx, filter)
		out = txs
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// baseFilter validates the fields shared by every query kind.
func baseFilter(q domain.TransactionQuery) (domain.TransactionFilter, error) {
	if q.Count < 0 {
		return domain.TransactionFilter{}, &domain.ErrValidation{Field: "count", Message: "cannot be negative"}
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Since.After(q.Until) {
		return domain.TransactionFilter{}, &domain.ErrValidation{Field: "date_range", Message: "start date must not be after end date"}
	}
	return domain.TransactionFilter{Since: q.Since, Until: q.Until, Limit: q.Count}, nil
}

// ============================================================
// Summaries
// ============================================================

// AccountSummary aggregates the history of one account.
func (s *ReportingService) AccountSummary(ctx context.Context, accountID string) (*domain.AccountSummary, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.AccountSummary")
	defer span.End()

	var out *domain.AccountSummary
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		a, err := v.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		txs, err := v.FindTransactions(ctx, domain.TransactionFilter{AccountIDs: []string{accountID}})
		if err != nil {
			return err
		}
		out = summarize(a, txs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OwnerSummary aggregates every account of ownerID. The store is read once;
// per-account summaries are then computed concurrently.
func (s *ReportingService) OwnerSummary(ctx context.Context, ownerID string) (*domain.OwnerSummary, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.OwnerSummary")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	var (
		accounts []domain.Account
		txs      []domain.Transaction
	)
	err := s.store.ReadSnapshot(ctx, func(v port.LedgerView) error {
		var err error
		accounts, err = v.ListAccountsByOwner(ctx, ownerID)
		if err != nil || len(accounts) == 0 {
			return err
		}
		txs, err = v.FindTransactions(ctx, domain.TransactionFilter{AccountIDs: accountIDs(accounts)})
		return err
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.AccountSummary, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	for i := range accounts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			summaries[i] = *summarize(&accounts[i], txs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}

	s.logger.Debug("owner summary built",
		zap.String("owner_id", ownerID),
		zap.Int("accounts", len(accounts)),
		zap.Int("transactions", len(txs)),
	)
	return &domain.OwnerSummary{OwnerID: ownerID, TotalBalance: total, Accounts: summaries}, nil
}

// summarize folds the transactions touching a into its summary.
func summarize(a *domain.Account, txs []domain.Transaction) *domain.AccountSummary {
	sum := &domain.AccountSummary{
		AccountID:        a.ID,
		AccountNumber:    a.Number,
		Balance:          a.Balance,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		NetTransfers:     decimal.Zero,
	}
	for i := range txs {
		t := &txs[i]
		if !t.Touches(a.ID) {
			continue
		}
		sum.TransactionCount++
		switch t.Kind {
		case domain.KindDeposit:
			sum.TotalDeposits = sum.TotalDeposits.Add(t.Amount)
		case domain.KindWithdrawal:
			sum.TotalWithdrawals = sum.TotalWithdrawals.Add(t.Amount)
		case domain.KindTransfer:
			if t.ToAccountID != nil && *t.ToAccountID == a.ID {
				sum.NetTransfers = sum.NetTransfers.Add(t.Amount)
			}
			if t.FromAccountID != nil && *t.FromAccountID == a.ID {
				sum.NetTransfers = sum.NetTransfers.Sub(t.Amount)
			}
		}
	}
	sum.NetAmount = sum.TotalDeposits.Sub(sum.TotalWithdrawals).Add(sum.NetTransfers)
	return sum
}

func accountIDs(accounts []domain.Account) []string {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids
}
