package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts Handlers
// ============================================================

type createAccountBody struct {
	OwnerID        string `json:"owner_id"`
	OpeningBalance amount `json:"opening_balance"`
	AccountType    string `json:"account_type"`
}

type moneyBody struct {
	Amount      amount `json:"amount"`
	Description string `json:"description"`
}

func createAccountHandler(ledger *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var body createAccountBody
		if err := decodeBody(w, r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		opening, err := body.OpeningBalance.parse("opening_balance", true)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := authorizeOwner(ctx, body.OwnerID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		account, err := ledger.CreateAccount(ctx, domain.CreateAccountRequest{
			OwnerID:        body.OwnerID,
			OpeningBalance: opening,
			Type:           body.AccountType,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	}
}

// listAccountsHandler lists every account, or only the caller's when a token is present.
func listAccountsHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		var (
			accounts []domain.Account
			err      error
		)
		if caller := OwnerIDFromContext(ctx); caller != "" {
			accounts, err = reports.ListAccountsByOwner(ctx, caller)
		} else {
			accounts, err = reports.ListAllAccounts(ctx)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(accounts))
	}
}

func getAccountHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}")
		defer span.End()

		key := chi.URLParam(r, "accountId")
		account, err := reports.GetAccount(ctx, key)
		if err == nil {
			err = visibleToCaller(ctx, account, key)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func getAccountByNumberHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/number/{number}")
		defer span.End()

		key := chi.URLParam(r, "number")
		account, err := reports.GetAccountByNumber(ctx, key)
		if err == nil {
			err = visibleToCaller(ctx, account, key)
		}
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func deleteAccountHandler(ledger *service.LedgerService, reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/accounts/{accountId}")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		if err := checkAccountOwner(ctx, reports, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := ledger.DeleteAccount(ctx, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func depositHandler(ledger *service.LedgerService, reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return moneyMovementHandler("POST /v1/accounts/{accountId}/deposit", ledger.Deposit, reports, logger)
}

func withdrawHandler(ledger *service.LedgerService, reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return moneyMovementHandler("POST /v1/accounts/{accountId}/withdraw", ledger.Withdraw, reports, logger)
}

type singleAccountOp func(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*domain.Transaction, error)

// moneyMovementHandler serves deposit and withdraw, which share a body and
// differ only in the ledger call.
func moneyMovementHandler(name string, op singleAccountOp, reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name)
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		var body moneyBody
		if err := decodeBody(w, r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amt, err := body.Amount.parse("amount", false)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := checkAccountOwner(ctx, reports, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		tx, err := op(ctx, accountID, amt, body.Description)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	}
}

func accountTransactionsHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transactions")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		count, err := parseCount(r, 0)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		since, until, err := parseRange(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := checkAccountOwner(ctx, reports, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		txs, err := reports.ListTransactions(ctx, domain.TransactionQuery{
			By:        domain.ByAccount,
			AccountID: accountID,
			Since:     since,
			Until:     until,
			Count:     count,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(txs))
	}
}

func accountSummaryHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/summary")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		if err := checkAccountOwner(ctx, reports, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		summary, err := reports.AccountSummary(ctx, accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// checkAccountOwner verifies the account belongs to the authenticated
// caller. Without a caller there is nothing to check.
func checkAccountOwner(ctx context.Context, reports *service.ReportingService, accountID string) error {
	if OwnerIDFromContext(ctx) == "" {
		return nil
	}
	account, err := reports.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return visibleToCaller(ctx, account, accountID)
}

// visibleToCaller reports another owner's account exactly like a missing
// one, so callers cannot tell which ids exist. key is the id or number the
// caller asked for.
func visibleToCaller(ctx context.Context, account *domain.Account, key string) error {
	if caller := OwnerIDFromContext(ctx); caller != "" && caller != account.OwnerID {
		return &domain.ErrNotFound{Resource: "account", ID: key}
	}
	return nil
}
