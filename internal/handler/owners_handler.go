package handler

import (
	"net/http"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Owners Handlers
// ============================================================

type totalBalanceResponse struct {
	OwnerID      string `json:"owner_id"`
	TotalBalance string `json:"total_balance"`
}

func ownerAccountsHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/owners/{ownerId}/accounts")
		defer span.End()

		accounts, err := reports.ListAccountsByOwner(ctx, chi.URLParam(r, "ownerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(accounts))
	}
}

func totalBalanceHandler(ledger *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/owners/{ownerId}/total-balance")
		defer span.End()

		ownerID := chi.URLParam(r, "ownerId")
		total, err := ledger.TotalBalance(ctx, ownerID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, totalBalanceResponse{
			OwnerID:      ownerID,
			TotalBalance: total.StringFixed(domain.MoneyScale),
		})
	}
}

func ownerTransactionsHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/owners/{ownerId}/transactions")
		defer span.End()

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
		txs, err := reports.ListTransactions(ctx, domain.TransactionQuery{
			By:      domain.ByOwner,
			OwnerID: chi.URLParam(r, "ownerId"),
			Since:   since,
			Until:   until,
			Count:   count,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(txs))
	}
}

func ownerSummaryHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/owners/{ownerId}/summary")
		defer span.End()

		summary, err := reports.OwnerSummary(ctx, chi.URLParam(r, "ownerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func demoMoneyHandler(ledger *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/owners/{ownerId}/demo-money")
		defer span.End()

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

		txs, err := ledger.AddDemoMoney(ctx, chi.URLParam(r, "ownerId"), amt)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, nonNil(txs))
	}
}
