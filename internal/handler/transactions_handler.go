package handler

import (
	"net/http"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transfers & Transactions Handlers
// ============================================================

type transferBody struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        amount `json:"amount"`
	Description   string `json:"description"`
}

func transferHandler(ledger *service.LedgerService, reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers")
		defer span.End()

		var body transferBody
		if err := decodeBody(w, r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amt, err := body.Amount.parse("amount", false)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("transfer.from", body.FromAccountID),
			attribute.String("transfer.to", body.ToAccountID),
		)
		if body.FromAccountID != body.ToAccountID {
			if err := checkAccountOwner(ctx, reports, body.FromAccountID); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		tx, err := ledger.Transfer(ctx, domain.TransferRequest{
			FromAccountID: body.FromAccountID,
			ToAccountID:   body.ToAccountID,
			Amount:        amt,
			Description:   body.Description,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	}
}

// listTransactionsHandler serves GET /v1/transactions. The by parameter picks
// the listing; it defaults to the most recent transactions.
//
//	?by=account&account_id=…    ?by=owner&owner_id=…    ?by=type&type=DEPOSIT
//	?by=date_range&from=…&to=…  ?by=recent&count=20     ?by=id&id=…
func listTransactionsHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		q, err := parseTransactionQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("query.by", string(q.By)))

		txs, err := reports.ListTransactions(ctx, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(txs))
	}
}

func parseTransactionQuery(r *http.Request) (domain.TransactionQuery, error) {
	v := r.URL.Query()
	q := domain.TransactionQuery{
		By:            domain.QueryBy(v.Get("by")),
		AccountID:     v.Get("account_id"),
		OwnerID:       v.Get("owner_id"),
		TransactionID: v.Get("id"),
		Kind:          v.Get("type"),
	}
	if q.By == "" {
		q.By = domain.ByRecent
	}

	def := 0
	if q.By == domain.ByRecent {
		def = defaultListCount
	}
	count, err := parseCount(r, def)
	if err != nil {
		return q, err
	}
	q.Count = count

	q.Since, q.Until, err = parseRange(r)
	return q, err
}

func getTransactionHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions/{transactionId}")
		defer span.End()

		tx, err := reports.GetTransaction(ctx, chi.URLParam(r, "transactionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}
