package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/observability"
	"github.com/boddenberg/bank-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/bank-ledger-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// tokens and bulkhead are optional: a nil tokens service leaves /v1 open and
// a nil bulkhead leaves mutating routes unbounded.
func NewRouter(
	ledger *service.LedgerService,
	reports *service.ReportingService,
	tokens *service.TokenService,
	bulkhead *resilience.Bulkhead,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(reports, logger))
	r.Get("/readyz", readyzHandler(reports, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	var guard []func(http.Handler) http.Handler
	if bulkhead != nil {
		guard = append(guard, BulkheadMiddleware(bulkhead, logger))
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if tokens != nil {
			r.Use(JWTAuthMiddleware(tokens, logger))
		}

		// =============================================
		// Accounts
		// =============================================
		r.Get("/accounts", listAccountsHandler(reports, logger))
		r.With(guard...).Post("/accounts", createAccountHandler(ledger, logger))
		r.Get("/accounts/number/{number}", getAccountByNumberHandler(reports, logger))
		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/", getAccountHandler(reports, logger))
			r.With(guard...).Delete("/", deleteAccountHandler(ledger, reports, logger))
			r.With(guard...).Post("/deposit", depositHandler(ledger, reports, logger))
			r.With(guard...).Post("/withdraw", withdrawHandler(ledger, reports, logger))
			r.Get("/transactions", accountTransactionsHandler(reports, logger))
			r.Get("/summary", accountSummaryHandler(reports, logger))
		})

		// =============================================
		// Transfers
		// =============================================
		r.With(guard...).Post("/transfers", transferHandler(ledger, reports, logger))

		// =============================================
		// Owners
		// =============================================
		r.Route("/owners/{ownerId}", func(r chi.Router) {
			r.Use(RequireOwnerParam(logger))
			r.Get("/accounts", ownerAccountsHandler(reports, logger))
			r.Get("/total-balance", totalBalanceHandler(ledger, logger))
			r.Get("/transactions", ownerTransactionsHandler(reports, logger))
			r.Get("/summary", ownerSummaryHandler(reports, logger))
			r.With(guard...).Post("/demo-money", demoMoneyHandler(ledger, logger))
		})

		// =============================================
		// Transactions
		// =============================================
		r.Get("/transactions", listTransactionsHandler(reports, logger))
		r.Get("/transactions/{transactionId}", getTransactionHandler(reports, logger))

		// =============================================
		// Metrics
		// =============================================
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Metrics & Health
// ============================================================

func healthzHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "ledger-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		start := time.Now()
		err := reports.Ping(r.Context())
		storage := domain.ServiceHealth{
			Name: "storage", Status: "healthy",
			LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
		}
		if err != nil {
			logger.Warn("health check: storage unavailable", zap.Error(err))
			storage.Status = "unhealthy"
		}
		services = append(services, storage)

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(reports *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reports.Ping(r.Context()); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
