package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger/internal/port"
	"github.com/boddenberg/retail-ledger/internal/service"
)

var tracer = otel.Tracer("handler")

const readinessTimeout = 2 * time.Second

// Deps are the services the router exposes. DevTools and Tokens are optional:
// dev routes are mounted only with DevTools, and caller auth is enforced
// only with Tokens.
type Deps struct {
	Ledger     *service.LedgerService
	Statements *service.StatementService
	Reconciler *service.Reconciler
	DevTools   *service.DevToolsService
	Tokens     *service.CallerTokens
	Metrics    *observability.Metrics
	Checkers   []port.HealthChecker
	// MaxConcurrency caps in-flight /v1 requests. Zero disables the cap.
	MaxConcurrency int
	// QueueWait is how long a request may wait for a bulkhead slot.
	QueueWait time.Duration
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(d.Checkers))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if d.MaxConcurrency > 0 {
			r.Use(BulkheadMiddleware(resilience.NewBulkhead(d.MaxConcurrency), d.QueueWait, logger))
		}

		r.Group(func(r chi.Router) {
			if d.Tokens != nil {
				r.Use(CallerAuthMiddleware(d.Tokens, logger))
			}

			// Operations
			r.Post("/accounts/{accountId}/withdrawals", withdrawHandler(d.Ledger, logger))
			r.Post("/accounts/{accountId}/deposits", depositHandler(d.Ledger, logger))
			r.Post("/accounts/{accountId}/transfers/out", transferOutHandler(d.Ledger, logger))
			r.Post("/accounts/{accountId}/transfers/in", transferInHandler(d.Ledger, logger))

			// Statements
			r.Get("/accounts/{accountId}/balance", balanceHandler(d.Statements, logger))
			r.Get("/accounts/{accountId}/entries", entriesHandler(d.Statements, logger))
			r.Get("/accounts/{accountId}/entries/latest", latestEntriesHandler(d.Statements, logger))
			r.Get("/accounts/{accountId}/entries/count", countEntriesHandler(d.Statements, logger))
			r.Get("/accounts/{accountId}/withdrawals/today", todayUsageHandler(d.Statements, logger))
			r.Get("/accounts/{accountId}/reconciliation", reconciliationHandler(d.Reconciler, logger))
			r.Get("/entries/{reference}", entryByReferenceHandler(d.Statements, logger))

			r.Get("/metrics/ledger", ledgerMetricsHandler(d.Metrics))
		})

		// Dev tools
		if d.DevTools != nil {
			r.Route("/dev", func(r chi.Router) {
				r.Post("/seed", devSeedHandler(d.DevTools, logger))
				r.Delete("/customers/{customerId}", devDeleteCustomerHandler(d.DevTools, logger))
			})
		}
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler pings every backend. Any failure makes the service unhealthy.
func readyzHandler(checkers []port.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make([]domain.ServiceHealth, 0, len(checkers))
		overall := "healthy"

		for _, c := range checkers {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			start := time.Now()
			err := c.Ping(ctx)
			cancel()

			h := domain.ServiceHealth{
				Name:      c.Name(),
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				h.Status = "unhealthy"
				h.Error = err.Error()
				overall = "unhealthy"
			}
			services = append(services, h)
		}

		status := http.StatusOK
		if overall != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, domain.HealthStatus{Status: overall, Services: services})
	}
}
