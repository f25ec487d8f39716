package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/service"
)

// ============================================================
// Statements: GET /v1/accounts/{accountId}/...
// ============================================================

func balanceHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/balance")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		view, err := svc.Balance(ctx, accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func entriesHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/entries")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		filter, err := parseEntryFilter(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		page, pageSize := parsePagination(r)

		resp, err := svc.Entries(ctx, accountID, filter, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func latestEntriesHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/entries/latest")
		defer span.End()

		n := 10
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "n must be a positive integer")
				return
			}
			n = parsed
		}

		entries, err := svc.LatestEntries(ctx, chi.URLParam(r, "accountId"), n)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func countEntriesHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/entries/count")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		since, err := queryTime(r, "since")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if since.IsZero() {
			writeError(w, http.StatusBadRequest, "since is required")
			return
		}

		n, err := svc.CountSince(ctx, accountID, since)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account_id": accountID,
			"since":      since,
			"count":      n,
		})
	}
}

func todayUsageHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/withdrawals/today")
		defer span.End()

		usage, err := svc.TodayUsage(ctx, chi.URLParam(r, "accountId"), r.URL.Query().Get("card_id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}

func reconciliationHandler(rec *service.Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/reconciliation")
		defer span.End()

		res, err := rec.ReconcileAccount(ctx, chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func entryByReferenceHandler(svc *service.StatementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/entries/{reference}")
		defer span.End()

		reference := chi.URLParam(r, "reference")
		span.SetAttributes(attribute.String("entry.reference", reference))

		entry, err := svc.EntryByReference(ctx, reference)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
