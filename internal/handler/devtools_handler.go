package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/service"
)

// ============================================================
// Dev Tools: /v1/dev
// ============================================================

func devSeedHandler(svc *service.DevToolsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/dev/seed")
		defer span.End()

		var req domain.DevSeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := svc.Seed(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func devDeleteCustomerHandler(svc *service.DevToolsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/dev/customers/{customerId}")
		defer span.End()

		resp, err := svc.DeleteCustomer(ctx, chi.URLParam(r, "customerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
