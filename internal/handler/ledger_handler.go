package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/service"
)

// ============================================================
// Ledger operations: POST /v1/accounts/{accountId}/...
// ============================================================

func withdrawHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/withdrawals")
		defer span.End()

		var req service.WithdrawalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.AccountID = chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", req.AccountID), attribute.String("card.id", req.CardID))

		entry, err := svc.Withdraw(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func depositHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/deposits")
		defer span.End()

		var req service.DepositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.AccountID = chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", req.AccountID))

		entry, err := svc.Deposit(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func transferOutHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/transfers/out")
		defer span.End()

		var req service.TransferOutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.AccountID = chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", req.AccountID))

		entry, err := svc.TransferOut(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func transferInHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/transfers/in")
		defer span.End()

		var req service.TransferInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.AccountID = chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", req.AccountID))

		entry, err := svc.TransferIn(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}
