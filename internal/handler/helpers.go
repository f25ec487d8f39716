package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

// parseEntryFilter reads ?type=, ?since=, ?until=, ?counterparty_iban=,
// ?with_commission= and ?external_atm=.
func parseEntryFilter(r *http.Request) (domain.EntryFilter, error) {
	q := r.URL.Query()
	var f domain.EntryFilter
	if v := q.Get("type"); v != "" {
		t, err := domain.ParseEntryType(v)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		return f, err
	}
	f.CounterpartyIBAN = q.Get("counterparty_iban")
	if f.WithCommission, err = queryBool(r, "with_commission"); err != nil {
		return f, err
	}
	if f.ExternalATM, err = queryBool(r, "external_atm"); err != nil {
		return f, err
	}
	return f, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &domain.ErrValidation{Field: key, Message: "must be RFC 3339"}
	}
	return t, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.ErrValidation{Field: key, Message: "must be a boolean"}
	}
	return b, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var persistence *domain.ErrPersistence
	var validation *domain.ErrValidation
	var invalidAmount *domain.ErrInvalidAmount
	var insufficientFunds *domain.ErrInsufficientFunds
	var dailyLimit *domain.ErrDailyLimitExceeded
	var creditLimit *domain.ErrCreditLimitExceeded
	var cardInactive *domain.ErrCardInactive
	var cardConfig *domain.ErrInvalidCardConfiguration
	var mismatch *domain.ErrCardAccountMismatch
	var accountInactive *domain.ErrAccountInactive
	var versionConflict *domain.ErrVersionConflict
	var collision *domain.ErrReferenceCollision
	var unauthorized *domain.ErrUnauthorized

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation), errors.As(err, &invalidAmount):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficientFunds):
		logger.Warn("insufficient funds",
			zap.String("account_id", insufficientFunds.AccountID),
			zap.Stringer("available", insufficientFunds.Available),
			zap.Stringer("required", insufficientFunds.Required),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &dailyLimit), errors.As(err, &creditLimit):
		logger.Warn("limit exceeded", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &cardInactive), errors.As(err, &accountInactive),
		errors.As(err, &cardConfig), errors.As(err, &mismatch):
		logger.Warn("operation refused", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &versionConflict), errors.As(err, &collision):
		logger.Warn("conflict after retries", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &persistence):
		logger.Error("persistence failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ledger store unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
