package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const (
	defaultListCount = 20
	maxListCount     = 500
	maxBodyBytes     = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// decodeBody reads a JSON body into dst. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// amount accepts a JSON string ("12.50") or number (12.5).
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	*a = amount(strings.Trim(s, `"`))
	return nil
}

// parse returns the decimal value. A missing amount is a validation error
// unless optional is set, in which case it is zero.
func (a amount) parse(field string, optional bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		if optional {
			return decimal.Zero, nil
		}
		return decimal.Zero, &domain.ErrValidation{Field: field, Message: "is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &domain.ErrInvalidAmount{Amount: s, Reason: "not a decimal number"}
	}
	return d, nil
}

// parseCount reads ?count=, falling back to def and capping at maxListCount.
func parseCount(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("count")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ErrValidation{Field: "count", Message: "must be an integer"}
	}
	if n > maxListCount {
		n = maxListCount
	}
	return n, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(field, v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, &domain.ErrValidation{Field: field, Message: "must be RFC 3339 or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// parseRange reads the optional from/to query parameters.
func parseRange(r *http.Request) (since, until time.Time, err error) {
	v := r.URL.Query()
	if since, err = parseTime("from", v.Get("from"), false); err != nil {
		return
	}
	until, err = parseTime("to", v.Get("to"), true)
	return
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var invalidAmount *domain.ErrInvalidAmount
	var sameAccount *domain.ErrSameAccount
	var validation *domain.ErrValidation
	var insufficientFunds *domain.ErrInsufficientFunds
	var conflict *domain.ErrConflict
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	code := domain.ErrorKind(err)
	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.As(err, &invalidAmount):
		logger.Debug("invalid amount", zap.String("amount", invalidAmount.Amount))
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.As(err, &sameAccount):
		logger.Debug("same account transfer", zap.String("account_id", sameAccount.AccountID))
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.As(err, &insufficientFunds):
		logger.Warn("insufficient funds",
			zap.String("account_id", insufficientFunds.AccountID),
			zap.String("available", insufficientFunds.Available.StringFixed(domain.MoneyScale)),
			zap.String("required", insufficientFunds.Required.StringFixed(domain.MoneyScale)),
		)
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, code, err.Error())
	case errors.As(err, &external):
		logger.Error("external service failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, code, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
