package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the ledger.

// ErrNotFound indicates a referenced account, owner or transaction does not exist.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrInvalidAmount indicates an amount that is not a valid positive monetary quantity.
type ErrInvalidAmount struct {
	Amount string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Amount, e.Reason)
}

// ErrSameAccount indicates a transfer whose source and destination coincide.
type ErrSameAccount struct {
	AccountID string
}

func (e *ErrSameAccount) Error() string {
	return fmt.Sprintf("cannot transfer to the same account: %s", e.AccountID)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	AccountID string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: available=%s required=%s",
		e.AccountID, e.Available.StringFixed(MoneyScale), e.Required.StringFixed(MoneyScale))
}

// ErrConflict indicates a uniqueness violation, e.g. a duplicate account number.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrInternal indicates a storage or log failure unrelated to business rules.
// Any partial mutation has been rolled back when it is returned.
type ErrInternal struct {
	Op  string
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.Op, e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a malformed request that is not an amount problem.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or invalid bearer token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the caller may not act on the resource.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrorKind returns a short label for err, used in metrics and logs.
func ErrorKind(err error) string {
	var (
		notFound     *ErrNotFound
		invalid      *ErrInvalidAmount
		same         *ErrSameAccount
		insufficient *ErrInsufficientFunds
		conflict     *ErrConflict
		validation   *ErrValidation
		external     *ErrExternalService
		circuitOpen  *ErrCircuitOpen
		internal     *ErrInternal
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid_amount"
	case errors.As(err, &same):
		return "same_account"
	case errors.As(err, &insufficient):
		return "insufficient_funds"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &circuitOpen):
		return "circuit_open"
	case errors.As(err, &external):
		return "external"
	case errors.As(err, &internal):
		return "internal"
	default:
		return "internal"
	}
}
