package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a Postgres unique_violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrOfferNotFound      = errors.New("offer not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrCartEmpty          = errors.New("cart is empty")

	ErrValidation          = errors.New("validation failed")
	ErrInsufficientCoupons = errors.New("insufficient coupons")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrPaymentFailed       = errors.New("payment failed")

	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAlreadyActivated   = errors.New("coupon already activated")
	ErrUsageLimitExceeded = errors.New("coupon usage limit exceeded")
	ErrNotActivatable     = errors.New("coupon not activatable")
	ErrNotCancellable     = errors.New("not cancellable")
	ErrNotRefundable      = errors.New("not refundable")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrOfferUnavailable   = errors.New("offer unavailable")

	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrLockTimeout          = errors.New("lock timeout")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError is returned when a state machine refuses a transition.
// It carries the entity's current state so callers can reconcile.
type TransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot move %s -> %s: %v (current state: %s)",
		e.Entity, e.ID, e.From, e.To, e.Err, e.From)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Is makes every TransitionError match ErrInvalidTransition in addition to
// its specific cause.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindWalletFrozen        Kind = "wallet_frozen"
	KindInsufficientCoupons Kind = "insufficient_coupons"
	KindInvalidTransition   Kind = "invalid_state_transition"
	KindExternalDependency  Kind = "external_dependency_failure"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindInternal            Kind = "internal_error"
)

var notFound = []error{
	ErrUserNotFound, ErrMerchantNotFound, ErrOfferNotFound, ErrCouponNotFound,
	ErrOrderNotFound, ErrWalletNotFound, ErrWithdrawalNotFound,
}

// KindOf maps err onto the error taxonomy exposed to callers.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrCartEmpty):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrWalletFrozen):
		return KindWalletFrozen
	case errors.Is(err, ErrInsufficientCoupons), errors.Is(err, ErrOfferUnavailable):
		return KindInsufficientCoupons
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrPaymentFailed):
		return KindExternalDependency
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrOptimisticLockFailed),
		errors.Is(err, ErrLockTimeout),
		IsRetryable(err):
		return KindConcurrencyConflict
	}
	for _, nf := range notFound {
		if errors.Is(err, nf) {
			return KindNotFound
		}
	}
	return KindInternal
}
