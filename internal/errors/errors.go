package errors

import (
	stderrors "errors"
)

// Kind classifies an error for callers deciding whether and how to retry.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindRateLimited
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidRange          = New(KindValidation, "INVALID_RANGE", "checkin must be before checkout and not in the past")
	ErrCapacityExceeded      = New(KindValidation, "CAPACITY_EXCEEDED", "guest count exceeds accommodation capacity")
	ErrAmountMismatch        = New(KindValidation, "AMOUNT_MISMATCH", "payment amount does not match the reservation charge")
	ErrInvalidInput          = New(KindValidation, "INVALID_INPUT", "invalid input")
	ErrAccommodationInactive = New(KindConflict, "ACCOMMODATION_INACTIVE", "accommodation is not bookable")
	ErrOverlapConflict       = New(KindConflict, "OVERLAP_CONFLICT", "accommodation is already booked for these dates")
	ErrInvalidState          = New(KindConflict, "INVALID_STATE", "reservation can no longer be changed")
	ErrReservationNotPending = New(KindConflict, "RESERVATION_NOT_PENDING", "reservation is not awaiting payment")
	ErrNotFound              = New(KindNotFound, "NOT_FOUND", "reservation not found")
	ErrForbidden             = New(KindForbidden, "FORBIDDEN", "actor may not modify this reservation")
	ErrUserNotFound          = New(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrUserInactive          = New(KindConflict, "USER_INACTIVE", "user is not active")
	ErrRateLimited           = New(KindRateLimited, "RATE_LIMITED", "too many recovery codes requested")
	ErrCodeNotFound          = New(KindNotFound, "CODE_NOT_FOUND", "recovery code not found")
	ErrCodeExpired           = New(KindConflict, "CODE_EXPIRED", "recovery code has expired")
	ErrCodeAlreadyUsed       = New(KindConflict, "CODE_ALREADY_USED", "recovery code was already used")
	ErrBusy                  = New(KindTransient, "BUSY", "resource is busy, try again")
	ErrInternal              = New(KindInternal, "INTERNAL", "internal error")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsDomain reports whether err carries a domain *Error.
func IsDomain(err error) bool {
	var e *Error
	return stderrors.As(err, &e)
}
