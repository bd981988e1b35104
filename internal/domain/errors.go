package domain

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindInvalidTransition  Kind = "invalid_transition"
	KindUnauthorized       Kind = "unauthorized"
	KindInternal           Kind = "internal"
)

// Error is the error type surfaced by services. Code is stable and safe to
// show to API clients; Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Ref names the entity the error is about, e.g. the conflicting booking.
	Ref string
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Ref)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so copies made by With/WithRef/Wrap still compare equal
// to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy with a formatted message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// WithRef returns a copy that points at the entity involved.
func (e *Error) WithRef(ref string) *Error {
	cp := *e
	cp.Ref = ref
	return &cp
}

// Wrap returns a copy carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

var (
	ErrValidation = &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: "invalid input"}

	ErrBookingNotFound     = &Error{Kind: KindNotFound, Code: "BOOKING_NOT_FOUND", Message: "booking not found"}
	ErrOrderNotFound       = &Error{Kind: KindNotFound, Code: "ORDER_NOT_FOUND", Message: "order not found"}
	ErrEnrollmentNotFound  = &Error{Kind: KindNotFound, Code: "ENROLLMENT_NOT_FOUND", Message: "enrollment not found"}
	ErrCertificateNotFound = &Error{Kind: KindNotFound, Code: "CERTIFICATE_NOT_FOUND", Message: "certificate not found"}
	ErrUnknownReference    = &Error{Kind: KindNotFound, Code: "UNKNOWN_REFERENCE", Message: "no payment intent for external reference"}

	ErrSlotConflict       = &Error{Kind: KindConflict, Code: "SLOT_CONFLICT", Message: "provider already has a booking in this time slot"}
	ErrAlreadyTerminal    = &Error{Kind: KindConflict, Code: "ALREADY_TERMINAL", Message: "payment intent already reached a terminal state"}
	ErrAlreadyIssued      = &Error{Kind: KindConflict, Code: "ALREADY_ISSUED", Message: "certificate already issued for enrollment"}
	ErrActiveIntentExists = &Error{Kind: KindConflict, Code: "ACTIVE_INTENT_EXISTS", Message: "booking already has an open payment intent"}
	ErrTargetNotPending   = &Error{Kind: KindConflict, Code: "TARGET_NOT_PENDING", Message: "payment target is not awaiting payment"}
	ErrRunInProgress      = &Error{Kind: KindConflict, Code: "RUN_IN_PROGRESS", Message: "another reminder run holds the lock"}

	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Code: "INVALID_TRANSITION", Message: "status transition not allowed"}

	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable, Code: "GATEWAY_UNAVAILABLE", Message: "payment gateway unavailable"}

	ErrUnauthorized = &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: "missing or invalid credentials"}

	ErrInternal = &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal error"}
)

// KindOf reports the Kind of err, or KindInternal for errors that did not
// originate as a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
