package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation               ErrorKind = "VALIDATION"
	KindNotFound                 ErrorKind = "NOT_FOUND"
	KindInsufficientAvailability ErrorKind = "INSUFFICIENT_AVAILABILITY"
	KindUpstreamUnavailable      ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindInvalidTransition        ErrorKind = "INVALID_TRANSITION"
	KindMessagingDelivery        ErrorKind = "MESSAGING_DELIVERY_FAILURE"
	KindPoisonMessage            ErrorKind = "POISON_MESSAGE"
)

// Error is the tagged error every operation returns. Details itemizes the
// failing items of multi-item operations.
type Error struct {
	Kind    ErrorKind
	Message string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewValidationError(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func NewNotFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewInsufficientAvailabilityError(items []ItemAvailability) *Error {
	return &Error{
		Kind:    KindInsufficientAvailability,
		Message: "Some items are not available",
		Details: items,
	}
}

func NewUpstreamUnavailableError(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, Cause: cause}
}

func NewInvalidTransitionError(from, to ShipmentStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move shipment from %s to %s", from, to),
	}
}

func NewPoisonMessageError(msg string, cause error) *Error {
	return &Error{Kind: KindPoisonMessage, Message: msg, Cause: cause}
}

// KindOf returns the kind of the first domain error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Sentinel errors returned by the ports.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrAlreadyExists        = errors.New("already exists")
	ErrDuplicateSku         = errors.New("SKU already exists")
	ErrConflict             = errors.New("concurrent modification")
)
