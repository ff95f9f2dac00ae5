package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category groups failure codes by how a client should react.
type Category string

const (
	CategoryNotFound           Category = "NotFound"
	CategoryConflict           Category = "Conflict"
	CategoryUnauthorized       Category = "Unauthorized"
	CategoryNotSynchronized    Category = "NotSynchronized"
	CategoryGatewayUnavailable Category = "GatewayUnavailable"
	CategoryInvalidRequest     Category = "InvalidRequest"
)

// Retry hints.
const (
	RetryNow   = "now"
	RetryLater = "later"
	RetryNever = "never"
)

// Retry tells a client whether the same request can succeed later.
func (c Category) Retry() string {
	switch c {
	case CategoryGatewayUnavailable:
		return RetryNow
	case CategoryNotSynchronized:
		return RetryLater
	default:
		return RetryNever
	}
}

// Code is the machine-readable failure reason.
type Code string

const (
	CodeTicketNotFound            Code = "TicketNotFound"
	CodeServiceNotFound           Code = "ServiceNotFound"
	CodeOwnershipMismatch         Code = "OwnershipMismatch"
	CodeAlreadyActivatedOrExpired Code = "AlreadyActivatedOrExpired"
	CodeNotYetActivated           Code = "NotYetActivated"
	CodeTicketExpired             Code = "TicketExpired"
	CodeServiceNotSynchronized    Code = "ServiceNotSynchronized"
	CodeOffChainDataMissing       Code = "OffChainDataMissing"
	CodeStationNotAuthorized      Code = "StationNotAuthorized"
	CodeStopNotOnRoute            Code = "StopNotOnRoute"
	CodeLedgerWriteFailed         Code = "LedgerWriteFailed"
	CodeGatewayUnavailable        Code = "GatewayUnavailable"
	CodeInvalidRequest            Code = "InvalidRequest"
)

var codeCategories = map[Code]Category{
	CodeTicketNotFound:            CategoryNotFound,
	CodeServiceNotFound:           CategoryNotFound,
	CodeOwnershipMismatch:         CategoryUnauthorized,
	CodeAlreadyActivatedOrExpired: CategoryConflict,
	CodeNotYetActivated:           CategoryConflict,
	CodeTicketExpired:             CategoryConflict,
	CodeServiceNotSynchronized:    CategoryNotSynchronized,
	CodeOffChainDataMissing:       CategoryNotSynchronized,
	CodeStationNotAuthorized:      CategoryUnauthorized,
	CodeStopNotOnRoute:            CategoryInvalidRequest,
	CodeLedgerWriteFailed:         CategoryConflict,
	CodeGatewayUnavailable:        CategoryGatewayUnavailable,
	CodeInvalidRequest:            CategoryInvalidRequest,
}

// Error is the failure returned by every protocol operation.
type Error struct {
	Code      Code
	Category  Category
	TicketID  string
	ServiceID string
	StationID string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.TicketID != "" {
		fmt.Fprintf(&b, " ticket=%s", e.TicketID)
	}
	if e.ServiceID != "" {
		fmt.Fprintf(&b, " service=%s", e.ServiceID)
	}
	if e.StationID != "" {
		fmt.Fprintf(&b, " station=%s", e.StationID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retry is shorthand for e.Category.Retry().
func (e *Error) Retry() string { return e.Category.Retry() }

func newError(code Code, cause error) *Error {
	return &Error{Code: code, Category: codeCategories[code], Err: cause}
}

func (e *Error) withTicket(id string) *Error {
	e.TicketID = id
	return e
}

func (e *Error) withService(id string) *Error {
	e.ServiceID = id
	return e
}

func (e *Error) withStation(id string) *Error {
	e.StationID = id
	return e
}

// gatewayError classifies a failed gateway read. notFound is the code used
// when the store reports the record as absent; every other failure is a
// GatewayUnavailable.
func gatewayError(err error, notFound Code) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if notFound != "" && errors.Is(err, ErrNotFound) {
		return newError(notFound, err)
	}
	return newError(CodeGatewayUnavailable, err)
}

// writeError classifies a rejected ledger write. conflict is the code used
// when the ledger refused the write because of the ticket's state.
func writeError(err error, conflict Code) *Error {
	switch {
	case errors.Is(err, ErrStateConflict) && conflict != "":
		return newError(conflict, err)
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(CodeGatewayUnavailable, err)
	default:
		return newError(CodeLedgerWriteFailed, err)
	}
}

// AsError extracts a protocol failure from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

func toError(err error) *Error {
	if pe, ok := AsError(err); ok {
		return pe
	}
	return newError(CodeGatewayUnavailable, err)
}
