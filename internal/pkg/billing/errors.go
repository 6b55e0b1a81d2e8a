package billing

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindConflict       ErrorKind = "conflict"
	KindRemote         ErrorKind = "remote"
	KindAuthentication ErrorKind = "authentication"
	KindReconciliation ErrorKind = "reconciliation"
	KindConfiguration  ErrorKind = "configuration"
	KindNotFound       ErrorKind = "not_found"
	KindStorage        ErrorKind = "storage"
)

var (
	ErrDuplicateCustomer = errors.New("a customer already exists for this user on this gateway")
	// ErrGatewayCustomerTaken is returned when the gateway hands back a
	// customer id that is already mapped to another user, e.g. PayPal ids
	// derived from a shared email address.
	ErrGatewayCustomerTaken = errors.New("gateway customer id is already linked to another user")
	ErrGatewayMismatch      = errors.New("customer and plan belong to different gateways")
	ErrNothingToUpdate      = errors.New("either cancel or a new plan is required")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrNotFound             = errors.New("record not found")
)

// Error is returned by every service and the webhook ingestor. Message is
// safe to show to a user; Op and Err are for logs.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a billing error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind ErrorKind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationError(op, format string, args ...any) *Error {
	return newError(KindValidation, op, nil, format, args...)
}

func conflictError(op string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: err.Error(), Err: err}
}

// resultError turns a failed gateway result into a validation or remote error.
func resultError(op, gatewayName string, res gateway.Result) *Error {
	if res.Failure == gateway.FailureValidation {
		return &Error{Kind: KindValidation, Op: op, Message: res.Error}
	}
	return &Error{
		Kind:    KindRemote,
		Op:      op,
		Message: fmt.Sprintf("%s: %s", gatewayName, res.Error),
		Err:     errors.New(res.Error),
	}
}

func configurationError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: err.Error(), Err: err}
}

// storageError classifies persistence failures; missing rows become
// not_found errors naming what was looked up.
func storageError(op, what string, err error) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Message: what + " not found", Err: ErrNotFound}
	}
	return &Error{Kind: KindStorage, Op: op, Message: "could not persist " + what, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound)
}
