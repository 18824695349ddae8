// Package errs provides types and support related to web v1 functionality.
package errs

import (
	"errors"
	"net/http"

	"github.com/omahs/ganache/foundation/blockchain/accounts"
	"github.com/omahs/ganache/foundation/blockchain/filters"
	"github.com/omahs/ganache/foundation/blockchain/mempool"
	"github.com/omahs/ganache/foundation/blockchain/simulator"
	"github.com/omahs/ganache/foundation/blockchain/state"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	Data   string            `json:"data,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap gives errors.As access to the wrapped error.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}

// =============================================================================

// Classify turns an error returned by the blockchain into a trusted error
// with the status code the client should see. Errors it doesn't know are
// returned as is and end up as internal errors.
func Classify(err error) error {
	if err == nil || IsTrusted(err) {
		return err
	}

	var re *mempool.RejectError
	var ee *simulator.ExecutionError
	var fe *state.FailedTransactionsError

	switch {
	case state.IsNotFound(err), errors.Is(err, filters.ErrFilterNotFound):
		return NewTrusted(err, http.StatusNotFound)

	case errors.Is(err, state.ErrValidation),
		errors.Is(err, accounts.ErrLocked),
		errors.Is(err, simulator.ErrGasCapExceeded),
		state.IsSnapshotError(err),
		errors.As(err, &re):
		return NewTrusted(err, http.StatusBadRequest)

	case errors.As(err, &fe), errors.As(err, &ee):
		return NewTrusted(err, http.StatusUnprocessableEntity)
	}

	return err
}
