package signing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a TransactionError for the caller
type ErrorKind string

const (
	KindInput           ErrorKind = "input"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindConflict        ErrorKind = "conflict"
	KindAuth            ErrorKind = "auth"
	KindDelivery        ErrorKind = "delivery"
	KindPersistence     ErrorKind = "persistence"
	KindInternal        ErrorKind = "internal"
	KindNotFound        ErrorKind = "not_found"
)

// TransactionError is returned by every Service operation
type TransactionError struct {
	Kind    ErrorKind
	State   State
	Message string
	Err     error
}

func (e *TransactionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a TransactionError in err's chain, or KindInternal
func KindOf(err error) ErrorKind {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return KindInternal
}

func inputError(msg string, err error) *TransactionError {
	return &TransactionError{Kind: KindInput, State: StateRejectedInput, Message: msg, Err: err}
}

func internalError(state State, msg string, err error) *TransactionError {
	return &TransactionError{Kind: KindInternal, State: state, Message: msg, Err: err}
}
