package event

import (
	"errors"
	"fmt"
)

// Load errors. These are returned by the redo log, the timeline, and
// DIO reads.
var (
	ErrNotFound        = errors.New("event: primary key not found")
	ErrAlreadyDeleted  = errors.New("event: key already deleted")
	ErrObjectStillLocked = errors.New("event: object still locked")
	ErrNoPrimaryKey    = errors.New("event: event carries no primary key")
)

// NotFoundByHashError reports that no record exists under hash h.
type NotFoundByHashError struct {
	Hash Hash
}

func (e *NotFoundByHashError) Error() string {
	return fmt.Sprintf("event: no record found for hash %s", e.Hash)
}

// TransformationError wraps a failure from a data_as_underlay/overlay
// transform encountered while loading.
type TransformationError struct {
	Err error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("event: transformation failed: %v", e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// Transformation errors.
var ErrUnspecifiedReadability = errors.New("event: unspecified readability")

// MissingReadKeyError reports that the session holds no key able to
// decrypt the payload tied to KeyHash.
type MissingReadKeyError struct {
	KeyHash Hash
}

func (e *MissingReadKeyError) Error() string {
	return fmt.Sprintf("event: session is missing read key %s", e.KeyHash)
}

// ValidationError is a single veto reason raised by a Validator.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidationErrors aggregates every reason a transaction's events were
// rejected: validation failures are collected rather than
// short-circuited on the first one.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	s := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		s += " " + err.Error() + ";"
	}
	return s
}

func (e ValidationErrors) Unwrap() []error { return e }
