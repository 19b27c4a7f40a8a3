package ingest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ingestion failures for the caller.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindInvalidInput ErrorKind = "invalid_input"
	KindRelayFailed  ErrorKind = "relay_failed"
)

// IngestionError is the typed failure returned by Service.Report. For
// Unauthorized errors the wrapped cause is the AuthError, so the specific
// kind (expired vs malformed) is never lost.
type IngestionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// AsIngestionError unwraps err into an IngestionError if it carries one.
func AsIngestionError(err error) (*IngestionError, bool) {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr, true
	}
	return nil, false
}
