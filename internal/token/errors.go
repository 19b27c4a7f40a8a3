package token

import (
	"errors"
	"fmt"
)

// AuthErrorKind classifies why a token failed verification.
type AuthErrorKind string

const (
	KindMalformed        AuthErrorKind = "malformed"
	KindInvalidSignature AuthErrorKind = "invalid_signature"
	KindUnknown          AuthErrorKind = "unknown"
	KindRevoked          AuthErrorKind = "revoked"
	KindExpired          AuthErrorKind = "expired"
)

// AuthError is returned by Manager.Verify. The kind is preserved all the way
// to the ingestion response so that an expired token is never reported as a
// malformed one.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token verification failed: %s", e.Kind)
}

// AsAuthError unwraps err into an AuthError if it carries one.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// ErrNotFound is returned by Store implementations when a token string has
// no registry entry.
var ErrNotFound = errors.New("token not found")
