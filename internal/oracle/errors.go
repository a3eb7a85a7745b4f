package oracle

import (
	"errors"
	"fmt"
)

// ErrInvalidCredentials means the configured account was rejected. Every
// later call would fail the same way, so runs stop on it.
var ErrInvalidCredentials = errors.New("oracle rejected credentials")

// TransportError is a non-2xx response or an undecodable body. Callers
// treat the code as active (fail open).
type TransportError struct {
	Code       string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("validate %s: http %d: %v", e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("validate %s: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
