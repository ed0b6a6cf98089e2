package provider

import (
	"errors"
	"fmt"
)

// Transport-level failures reported by provider clients. Anything else coming
// out of Fetch (network errors, unexpected status codes) is treated as transient.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("location not found")
	ErrRateLimited  = errors.New("rate limited")
)

// ParseError reports a successful response whose payload could not be used.
type ParseError struct {
	Source string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: parse %s: %v", e.Source, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: parse: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Permanent reports whether err will fail the same way on retry.
func Permanent(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound)
}
