package feed

import (
	"errors"
	"fmt"

	"weatherfeed/internal/provider"
)

// ErrClosed is returned by Refresh after Close.
var ErrClosed = errors.New("feed: closed")

// ConfigurationError reports a missing or malformed option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// RetrievalError reports a transport or provider failure during Refresh.
type RetrievalError struct {
	Provider string
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve from %s: %v", e.Provider, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed. Rejected credentials and
// unknown locations will not.
func (e *RetrievalError) Temporary() bool { return !provider.Permanent(e.Err) }

// ParseError reports a successful response with an unusable payload.
type ParseError = provider.ParseError
