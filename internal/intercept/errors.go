package intercept

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every NetworkError.
var ErrNetwork = errors.New("network request failed")

// ErrInstall matches failures of the install step.
var ErrInstall = errors.New("cache install failed")

// NetworkError reports a network failure with no cached fallback.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
