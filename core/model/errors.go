package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrSinkWrite is matched by every SinkWriteError.
	ErrSinkWrite = errors.New("sink write error")
)

// ConfigurationError reports an invalid setting detected before the
// generator loop starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SinkWriteError wraps a failure of the output sink. It ends the run.
type SinkWriteError struct {
	Op  string
	Err error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
}

func (e *SinkWriteError) Unwrap() []error { return []error{ErrSinkWrite, e.Err} }
