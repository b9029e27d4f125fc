package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError through errors.Is
	ErrConfiguration = errors.New("mustard: invalid configuration")

	// ErrShapeMismatch reports inconsistent frame, mask or angle list dimensions
	ErrShapeMismatch = errors.New("mustard: shape mismatch")

	// ErrUnsupportedKernelSize is returned by the kernel helpers for sizes outside their enumerated set
	ErrUnsupportedKernelSize = errors.New("mustard: unsupported kernel size")
)

// ConfigurationError describes an invalid option detected before iterating.
// It carries the offending field and value so the caller can fix the input.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
	Err    error
}

// NewConfigurationError builds a ConfigurationError for field with the given value
func NewConfigurationError(field string, value interface{}, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %v: %s: %v", e.Field, e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is makes every ConfigurationError match ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap returns the underlying cause, if any
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
