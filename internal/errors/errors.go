// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientData    = errors.New("insufficient data for calculation")
	ErrInsufficientSignal  = errors.New("insufficient signal: no weighted factors")
	ErrAlreadyExecuted     = errors.New("prediction already executed")
	ErrAlreadyVerified     = errors.New("prediction already verified")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrVersionConflict     = errors.New("version conflict")
	ErrInputValidation     = errors.New("input validation failed")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

// Collaborators that can be reported by UpstreamError.
const (
	CollaboratorPrice        = "price"
	CollaboratorFundamentals = "fundamentals"
	CollaboratorSentiment    = "sentiment"
	CollaboratorStorage      = "storage"
	CollaboratorEvents       = "events"
)

// UpstreamError represents a failure of an external collaborator.
type UpstreamError struct {
	Collaborator string
	Symbol       string
	Err          error
}

func (e *UpstreamError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("upstream unavailable [%s] %s: %v", e.Collaborator, e.Symbol, e.Err)
	}
	return fmt.Sprintf("upstream unavailable [%s]: %v", e.Collaborator, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstreamUnavailable in addition to the wrapped chain.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(collaborator, symbol string, err error) *UpstreamError {
	return &UpstreamError{
		Collaborator: collaborator,
		Symbol:       symbol,
		Err:          err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Is matches ErrInputValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
