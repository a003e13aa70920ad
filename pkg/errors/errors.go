package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimitExceeded indicates a rate limit was hit
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Cost pipeline errors

var (
	// ErrStorage indicates a cost event could not be persisted
	ErrStorage = errors.New("storage failure")

	// ErrDuplicateEvent indicates an event with the same ID is already stored
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrQueueClosed indicates the write queue no longer accepts events
	ErrQueueClosed = errors.New("write queue closed")

	// ErrChannelNotConfigured indicates an alert channel lacks credentials
	ErrChannelNotConfigured = errors.New("channel not configured")

	// ErrChannelDelivery indicates an alert channel rejected or failed a delivery
	ErrChannelDelivery = errors.New("channel delivery failed")

	// ErrMetrics indicates a telemetry backend failure
	ErrMetrics = errors.New("metrics emission failed")

	// ErrConfiguration indicates invalid configuration
	ErrConfiguration = errors.New("invalid configuration")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a rejected cost event with field-specific details.
// It matches ErrInvalidInput via errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Is makes ValidationError match ErrInvalidInput
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// StorageError is a persistence failure. It is surfaced to the caller of the
// write path and matches ErrStorage.
type StorageError struct {
	Op      string
	EventID string
	Err     error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("storage error: %s (event %s): %v", e.Op, e.EventID, e.Err)
	}
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes StorageError match ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError creates a new storage error
func NewStorageError(op, eventID string, err error) *StorageError {
	return &StorageError{Op: op, EventID: eventID, Err: err}
}

// ChannelDeliveryError describes a failed alert delivery on one channel.
type ChannelDeliveryError struct {
	Channel    string
	StatusCode int
	Transient  bool
	Err        error
}

// Error implements the error interface
func (e *ChannelDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (status %d): %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

// Unwrap returns the wrapped error
func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// Is makes ChannelDeliveryError match ErrChannelDelivery
func (e *ChannelDeliveryError) Is(target error) bool {
	return target == ErrChannelDelivery
}

// ConfigurationError reports a missing or invalid configuration value
type ConfigurationError struct {
	Key     string
	Message string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
}

// Is makes ConfigurationError match ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(key, message string) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message}
}

// BatchError reports per-item failures of a batch operation, keyed by the
// item's index in the input slice.
type BatchError struct {
	Total  int
	Failed map[int]error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for idx, err := range e.Failed {
		parts = append(parts, fmt.Sprintf("[%d] %v", idx, err))
		if len(parts) == 3 {
			break
		}
	}
	return fmt.Sprintf("%d of %d items failed: %s", len(e.Failed), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes the item errors to errors.Is / errors.As
func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		out = append(out, err)
	}
	return out
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the collected errors to errors.Is / errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
