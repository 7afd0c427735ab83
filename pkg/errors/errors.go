// Package errors provides custom error types for the reclaim system.
// Every failure a reconciliation run can hit is one of a small set of
// tagged kinds (transient, conflict, collector, integrity, fatal), so
// callers can decide per asset whether to retry, review or abort.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is, As and Join are re-exported so callers only import one errors package.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Common sentinel errors for the reclaim system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrTransient indicates a store hiccup that may succeed on retry
	ErrTransient = errors.New("transient store error")

	// ErrConflict indicates a concurrent modification of a ledger record
	ErrConflict = errors.New("ledger conflict")

	// ErrCollector indicates an evidence collector failed on one asset
	ErrCollector = errors.New("evidence collector failure")

	// ErrIntegrity indicates a copied object does not match its source
	ErrIntegrity = errors.New("integrity violation")

	// ErrFatal indicates a collaborator was unreachable before work began
	ErrFatal = errors.New("fatal startup error")
)

// Kind tags an error with the reconciliation failure class it belongs to.
type Kind string

// Kind values.
const (
	KindNone      Kind = ""
	KindTransient Kind = "transient"
	KindConflict  Kind = "conflict"
	KindCollector Kind = "collector"
	KindIntegrity Kind = "integrity"
	KindFatal     Kind = "fatal"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindOther     Kind = "other"
)

// KindOf classifies err. The first matching class wins, in the order
// fatal, integrity, conflict, transient, collector, timeout, canceled.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrCollector):
		return KindCollector
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	default:
		return KindOther
	}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// TransientStoreError is a store operation that kept failing after the
// retry budget was spent. It is surfaced as a failed action for that
// asset only.
type TransientStoreError struct {
	Operation string // "list", "get", "copy", "delete", "head"
	Key       string
	Attempts  int
	Err       error
}

// Error implements the error interface
func (e *TransientStoreError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("store %s of %s failed after %d attempts: %v", e.Operation, e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("store %s of %s failed: %v", e.Operation, e.Key, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TransientStoreError) Is(target error) bool {
	return target == ErrTransient
}

// NewTransientStoreError creates a new TransientStoreError
func NewTransientStoreError(operation, key string, attempts int, err error) *TransientStoreError {
	return &TransientStoreError{
		Operation: operation,
		Key:       key,
		Attempts:  attempts,
		Err:       err,
	}
}

// LedgerConflictError reports that an owner record changed between the
// read and the claim (optimistic concurrency check failed).
type LedgerConflictError struct {
	OwnerID         string
	AssetID         string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error implements the error interface
func (e *LedgerConflictError) Error() string {
	return fmt.Sprintf("ledger conflict claiming %s for owner %s: expected version %d, found %d",
		e.AssetID, e.OwnerID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is support
func (e *LedgerConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewLedgerConflictError creates a new LedgerConflictError
func NewLedgerConflictError(ownerID, assetID string, expected, actual int64) *LedgerConflictError {
	return &LedgerConflictError{
		OwnerID:         ownerID,
		AssetID:         assetID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// CollectorError is an analysis failure isolated to one collector and
// one asset. The run continues with the remaining evidence.
type CollectorError struct {
	Collector string
	AssetID   string
	Err       error
}

// Error implements the error interface
func (e *CollectorError) Error() string {
	if e.AssetID != "" {
		return fmt.Sprintf("collector %s failed on asset %s: %v", e.Collector, e.AssetID, e.Err)
	}
	return fmt.Sprintf("collector %s failed: %v", e.Collector, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *CollectorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *CollectorError) Is(target error) bool {
	return target == ErrCollector
}

// NewCollectorError creates a new CollectorError
func NewCollectorError(collector, assetID string, err error) *CollectorError {
	return &CollectorError{Collector: collector, AssetID: assetID, Err: err}
}

// IntegrityError reports a post-copy verification mismatch. The claim is
// aborted, the source is left untouched and it is never retried.
type IntegrityError struct {
	AssetID     string
	Source      string
	Destination string
	Field       string // "size" or "etag"
	Expected    string
	Actual      string
}

// Error implements the error interface
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s (%s -> %s): %s expected %s, got %s",
		e.AssetID, e.Source, e.Destination, e.Field, e.Expected, e.Actual)
}

// Is implements errors.Is support
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// FatalStartupError means the ledger or the asset store could not be
// reached before any work began. Nothing has been mutated.
type FatalStartupError struct {
	Component string // "ledger" or "asset store"
	Err       error
}

// Error implements the error interface
func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("%s unreachable at startup: %v", e.Component, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FatalStartupError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *FatalStartupError) Is(target error) bool {
	return target == ErrFatal
}

// NewFatalStartupError creates a new FatalStartupError
func NewFatalStartupError(component string, err error) *FatalStartupError {
	return &FatalStartupError{Component: component, Err: err}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  string
	Message   string
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s: %s", e.Operation, e.Duration, e.Message)
	}
	return fmt.Sprintf("operation %s timed out: %s", e.Operation, e.Message)
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation, duration, message string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Message:   message,
	}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "delete", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "open", "load", "snapshot", "claim"
	Resource  string // "ledger", "store", "report", "history"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsTransient checks if an error may succeed when retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsConflict checks if an error is a ledger conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsIntegrity checks if an error is a verification mismatch
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsFatal checks if an error must abort the whole run
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}
