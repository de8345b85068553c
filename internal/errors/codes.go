package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for store operations
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Local precondition violations, surfaced to callers
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeInvalidKey      ErrorCode = 1001
	ErrCodeInvalidProvider ErrorCode = 1002
	ErrCodeInvalidValue    ErrorCode = 1003
	ErrCodeValueTooLarge   ErrorCode = 1004

	// Replication-layer failures, recovered locally and never returned
	// from the inbound API
	ErrCodeMalformedMessage      ErrorCode = 2000
	ErrCodeTransportFailure      ErrorCode = 2001
	ErrCodeReconciliationTimeout ErrorCode = 2002
	ErrCodeNoPeers               ErrorCode = 2003

	ErrCodeInternal    ErrorCode = 3000
	ErrCodeUnavailable ErrorCode = 3001
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StoreError to gRPC status
func (e *StoreError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StoreError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidKey, ErrCodeInvalidProvider,
		ErrCodeInvalidValue, ErrCodeValueTooLarge, ErrCodeMalformedMessage:
		return codes.InvalidArgument
	case ErrCodeReconciliationTimeout:
		return codes.DeadlineExceeded
	case ErrCodeTransportFailure, ErrCodeUnavailable, ErrCodeNoPeers:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func InvalidKey(key, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func InvalidProvider(provider, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidProvider, fmt.Sprintf("invalid provider '%s': %s", provider, reason), nil).
		WithDetail("provider", provider).
		WithDetail("reason", reason)
}

func InvalidValue(reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidValue, fmt.Sprintf("invalid value: %s", reason), nil).
		WithDetail("reason", reason)
}

func ValueTooLarge(size, maxSize int) *StoreError {
	return NewStoreError(ErrCodeValueTooLarge, fmt.Sprintf("value size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func MalformedMessage(reason string, cause error) *StoreError {
	return NewStoreError(ErrCodeMalformedMessage, fmt.Sprintf("malformed message: %s", reason), cause).
		WithDetail("reason", reason)
}

func TransportFailure(peer string, cause error) *StoreError {
	return NewStoreError(ErrCodeTransportFailure, fmt.Sprintf("send to %s failed", peer), cause).
		WithDetail("peer", peer)
}

func ReconciliationTimeout(peer string, cause error) *StoreError {
	return NewStoreError(ErrCodeReconciliationTimeout, fmt.Sprintf("anti-entropy round with %s timed out", peer), cause).
		WithDetail("peer", peer)
}

func NoPeers() *StoreError {
	return NewStoreError(ErrCodeNoPeers, "no peers available", nil)
}

func InternalError(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeUnavailable, message, cause)
}

// IsStoreError checks if an error is a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
