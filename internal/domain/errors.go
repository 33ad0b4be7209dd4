package domain

import (
	"errors"
	"fmt"
)

// Domain error types
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// InsufficientFundsError indicates a debit would leave a negative balance
	InsufficientFundsError struct {
		AccountID string
		Balance   int64
		Amount    int64
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s has %d, cannot debit %d", e.AccountID, e.Balance, e.Amount)
}

// Is lets errors.Is match the sentinel of each typed error.
func (e *NotFoundError) Is(target error) bool          { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool        { return target == ErrValidation }
func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (account, transfer)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
