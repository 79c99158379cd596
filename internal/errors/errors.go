// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrFollowAborted         = errors.New("follow pass aborted by operator")
	ErrValidationFailed      = errors.New("position consistency validation failed")
	ErrPassInFlight          = errors.New("follow pass already running for agent")
	ErrConfirmationNotFound  = errors.New("no recent confirmation")
	ErrInvalidConfirmation   = errors.New("invalid confirmation action")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrPositionNotFound      = errors.New("position not found")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrDatabaseError         = errors.New("database error")
	ErrSettlementTimeout     = errors.New("position did not settle in time")
	ErrInvalidPositionsInput = errors.New("invalid positions input")
)

// FollowError is returned by a follow pass that could not complete.
type FollowError struct {
	AgentID string
	Stage   string
	Err     error
}

func (e *FollowError) Error() string {
	return fmt.Sprintf("follow error [%s] %s: %v", e.AgentID, e.Stage, e.Err)
}

func (e *FollowError) Unwrap() error {
	return e.Err
}

// NewFollowError creates a new FollowError.
func NewFollowError(agentID, stage string, err error) *FollowError {
	return &FollowError{
		AgentID: agentID,
		Stage:   stage,
		Err:     err,
	}
}

// BrokerError represents an error from the venue.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
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

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
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

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error that wraps the given errors, or nil if all are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
