package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// OperationError annotates an error with the operation and run it belongs to.
// Attempts counts how many times the operation ran before giving up.
type OperationError struct {
	Operation string
	RequestID string
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Operation
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request_id=%s)", msg, e.RequestID)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields renders the error as structured log fields.
func (e *OperationError) Fields() []zap.Field {
	if e == nil {
		return nil
	}
	fields := []zap.Field{zap.String("operation", e.Operation), zap.Error(e.Err)}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", e.Attempts))
	}
	return fields
}

// NewOperationError wraps err with structured context. A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	return NewRetryError(operation, requestID, 0, err)
}

// NewRetryError is NewOperationError for a retry loop that ran attempts times.
func NewRetryError(operation, requestID string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Attempts: attempts, Err: err}
}
