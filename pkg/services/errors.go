// Package services implements the chat and flow operations exposed by the
// HTTP API and the channel webhooks.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/quota"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidChannel     = errors.New("invalid channel")
	ErrFlowNameRequired   = errors.New("flow name is required")
	ErrQueueRequired      = errors.New("queue name is required")
	ErrEmptyMessage       = errors.New("message text cannot be empty")
	ErrStartNodeRequired  = errors.New("flow must have exactly one start node")
	ErrUnknownNodeType    = errors.New("unknown node type")
	ErrDuplicateNodeID    = errors.New("duplicate node id")
	ErrDanglingEdge       = errors.New("edge references a missing node")
	ErrUnknownAnchor      = errors.New("goto references a missing anchor")
	ErrInvalidNodeData    = errors.New("invalid node data")
	ErrFlowNotPublished   = errors.New("flow is not published")
	ErrChannelUnavailable = errors.New("channel is not configured for tenant")

	// Business Logic Conflicts (409 Conflict).
	ErrSessionClosed    = errors.New("chat session is closed")
	ErrDuplicateMessage = errors.New("duplicate channel message")

	// Quota (429 Too Many Requests).
	ErrQuotaExceeded = quota.ErrExceeded

	ErrSessionNotFound = persistence.ErrSessionNotFound
	ErrFlowNotFound    = persistence.ErrFlowNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidChannel) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrQueueRequired) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrStartNodeRequired) ||
		errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrUnknownAnchor) ||
		errors.Is(err, ErrInvalidNodeData) ||
		errors.Is(err, ErrFlowNotPublished) ||
		errors.Is(err, ErrChannelUnavailable)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrDuplicateMessage) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, persistence.ErrVersionConflict)
}

// IsQuotaError checks if an error should return HTTP 429.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
