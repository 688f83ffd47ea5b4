// Package engerrors provides the engine's unified error taxonomy (spec §7),
// following the teacher's infrastructure/errors package shape.
package engerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the closed set of error codes the public API surface
// returns. Never a raw runtime error.
type Code string

const (
	CodeValidation         Code = "RULE_VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeBadRequest         Code = "BAD_REQUEST"
)

// Severity distinguishes blocking validation failures from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found while validating a rule or query input.
type Issue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// EngineError is the structured error every public engine method returns.
type EngineError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Issues     []Issue                `json:"issues,omitempty"`
	Err        error                  `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail and returns the receiver for chaining.
func (e *EngineError) WithDetails(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithIssues attaches validation issues and returns the receiver for chaining.
func (e *EngineError) WithIssues(issues ...Issue) *EngineError {
	e.Issues = append(e.Issues, issues...)
	return e
}

// New builds a bare EngineError.
func New(code Code, message string, httpStatus int) *EngineError {
	return &EngineError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap builds an EngineError wrapping an underlying cause.
func Wrap(code Code, message string, httpStatus int, err error) *EngineError {
	return &EngineError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Validation builds a RULE_VALIDATION_ERROR carrying the given issues.
// Warnings do not block registration; callers should inspect Issues for any
// SeverityError entry before treating this as fatal.
func Validation(message string, issues ...Issue) *EngineError {
	return New(CodeValidation, message, http.StatusBadRequest).WithIssues(issues...)
}

// HasBlockingIssues reports whether any issue has SeverityError.
func (e *EngineError) HasBlockingIssues() bool {
	for _, i := range e.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// NotFound builds a NOT_FOUND error for resource/id.
func NotFound(resource, id string) *EngineError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

// Conflict builds a CONFLICT error for a duplicate id.
func Conflict(resource, id string) *EngineError {
	return New(CodeConflict, fmt.Sprintf("%s already exists", resource), http.StatusConflict).
		WithDetails("resource", resource).WithDetails("id", id)
}

// ServiceUnavailable builds a SERVICE_UNAVAILABLE error for an unconfigured
// optional subsystem.
func ServiceUnavailable(subsystem string) *EngineError {
	return New(CodeServiceUnavailable, fmt.Sprintf("%s is not configured", subsystem), http.StatusServiceUnavailable).
		WithDetails("subsystem", subsystem)
}

// BadRequest builds a BAD_REQUEST error, e.g. an unknown query/action/trigger
// variant or a malformed goal.
func BadRequest(message string) *EngineError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

// IsEngineError reports whether err is (or wraps) an *EngineError.
func IsEngineError(err error) bool {
	var e *EngineError
	return errors.As(err, &e)
}

// GetEngineError extracts an *EngineError from err's chain, if any.
func GetEngineError(err error) *EngineError {
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// GetHTTPStatus returns the HTTP status an error maps to, defaulting to 500.
func GetHTTPStatus(err error) int {
	if e := GetEngineError(err); e != nil {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
