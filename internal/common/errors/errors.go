// Package errors provides structured error handling for the presensi API
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"

	// Attendance errors
	ErrZoneNotFound        ErrorCode = "ZONE_NOT_FOUND"
	ErrZoneLookupTimeout   ErrorCode = "ZONE_LOOKUP_TIMEOUT"
	ErrInvalidCoordinate   ErrorCode = "INVALID_COORDINATE"
	ErrDuplicateAttendance ErrorCode = "DUPLICATE_ATTENDANCE"
	ErrVerdictNotFound     ErrorCode = "VERDICT_NOT_FOUND"
	ErrInvalidDecision     ErrorCode = "INVALID_DECISION"
	ErrSubmissionInFlight  ErrorCode = "SUBMISSION_IN_PROGRESS"

	// Authentication errors
	ErrInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Data       interface{}            `json:"-"` // payload still returned alongside the error, e.g. the original verdict on a duplicate
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message, http.StatusInternalServerError)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message, http.StatusUnauthorized)
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return New(ErrValidation, message, http.StatusBadRequest)
}

// InvalidToken creates an invalid token error
func InvalidToken(details string) *AppError {
	return New(ErrInvalidToken, "Invalid authentication token", http.StatusUnauthorized).WithDetails(details)
}

// InsufficientPermissions creates an insufficient permissions error
func InsufficientPermissions(action string) *AppError {
	return New(ErrInsufficientPerms, "Insufficient permissions to perform this action", http.StatusForbidden).
		WithMetadata("action", action)
}

// RateLimited is returned when a caller exceeds the request budget
func RateLimited() *AppError {
	return New(ErrRateLimited, "Too many requests", http.StatusTooManyRequests)
}

// ZoneNotFound is returned when the requested work zone does not exist
func ZoneNotFound(err error) *AppError {
	return Wrap(err, ErrZoneNotFound, "Work zone not found", http.StatusNotFound)
}

// ZoneLookupTimeout is returned when the zone store did not answer in time
func ZoneLookupTimeout(err error) *AppError {
	return Wrap(err, ErrZoneLookupTimeout, "Work zone lookup timed out", http.StatusGatewayTimeout)
}

// InvalidCoordinate is returned for out-of-range positions
func InvalidCoordinate(err error) *AppError {
	e := Wrap(err, ErrInvalidCoordinate, "Invalid coordinate", http.StatusBadRequest)
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// DuplicateAttendance carries the originally recorded decision back to the client
func DuplicateAttendance(original interface{}) *AppError {
	e := New(ErrDuplicateAttendance, "Attendance already recorded for today", http.StatusConflict)
	e.Data = original
	return e
}

// SubmissionInFlight is returned when the same attendance is already being processed
func SubmissionInFlight() *AppError {
	return New(ErrSubmissionInFlight, "A submission for this attendance is already being processed", http.StatusConflict)
}

// VerdictNotFound creates a verdict not found error
func VerdictNotFound(err error) *AppError {
	return Wrap(err, ErrVerdictNotFound, "Verdict not found", http.StatusNotFound)
}

// InvalidDecision is returned for an unknown review decision
func InvalidDecision(err error) *AppError {
	e := Wrap(err, ErrInvalidDecision, "Invalid review decision", http.StatusBadRequest)
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// ErrorBody is the error part of the response envelope
type ErrorBody struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorResponse is the JSON envelope sent for errors
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     ErrorBody   `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	// internal details never leave the service
	details := appErr.Details
	if appErr.StatusCode >= http.StatusInternalServerError {
		details = ""
	}

	c.JSON(appErr.StatusCode, ErrorResponse{
		Success: false,
		Data:    appErr.Data,
		Error: ErrorBody{
			Code:     appErr.Code,
			Message:  appErr.Message,
			Details:  details,
			Metadata: appErr.Metadata,
		},
		RequestID: reqIDStr,
	})
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}
