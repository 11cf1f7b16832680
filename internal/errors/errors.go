package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason represents the category of a pipeline failure
type Reason string

const (
	ReasonInvalidInput  Reason = "invalid_input"
	ReasonFetch         Reason = "fetch_error"
	ReasonNoAnchorFound Reason = "no_anchor_found"
	ReasonAssetNotFound Reason = "asset_not_found"
	ReasonComposite     Reason = "composite_error"
	ReasonTimeout       Reason = "timeout"
	ReasonBusy          Reason = "busy"

	// Detail reasons. They are reported outward as ReasonInvalidInput.
	ReasonDecode          Reason = "decode_error"
	ReasonPayloadTooLarge Reason = "payload_too_large"

	ReasonInternal Reason = "internal"
)

// Public collapses detail reasons into the set exposed to adapters
func (r Reason) Public() Reason {
	switch r {
	case ReasonDecode, ReasonPayloadTooLarge:
		return ReasonInvalidInput
	case ReasonInternal:
		return ReasonComposite
	default:
		return r
	}
}

// AppError represents a structured pipeline error
type AppError struct {
	Reason     Reason `json:"reason"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Cause      error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newAppError(reason Reason, status int, message string, cause error) *AppError {
	return &AppError{
		Reason:     reason,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewInvalidInputError creates an error for bad URLs and unusable images
func NewInvalidInputError(message string, cause error) *AppError {
	return newAppError(ReasonInvalidInput, http.StatusBadRequest, message, cause)
}

// NewDecodeError creates an error for corrupt or unsupported encodings
func NewDecodeError(message string, cause error) *AppError {
	return newAppError(ReasonDecode, http.StatusBadRequest, message, cause)
}

// NewPayloadTooLargeError creates an error for oversized downloads or rasters
func NewPayloadTooLargeError(message string, cause error) *AppError {
	return newAppError(ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, message, cause)
}

// NewFetchError creates an error for network and upstream failures
func NewFetchError(message string, cause error) *AppError {
	return newAppError(ReasonFetch, http.StatusBadGateway, message, cause)
}

// NewNoAnchorError creates the outcome for images without a placement spot
func NewNoAnchorError(message string) *AppError {
	return newAppError(ReasonNoAnchorFound, http.StatusUnprocessableEntity, message, nil)
}

// NewAssetNotFoundError creates a configuration error for unknown asset ids
func NewAssetNotFoundError(message string, cause error) *AppError {
	return newAppError(ReasonAssetNotFound, http.StatusNotFound, message, cause)
}

// NewCompositeError creates an error for transform and encode failures
func NewCompositeError(message string, cause error) *AppError {
	return newAppError(ReasonComposite, http.StatusInternalServerError, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newAppError(ReasonTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewBusyError creates an error for requests rejected by backpressure
func NewBusyError(message string) *AppError {
	return newAppError(ReasonBusy, http.StatusTooManyRequests, message, nil)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newAppError(ReasonInternal, http.StatusInternalServerError, message, cause)
}

// IsReason checks if the error carries a specific reason.
// Detail reasons match both themselves and their public reason.
func IsReason(err error, reason Reason) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Reason == reason || appErr.Reason.Public() == reason
}

// ReasonOf returns the public reason carried by err, or ReasonInternal
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason.Public()
	}
	return ReasonInternal.Public()
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
