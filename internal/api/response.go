package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// StatusClientClosedRequest is used when the caller gave up before an answer
const StatusClientClosedRequest = 499

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var failed *domain.SessionFailedError
	if errors.As(err, &failed) {
		if failed.Reason == domain.FailureReasonExternalServiceUnavailable {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return http.StatusGatewayTimeout
		case errors.Is(err, context.Canceled):
			return StatusClientClosedRequest
		}
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation, domain.ErrCodeSequenceGap, domain.ErrCodeIncompleteAudio:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeConcurrency:
		return http.StatusConflict
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrCodeTransientExternal, domain.ErrCodePermanentExternal:
		return http.StatusBadGateway
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type.
// Server-side failures only expose the domain message, never the cause.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	JSON(w, status, errorBody(status, err))
}

func errorBody(status int, err error) ErrorResponse {
	var failed *domain.SessionFailedError
	if errors.As(err, &failed) {
		return ErrorResponse{
			Error:  failed.Reason.Message(),
			Code:   domain.ErrCodeSessionFailed,
			Reason: string(failed.Reason),
		}
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		if status >= 500 {
			return ErrorResponse{Error: domainErr.Message, Code: domainErr.Code}
		}
		return ErrorResponse{Error: err.Error(), Code: domainErr.Code}
	}
	if status >= 500 || status == StatusClientClosedRequest {
		return ErrorResponse{Error: http.StatusText(status), Code: domain.ErrCodeInternalError}
	}
	return ErrorResponse{Error: err.Error()}
}
