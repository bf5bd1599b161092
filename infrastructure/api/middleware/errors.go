package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cr0mbly/esbinder"
	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/infrastructure/api/jsonapi"
)

// Error categories.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrServer         = errors.New("server error")
)

// APIError is an error with an HTTP status code.
type APIError struct {
	code    int
	message string
	cause   error
}

// NewAPIError creates an APIError.
func NewAPIError(code int, message string, cause error) *APIError {
	return &APIError{code: code, message: message, cause: cause}
}

// NewNotFoundError creates a 404 APIError.
func NewNotFoundError(message string) *APIError {
	return NewAPIError(http.StatusNotFound, message, nil)
}

// NewBadRequestError creates a 400 APIError.
func NewBadRequestError(message string, cause error) *APIError {
	return NewAPIError(http.StatusBadRequest, message, cause)
}

// Code returns the HTTP status code.
func (e *APIError) Code() int { return e.code }

// Message returns the client-facing message.
func (e *APIError) Message() string { return e.message }

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("api error %d: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("api error %d: %s", e.code, e.message)
}

// Unwrap returns the cause.
func (e *APIError) Unwrap() error { return e.cause }

// AuthenticationError reports a missing or invalid API key.
type AuthenticationError struct {
	reason string
}

// NewAuthenticationError creates an AuthenticationError.
func NewAuthenticationError(reason string) *AuthenticationError {
	return &AuthenticationError{reason: reason}
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.reason
}

// Is matches ErrAuthentication.
func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// ServerError reports an upstream failure with its status code.
type ServerError struct {
	statusCode int
	message    string
}

// NewServerError creates a ServerError.
func NewServerError(statusCode int, message string) *ServerError {
	return &ServerError{statusCode: statusCode, message: message}
}

// StatusCode returns the HTTP status code.
func (e *ServerError) StatusCode() int { return e.statusCode }

// Message returns the message.
func (e *ServerError) Message() string { return e.message }

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.statusCode, e.message)
}

// Is matches ErrServer.
func (e *ServerError) Is(target error) bool { return target == ErrServer }

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	var apiErr *APIError
	var serverErr *ServerError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code()
	case errors.As(err, &serverErr):
		return serverErr.StatusCode()
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrUnknownIndex):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrFieldNotFound),
		errors.Is(err, entity.ErrFieldNotConvertible),
		errors.Is(err, entity.ErrProviderContractViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSyncFailed),
		errors.Is(err, service.ErrIndexRebuildFailed):
		return http.StatusBadGateway
	case errors.Is(err, esbinder.ErrClientClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON:API error document. Server errors are
// logged with the request id; their detail is not sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	status := StatusFor(err)
	detail := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		detail = apiErr.Message()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		if status == http.StatusInternalServerError {
			detail = "internal server error"
		}
	}
	WriteJSON(w, status, jsonapi.NewErrorResponse(
		jsonapi.NewError(strconv.Itoa(status), http.StatusText(status), detail),
	))
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
