// Package apierr converts handler failures into the JSON error envelope
// returned by every route.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Code identifies a class of error in the response body.
type Code string

// Supported error codes.
const (
	BadRequest          Code = "bad_request"
	Unauthorized        Code = "unauthorized"
	Forbidden           Code = "forbidden"
	NotFound            Code = "not_found"
	UnprocessableEntity Code = "unprocessable_entity"
	Internal            Code = "internal_server_error"
	BadGateway          Code = "bad_gateway"
	TooManyRequests     Code = "rate_limit_exceeded"
)

const docBaseURL = "https://dub.co/docs/api-reference/errors"

var statusByCode = map[Code]int{
	BadRequest:          http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	UnprocessableEntity: http.StatusUnprocessableEntity,
	Internal:            http.StatusInternalServerError,
	BadGateway:          http.StatusBadGateway,
	TooManyRequests:     http.StatusTooManyRequests,
}

// Error is a typed failure with a client-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error code.
func (e *Error) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// From classifies any error. Validation failures become 422, malformed JSON
// 400, and anything untyped 500 with a generic message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return Wrap(UnprocessableEntity, describeValidation(validationErrs), err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return Wrap(BadRequest, "Invalid JSON body.", err)
	case errors.As(err, &typeErr):
		return Wrap(BadRequest, fmt.Sprintf("Invalid value for field %q.", typeErr.Field), err)
	case errors.Is(err, io.EOF):
		return Wrap(BadRequest, "Request body is empty.", err)
	}
	return Wrap(Internal, "An internal server error occurred.", err)
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s: Required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s: must be one of [%s]", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Body is the JSON error envelope.
type Body struct {
	Error BodyError `json:"error"`
}

// BodyError is the inner error object.
type BodyError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	DocURL  string `json:"doc_url"`
}

// Handle writes err as a JSON response and logs it: warnings for client
// errors, errors for server failures.
func Handle(w http.ResponseWriter, err error, logger *zap.Logger) {
	apiErr := From(err)
	if apiErr == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	status := apiErr.Status()
	fields := []zap.Field{zap.String("code", string(apiErr.Code)), zap.Int("status", status)}
	if apiErr.Err != nil {
		fields = append(fields, zap.Error(apiErr.Err))
	}
	if status >= http.StatusInternalServerError {
		logger.Error(apiErr.Message, fields...)
	} else {
		logger.Warn(apiErr.Message, fields...)
	}
	WriteJSON(w, status, Body{Error: BodyError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		DocURL:  docBaseURL + "#" + strings.ReplaceAll(string(apiErr.Code), "_", "-"),
	}})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already on the wire; nothing useful remains to do on failure.
	_ = json.NewEncoder(w).Encode(payload)
}
