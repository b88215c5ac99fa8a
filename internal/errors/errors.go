package errors

import "fmt"

// APIError represents a structured API error with an HTTP status code.
// It is used on the informational endpoints; the MCP endpoint reports
// failures as JSON-RPC error objects instead.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NotFound(resource, id string) *APIError {
	return &APIError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
		Status:  404,
	}
}

func Unauthorized(msg string) *APIError {
	return &APIError{
		Code:    "UNAUTHORIZED",
		Message: msg,
		Status:  401,
	}
}

func MethodNotAllowed(method string) *APIError {
	return &APIError{
		Code:    "METHOD_NOT_ALLOWED",
		Message: fmt.Sprintf("method %s not allowed", method),
		Status:  405,
	}
}

func Internal(msg string) *APIError {
	return &APIError{
		Code:    "INTERNAL_ERROR",
		Message: msg,
		Status:  500,
	}
}

func ServiceUnavailable(msg string) *APIError {
	return &APIError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: msg,
		Status:  503,
	}
}
