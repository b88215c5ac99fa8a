package errors

import (
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: "NOT_FOUND", Message: "extension 'foo' not found", Status: 404}
	got := err.Error()
	want := "extension 'foo' not found"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		fn         func() *APIError
		wantCode   string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "NotFound",
			fn:         func() *APIError { return NotFound("route", "/nope") },
			wantCode:   "NOT_FOUND",
			wantStatus: 404,
			wantMsg:    "route '/nope' not found",
		},
		{
			name:       "Unauthorized",
			fn:         func() *APIError { return Unauthorized("admin token required") },
			wantCode:   "UNAUTHORIZED",
			wantStatus: 401,
			wantMsg:    "admin token required",
		},
		{
			name:       "MethodNotAllowed",
			fn:         func() *APIError { return MethodNotAllowed("PUT") },
			wantCode:   "METHOD_NOT_ALLOWED",
			wantStatus: 405,
			wantMsg:    "method PUT not allowed",
		},
		{
			name:       "Internal",
			fn:         func() *APIError { return Internal("something broke") },
			wantCode:   "INTERNAL_ERROR",
			wantStatus: 500,
			wantMsg:    "something broke",
		},
		{
			name:       "ServiceUnavailable",
			fn:         func() *APIError { return ServiceUnavailable("store unreachable") },
			wantCode:   "SERVICE_UNAVAILABLE",
			wantStatus: 503,
			wantMsg:    "store unreachable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			if err.Code != tc.wantCode {
				t.Errorf("Code = %q, want %q", err.Code, tc.wantCode)
			}
			if err.Status != tc.wantStatus {
				t.Errorf("Status = %d, want %d", err.Status, tc.wantStatus)
			}
			if err.Message != tc.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tc.wantMsg)
			}
		})
	}
}
