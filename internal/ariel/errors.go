package ariel

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse indicates a response body that could not be decoded
// or lacks fields the search lifecycle depends on.
var ErrMalformedResponse = errors.New("malformed ariel response")

// APIError is a non-2xx answer from the QRadar API.
type APIError struct {
	StatusCode  int
	Code        int
	Message     string
	Description string
	// Body is a truncated snapshot of the raw response for logs.
	Body string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("qradar api: http %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("qradar api: http %d", e.StatusCode)
}

// IsServerError reports a 5xx status.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsClientError reports a 4xx status.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// errorBody is the JSON shape QRadar uses for error responses.
type errorBody struct {
	HTTPResponse struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"http_response"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}
