package errors

const (
	HttpInternalError        = "internal_error"
	HttpInvalidJsonError     = "invalid_json"
	HttpInvalidQueryError    = "invalid_query"
	HttpRateLimitedError     = "rate_limited"
	HttpUnauthorizedError    = "unauthorized"
	HttpPayloadTooLargeError = "payload_too_large"
)

// ErrorResponse is the error response body shared by all HTTP handlers.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
