package common

// ErrorResponse is the error body returned by every collector endpoint.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Service string                 `json:"service,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ListResponse wraps collection results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse builds a ListResponse, never with a nil slice.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// Error codes used in ErrorResponse.Code.
const (
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeInvalidConfig = "invalid_configuration"
	CodeBadRequest    = "bad_request"
	CodeForbidden     = "forbidden"
	CodeUnauthorized  = "unauthorized"
	CodeInvalidState  = "invalid_state"
	CodeNotSupported  = "not_supported"
	CodeInternal      = "internal_error"
)
