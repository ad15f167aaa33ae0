package httpresp

const (
	ErrUnauthorized          = "unauthorized"
	ErrMissingBearerToken    = "bearer token is required"
	ErrInvalidToken          = "invalid token"
	ErrForbidden             = "forbidden"
	ErrInsufficientRole      = "insufficient permissions"
	ErrMissingIntegrationKey = "integration key is required"
	ErrInvalidIntegrationKey = "invalid integration key"
	ErrCursorInvalid         = "cursor is invalid"
	ErrAttachmentsDisabled   = "attachments are not configured"
)

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type PaginatedResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewReasonResponse(message, reason string) ErrorResponse {
	return ErrorResponse{Error: message, Reason: reason}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewURLResponse(url string) URLResponse {
	return URLResponse{URL: url}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewPaginatedResponse[T any](items []T, nextCursor string) PaginatedResponse[T] {
	return PaginatedResponse[T]{Items: items, NextCursor: nextCursor}
}
