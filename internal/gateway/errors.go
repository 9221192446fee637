package gateway

import (
	"fmt"
	"net/http"

	"github.com/fjod/go_cellar/internal/domain"
)

// APIError is a non-2xx gateway response. It unwraps to the matching
// domain error so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrAuthRequired
	case e.Status >= 500 || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests:
		return domain.ErrNetwork
	default:
		return domain.ErrValidation
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
