package kie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrMissingAPIKey = errors.New("kie: api key is not configured")

// APIError is a non-success answer from the vendor, either an HTTP status
// or an application code inside a 200 response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 && e.Code != e.StatusCode {
		return fmt.Sprintf("kie api error (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kie api error (http %d): %s", e.StatusCode, e.Message)
}

var creditMarkers = []string{"credit", "balance", "insufficient"}

// IsInsufficientCredits reports whether err means the account ran out of
// generation credits, so callers can ask the user to top up. Only vendor
// answers count; transport failures never do.
func IsInsufficientCredits(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusPaymentRequired || apiErr.Code == http.StatusPaymentRequired {
		return true
	}

	msg := strings.ToLower(apiErr.Message)
	for _, marker := range creditMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
