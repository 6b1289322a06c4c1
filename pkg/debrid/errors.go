package debrid

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorResponse is the JSON error body returned by the provider API
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

// Provider error codes that matter for repair classification
const (
	CodeBadToken           = 8
	CodePermissionDenied   = 12
	CodeHosterUnavailable  = 19
	CodeUnavailableFile    = 21
	CodeTrafficExhausted   = 23
	CodeHosterNotSupported = 28
	CodeTooManyRequests    = 34
	CodeUnknownResource    = 7
)

// APIError wraps a provider error response with its HTTP status
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s (code: %d)", e.Message, e.Code)
}

// IsTorrentNotFound reports whether the error means the torrent no longer
// exists at the provider.
func IsTorrentNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == CodeUnknownResource
	}
	return false
}

// IsRateLimited reports whether the error is a provider rate-limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == CodeTooManyRequests
	}
	return false
}

// IsBrokenLink reports whether unrestriction failed because the underlying
// file is gone or the hoster refuses it. These links need a reinsert, not a retry.
func IsBrokenLink(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case CodeHosterUnavailable, CodeUnavailableFile, CodeHosterNotSupported:
			return true
		}
	}
	return false
}

// IsTransient reports whether the error is worth retrying (rate limit,
// temporary exhaustion, or a 5xx from the provider).
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 {
			return true
		}
		switch apiErr.Code {
		case CodeTooManyRequests, CodeTrafficExhausted:
			return true
		}
		return false
	}
	// Network-level failures (timeouts, resets) come through as plain errors.
	return err != nil
}
