package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrSessionMissing      = errors.New("auth session missing")
	ErrInvalidSession      = errors.New("invalid auth session")
	ErrCodeVerifierMissing = errors.New("pkce code verifier not found in storage")
)

// APIError is a non-2xx reply from one of the backend's APIs.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with one of the given statuses.
func IsStatus(err error, statuses ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, s := range statuses {
		if apiErr.Status == s {
			return true
		}
	}
	return false
}

// The auth API and the row API use different error shapes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
}

// CheckResponse returns an *APIError for a non-2xx response.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if json.Unmarshal(b, &body) == nil {
		var code string
		_ = json.Unmarshal(body.Code, &code)
		apiErr.Code = firstNonEmpty(body.ErrorCode, code, body.Error)
		apiErr.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription)
	}
	if apiErr.Message == "" {
		apiErr.Message = firstNonEmpty(strings.TrimSpace(string(b)), http.StatusText(resp.StatusCode))
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
