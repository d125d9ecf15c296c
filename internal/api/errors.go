package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrMalformedToken is returned when the token endpoint replies 200 with an
// unusable body.
var ErrMalformedToken = errors.New("malformed token response")

// StatusError is a non-2xx response from the cloud API.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("yoto api %s: %s", e.Endpoint, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("yoto api %s: %d %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsAuthFailure reports whether an error is a 401/403 from the API.
func IsAuthFailure(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
