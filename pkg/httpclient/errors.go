package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// StatusError describes a non-2xx answer from an upstream service.
type StatusError struct {
	Upstream string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Upstream, e.Status, e.Body)
}

// ParseResponseError drains and closes a non-2xx response into a StatusError.
// The body is truncated to 4 KiB.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", upstream, resp.StatusCode, err)
	}
	return &StatusError{Upstream: upstream, Status: resp.StatusCode, Body: string(body)}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
