package ajax

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAbandoned is returned when the caller's context was cancelled while the call was in
// flight. It marks the call as abandoned: callers should stop updating state and must not
// report it as a failure.
var ErrAbandoned = errors.New("ajax: request abandoned")

// IsAbandoned reports whether err marks an abandoned call.
func IsAbandoned(err error) bool {
	return errors.Is(err, ErrAbandoned)
}

// ResponseError is a non-2xx response surfaced as an error. The full response is kept so
// callers can branch on the status code or read the body.
type ResponseError struct {
	Response *Response
	// RequesterPays is set when the failure was a 400 caused by a requester-pays bucket.
	RequesterPays bool
}

const maxErrorBody = 256

// Error implements error.
func (e *ResponseError) Error() string {
	body := strings.TrimSpace(e.Response.Text())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Response.URL, e.Response.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Response.URL, e.Response.StatusCode, body)
}

// StatusCode returns the HTTP status of the failed response.
func (e *ResponseError) StatusCode() int {
	return e.Response.StatusCode
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not a ResponseError.
func StatusOf(err error) int {
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		return rerr.StatusCode()
	}
	return 0
}

// IsStatus reports whether err is a ResponseError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	status := StatusOf(err)
	if status == 0 {
		return false
	}
	for _, code := range codes {
		if status == code {
			return true
		}
	}
	return false
}

// IsRequesterPays reports whether err is a requester-pays flagged failure.
func IsRequesterPays(err error) bool {
	var rerr *ResponseError
	return errors.As(err, &rerr) && rerr.RequesterPays
}
