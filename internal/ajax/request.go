// Package ajax implements the request pipeline shared by every backend façade:
// a base HTTP fetch wrapped by an explicit, ordered list of named stages.
package ajax

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes a single outbound call. It is built per call and never shared.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request with an empty header set.
func NewRequest(method, rawURL string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: method,
		URL:    rawURL,
		Header: make(http.Header),
	}
}

// Clone returns a deep copy so stages can rewrite a request without touching the caller's.
func (r *Request) Clone() *Request {
	out := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// SetJSON serializes body as the request payload.
func (r *Request) SetJSON(body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	r.Body = data
	r.Header.Set("Content-Type", "application/json")
	return nil
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
		URL:        r.URL,
	}
}

// DecodeJSON decodes a response body into a new T.
func DecodeJSON[T any](res *Response) (T, error) {
	var out T
	if res == nil {
		return out, errors.New("decode response: nil response")
	}
	err := res.JSON(&out)
	return out, err
}

// MergeQueryParams sets every non-empty value in params on the URL's query string.
// Empty values are skipped, so callers can pass optional parameters unconditionally.
func MergeQueryParams(params map[string]string, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	changed := false
	for k, v := range params {
		if v == "" {
			continue
		}
		q.Set(k, v)
		changed = true
	}
	if !changed {
		return rawURL, nil
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
