package ajax

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
)

var bucketPattern = regexp.MustCompile(`/b/([^/?]+)[/?]`)

// requesterPaysMarker is the substring storage puts in 400 bodies for requester-pays buckets.
const requesterPaysMarker = "requester pays"

// RequesterPaysState is the session-scoped view the requester-pays stage needs.
type RequesterPaysState interface {
	IsRequesterPays(bucket string) bool
	// MarkRequesterPays records bucket and reports whether it was newly added.
	MarkRequesterPays(bucket string) bool
	// UserProject returns the billing project to charge for a call made under ctx, or ""
	// when none is usable.
	UserProject(ctx context.Context) string
}

// RequesterPaysListener is told when a bucket is first found to be requester pays.
type RequesterPaysListener interface {
	RequesterPaysFlagged(ctx context.Context, bucket string)
}

// BucketFromURL extracts the bucket name from a storage JSON API URL.
func BucketFromURL(rawURL string) (string, bool) {
	m := bucketPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MentionsRequesterPays reports whether a storage error text names requester pays. The match
// is case-sensitive.
func MentionsRequesterPays(text string) bool {
	return strings.Contains(text, requesterPaysMarker)
}

// IsRequesterPaysFailure reports whether res is a 400 whose body names requester pays.
func IsRequesterPaysFailure(res *Response) bool {
	return res != nil && res.StatusCode == http.StatusBadRequest && MentionsRequesterPays(res.Text())
}

// RequesterPays attaches userProject for buckets known to be requester pays and, when an
// unknown bucket fails with a requester-pays 400, remembers it and retries exactly once
// with the project attached. Without a usable project the flagged failure is returned.
func RequesterPays(state RequesterPaysState, listeners ...RequesterPaysListener) Stage {
	return Stage{
		Name: StageRequesterPays,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				bucket, ok := BucketFromURL(req.URL)
				if !ok || state == nil {
					return next.Do(ctx, req)
				}
				rp := &requesterPaysCall{
					next:        next,
					state:       state,
					listeners:   listeners,
					bucket:      bucket,
					userProject: state.UserProject(ctx),
				}
				return rp.try(ctx, req, false)
			})
		},
	}
}

type requesterPaysCall struct {
	next        Doer
	state       RequesterPaysState
	listeners   []RequesterPaysListener
	bucket      string
	userProject string
}

func (c *requesterPaysCall) try(ctx context.Context, req *Request, retry bool) (*Response, error) {
	known := retry || c.state.IsRequesterPays(c.bucket)
	attempt := req
	if known && c.userProject != "" {
		withProject, err := MergeQueryParams(map[string]string{"userProject": c.userProject}, req.URL)
		if err != nil {
			return nil, err
		}
		attempt = req.Clone()
		attempt.URL = withProject
	}

	res, err := c.next.Do(ctx, attempt)
	if err == nil {
		return res, nil
	}
	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		return nil, err
	}
	rerr.RequesterPays = IsRequesterPaysFailure(rerr.Response)
	if rerr.RequesterPays && !known {
		if c.state.MarkRequesterPays(c.bucket) {
			for _, l := range c.listeners {
				l.RequesterPaysFlagged(ctx, c.bucket)
			}
		}
		if c.userProject != "" {
			return c.try(ctx, req, true)
		}
	}
	return nil, rerr
}
