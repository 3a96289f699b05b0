package ajax

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Doer performs a request. Every stage and the base fetch implement it.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f.
func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Stage is a named middleware. Wrap receives the next Doer inward and returns a Doer
// that takes a request in and hands a response or an error out.
type Stage struct {
	Name string
	Wrap func(next Doer) Doer
}

// Pipeline is a base Doer wrapped by stages, listed outermost first.
type Pipeline struct {
	base   Doer
	stages []Stage
	chain  Doer
}

// NewPipeline composes stages around base. stages[0] is the outermost stage.
func NewPipeline(base Doer, stages ...Stage) *Pipeline {
	p := &Pipeline{
		base:   base,
		stages: append([]Stage(nil), stages...),
	}
	p.chain = compose(base, p.stages)
	return p
}

// NewFetchOk builds the standard pipeline: instrumentation, cancellation and error
// rejection around an HTTP fetch.
func NewFetchOk(client *http.Client, overrides *OverrideStore) *Pipeline {
	return NewFetchOkWithBase(NewHTTPDoer(client), overrides)
}

// NewFetchOkWithBase is NewFetchOk over an arbitrary base Doer.
func NewFetchOkWithBase(base Doer, overrides *OverrideStore) *Pipeline {
	return NewPipeline(
		base,
		Instrumentation(overrides),
		Cancellation(),
		ErrorRejection(),
	)
}

// Extend returns a new pipeline with extra stages placed outside the existing ones.
// The receiver is left unchanged.
func (p *Pipeline) Extend(stages ...Stage) *Pipeline {
	all := make([]Stage, 0, len(stages)+len(p.stages))
	all = append(all, stages...)
	all = append(all, p.stages...)
	return NewPipeline(p.base, all...)
}

// StageNames lists the stage names from outermost to innermost.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Do runs the request through every stage.
func (p *Pipeline) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("ajax: nil request")
	}
	return p.chain.Do(ctx, req)
}

func compose(base Doer, stages []Stage) Doer {
	d := base
	for i := len(stages) - 1; i >= 0; i-- {
		d = stages[i].Wrap(d)
	}
	return d
}

// HTTPDoer is the base fetch. It buffers the body so later stages can re-read it.
type HTTPDoer struct {
	client *http.Client
}

// NewHTTPDoer wraps client; nil gets a client with pooled connections.
func NewHTTPDoer(client *http.Client) *HTTPDoer {
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	return &HTTPDoer{client: client}
}

// Do performs the HTTP round trip.
func (h *HTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", req.Method, req.URL, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s %s: %w", req.Method, req.URL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		URL:        req.URL,
	}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
