package ajax

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
)

// TransformFunc rewrites a successful response.
type TransformFunc func(ctx context.Context, res *Response) (*Response, error)

// OverrideRule pairs a URL pattern with a response transform. Rules exist for test
// instrumentation only.
type OverrideRule struct {
	Name      string
	Pattern   *regexp.Regexp
	Transform TransformFunc
}

// NewOverrideRule compiles pattern into a rule.
func NewOverrideRule(name, pattern string, fn TransformFunc) (OverrideRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return OverrideRule{}, fmt.Errorf("compile override %q pattern: %w", name, err)
	}
	if fn == nil {
		return OverrideRule{}, fmt.Errorf("override %q has no transform", name)
	}
	return OverrideRule{Name: name, Pattern: re, Transform: fn}, nil
}

// OverrideStore holds override rules in registration order. It is owned by a session and
// safe for concurrent use.
type OverrideStore struct {
	mu    sync.RWMutex
	rules []OverrideRule
}

// NewOverrideStore returns an empty store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{}
}

// Register appends a rule.
func (s *OverrideStore) Register(rule OverrideRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// Replace swaps the whole rule list, keeping the given order.
func (s *OverrideStore) Replace(rules []OverrideRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]OverrideRule(nil), rules...)
}

// Reset removes every rule.
func (s *OverrideStore) Reset() {
	s.Replace(nil)
}

// Len returns the number of registered rules.
func (s *OverrideStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Matching returns the rules whose pattern matches rawURL, in registration order.
func (s *OverrideStore) Matching(rawURL string) []OverrideRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OverrideRule
	for _, r := range s.rules {
		if r.Pattern != nil && r.Pattern.MatchString(rawURL) {
			out = append(out, r)
		}
	}
	return out
}

// MapJSONBody decodes the body, applies fn and re-encodes it, keeping status and headers.
func MapJSONBody(fn func(any) any) TransformFunc {
	return func(_ context.Context, res *Response) (*Response, error) {
		var decoded any
		if err := json.Unmarshal(res.Body, &decoded); err != nil {
			return nil, fmt.Errorf("override map json body: %w", err)
		}
		data, err := json.Marshal(fn(decoded))
		if err != nil {
			return nil, fmt.Errorf("override encode json body: %w", err)
		}
		out := res.Clone()
		out.Body = data
		return out, nil
	}
}

// ErrorSpec configures MakeError. A zero Frequency means every call fails.
type ErrorSpec struct {
	Status    int
	Frequency float64
}

// MakeError replaces the response with an "Instrumented error" response at spec.Status
// with probability spec.Frequency. random defaults to math/rand.
func MakeError(spec ErrorSpec, random func() float64) TransformFunc {
	freq := spec.Frequency
	if freq <= 0 {
		freq = 1
	}
	if random == nil {
		random = rand.Float64
	}
	return func(_ context.Context, res *Response) (*Response, error) {
		if random() >= freq {
			return res, nil
		}
		return &Response{
			StatusCode: spec.Status,
			Header:     res.Header.Clone(),
			Body:       []byte("Instrumented error"),
			URL:        res.URL,
		}, nil
	}
}
