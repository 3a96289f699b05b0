// Package overrides loads request override rules from a YAML file and keeps the pipeline's
// override store in sync with it.
package overrides

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

// File is the on-disk rules document.
//
//	rules:
//	  - name: flaky-rawls
//	    pattern: api/workspaces/
//	    makeError: {status: 500, frequency: 0.5}
//	  - name: running-cluster
//	    pattern: api/clusters
//	    mapJsonBody:
//	      set: {status: Running}
type File struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule. Exactly one of MakeError and MapJSONBody is set.
type RuleSpec struct {
	Name        string         `yaml:"name"`
	Pattern     string         `yaml:"pattern"`
	MakeError   *MakeErrorSpec `yaml:"makeError"`
	MapJSONBody *MapBodySpec   `yaml:"mapJsonBody"`
}

// MakeErrorSpec fails matching calls with Status, with probability Frequency (0 means always).
type MakeErrorSpec struct {
	Status    int     `yaml:"status"`
	Frequency float64 `yaml:"frequency"`
}

// MapBodySpec rewrites a JSON body. Replace swaps the whole body; Set merges keys into an
// object body, or into every object of an array body.
type MapBodySpec struct {
	Replace any            `yaml:"replace"`
	Set     map[string]any `yaml:"set"`
}

// Parse decodes and compiles a rules document. Unknown fields are rejected.
func Parse(data []byte) ([]ajax.OverrideRule, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode override rules: %w", err)
	}
	rules := make([]ajax.OverrideRule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		rule, err := spec.compile()
		if err != nil {
			return nil, fmt.Errorf("override rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Load reads and parses the rules file at path.
func Load(path string) ([]ajax.OverrideRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read override rules: %w", err)
	}
	return Parse(data)
}

func (s RuleSpec) compile() (ajax.OverrideRule, error) {
	if s.Name == "" {
		return ajax.OverrideRule{}, errors.New("name is required")
	}
	var fn ajax.TransformFunc
	switch {
	case s.MakeError != nil && s.MapJSONBody != nil:
		return ajax.OverrideRule{}, fmt.Errorf("%s: makeError and mapJsonBody are exclusive", s.Name)
	case s.MakeError != nil:
		if s.MakeError.Status < 100 || s.MakeError.Status > 599 {
			return ajax.OverrideRule{}, fmt.Errorf("%s: invalid status %d", s.Name, s.MakeError.Status)
		}
		fn = ajax.MakeError(ajax.ErrorSpec{Status: s.MakeError.Status, Frequency: s.MakeError.Frequency}, nil)
	case s.MapJSONBody != nil:
		fn = ajax.MapJSONBody(s.MapJSONBody.apply)
	default:
		return ajax.OverrideRule{}, fmt.Errorf("%s: one of makeError or mapJsonBody is required", s.Name)
	}
	return ajax.NewOverrideRule(s.Name, s.Pattern, fn)
}

func (m MapBodySpec) apply(body any) any {
	if m.Replace != nil {
		return m.Replace
	}
	switch v := body.(type) {
	case map[string]any:
		return m.merge(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out[i] = m.merge(obj)
				continue
			}
			out[i] = item
		}
		return out
	default:
		return body
	}
}

func (m MapBodySpec) merge(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj)+len(m.Set))
	for k, v := range obj {
		out[k] = v
	}
	for k, v := range m.Set {
		out[k] = v
	}
	return out
}
