package overrides_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/overrides"
)

const twoRules = `
rules:
  - name: flaky-rawls
    pattern: api/workspaces/
    makeError:
      status: 503
  - name: running-cluster
    pattern: api/clusters
    mapJsonBody:
      set:
        status: Running
`

func TestParse_MakeError(t *testing.T) {
	t.Parallel()

	rules, err := overrides.Parse([]byte(twoRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "flaky-rawls", rules[0].Name)
	assert.True(t, rules[0].Pattern.MatchString("https://rawls.example.org/api/workspaces/ns/ws"))

	res, err := rules[0].Transform(context.Background(), &ajax.Response{StatusCode: 200, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 503, res.StatusCode)
	assert.Equal(t, "Instrumented error", res.Text())
}

func TestParse_MapJSONBodySetsKeys(t *testing.T) {
	t.Parallel()

	rules, err := overrides.Parse([]byte(twoRules))
	require.NoError(t, err)

	res, err := rules[1].Transform(context.Background(), &ajax.Response{
		StatusCode: 200,
		Body:       []byte(`[{"clusterName":"a","status":"Stopped"},{"clusterName":"b","status":"Error"},7]`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"clusterName":"a","status":"Running"},{"clusterName":"b","status":"Running"},7]`, res.Text())

	res, err = rules[1].Transform(context.Background(), &ajax.Response{StatusCode: 200, Body: []byte(`{"clusterName":"a"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"clusterName":"a","status":"Running"}`, res.Text())
}

func TestParse_MapJSONBodyReplace(t *testing.T) {
	t.Parallel()

	rules, err := overrides.Parse([]byte(`
rules:
  - name: no-alerts
    pattern: alerts.json
    mapJsonBody:
      replace: []
`))
	require.NoError(t, err)
	res, err := rules[0].Transform(context.Background(), &ajax.Response{StatusCode: 200, Body: []byte(`[{"title":"outage"}]`)})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, res.Text())
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field":  "rules:\n  - name: a\n    pattern: x\n    bogus: 1\n",
		"no name":        "rules:\n  - pattern: x\n    makeError: {status: 500}\n",
		"no transform":   "rules:\n  - name: a\n    pattern: x\n",
		"both":           "rules:\n  - name: a\n    pattern: x\n    makeError: {status: 500}\n    mapJsonBody: {replace: 1}\n",
		"bad status":     "rules:\n  - name: a\n    pattern: x\n    makeError: {status: 42}\n",
		"bad pattern":    "rules:\n  - name: a\n    pattern: '('\n    makeError: {status: 500}\n",
		"not a document": "rules: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := overrides.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	rules, err := overrides.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

type reloads struct {
	mu     sync.Mutex
	counts []int
	errs   int
}

func (r *reloads) record(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs++
		return
	}
	r.counts = append(r.counts, n)
}

func (r *reloads) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoRules), 0o600))

	store := ajax.NewOverrideStore()
	rec := &reloads{}
	w, err := overrides.NewWatcher(path, store, zap.NewNop(), rec.record)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Equal(t, 2, store.Len())

	one := "rules:\n  - name: only\n    pattern: x\n    makeError: {status: 500}\n"
	require.NoError(t, os.WriteFile(path, []byte(one), 0o600))
	require.Eventually(t, func() bool { return store.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o600))
	require.Eventually(t, func() bool { return rec.failures() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, store.Len(), "a broken file keeps the previous rules")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return store.Len() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_MissingFileStartsEmpty(t *testing.T) {
	store := ajax.NewOverrideStore()
	store.Register(ajax.OverrideRule{Name: "stale"})

	w, err := overrides.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), store, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Reload())
	assert.Zero(t, store.Len())
	require.NoError(t, w.Stop())
}

func TestNewWatcher_RequiresStore(t *testing.T) {
	_, err := overrides.NewWatcher("x.yaml", nil, nil, nil)
	require.Error(t, err)
}
