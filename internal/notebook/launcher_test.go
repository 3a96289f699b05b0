package notebook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/events"
	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/services"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type fakeBackend struct {
	mu        sync.Mutex
	object    services.Object
	objectErr error
	cookieErr error
	started   []string
	localized map[string]string
	cookies   int
	objectFor []string
}

func (f *fakeBackend) NotebookObject(_ context.Context, namespace, bucket, nb string) (services.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objectFor = append(f.objectFor, namespace+"/"+bucket+"/"+nb)
	return f.object, f.objectErr
}

func (f *fakeBackend) StartCluster(_ context.Context, project, cluster string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, project+"/"+cluster)
	return nil
}

func (f *fakeBackend) Localize(_ context.Context, _, _ string, files map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localized = files
	return nil
}

func (f *fakeBackend) SetCookie(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies++
	return f.cookieErr
}

type launchRecorder struct{ got []events.NotebookLaunch }

func (r *launchRecorder) NotebookLaunched(_ context.Context, ev events.NotebookLaunch) {
	r.got = append(r.got, ev)
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func target(status services.ClusterStatus) notebook.Target {
	t := notebook.Target{
		Workspace: session.Workspace{Namespace: "ns", Name: "ws", BucketName: "fc-bucket", AccessLevel: session.AccessWriter},
		Notebook:  "analysis.ipynb",
	}
	if status != "" {
		t.Cluster = &services.Cluster{
			ClusterName: "saturn-1",
			Status:      status,
			Creator:     "me@example.com",
			ClusterURL:  "https://leo.example.com/notebooks/ns/saturn-1",
		}
	}
	return t
}

func TestChooseView(t *testing.T) {
	t.Parallel()

	running := notebook.Status(services.ClusterRunning)
	assert.Equal(t, notebook.ViewLoading, notebook.ChooseView(notebook.StatusLoading, notebook.ModeEdit))
	assert.Equal(t, notebook.ViewEditor, notebook.ChooseView(running, notebook.ModeEdit))
	assert.Equal(t, notebook.ViewEditor, notebook.ChooseView(running, notebook.ModePlayground))
	assert.Equal(t, notebook.ViewPreview, notebook.ChooseView(running, notebook.ModeNone))
	assert.Equal(t, notebook.ViewPreview, notebook.ChooseView(notebook.Status(services.ClusterStopped), notebook.ModeEdit))
	assert.Equal(t, notebook.ViewPreview, notebook.ChooseView(notebook.StatusNone, notebook.ModeEdit))
}

func TestHeaderFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  notebook.Status
		busy    bool
		actions bool
		message string
	}{
		{notebook.Status(services.ClusterCreating), true, false, "Creating notebook runtime environment, this will take 5-10 minutes. You can navigate away and return when it's ready."},
		{notebook.Status(services.ClusterStarting), true, false, "Starting notebook runtime environment, this may take up to 2 minutes."},
		{notebook.Status(services.ClusterStopping), true, false, "Notebook runtime environment is stopping. You can restart it after it finishes."},
		{notebook.Status(services.ClusterError), false, false, "Notebook runtime error."},
		{notebook.Status(services.ClusterRunning), false, true, ""},
		{notebook.Status(services.ClusterStopped), false, true, ""},
		{notebook.StatusNone, false, true, ""},
		{notebook.Status(services.ClusterDeleting), false, false, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := notebook.HeaderFor(tt.status)
			assert.Equal(t, tt.busy, h.Busy)
			assert.Equal(t, tt.actions, h.Actions)
			assert.Equal(t, tt.message, h.Message)
		})
	}
}

func TestLockFromMetadata(t *testing.T) {
	t.Parallel()

	later := now.Add(time.Minute).Format(time.RFC3339)
	earlier := now.Add(-time.Minute).Format(time.RFC3339)

	assert.Equal(t, notebook.Lock{Locked: true, LockedBy: "other@example.com"},
		notebook.LockFromMetadata(map[string]string{"lastLockedBy": "other@example.com", "lockExpiration": later}, "me@example.com", now))
	assert.False(t, notebook.LockFromMetadata(map[string]string{"lastLockedBy": "me@example.com", "lockExpiration": later}, "me@example.com", now).Locked)
	assert.False(t, notebook.LockFromMetadata(map[string]string{"lastLockedBy": "other@example.com", "lockExpiration": earlier}, "me@example.com", now).Locked)
	assert.False(t, notebook.LockFromMetadata(map[string]string{"lastLockedBy": "other@example.com"}, "me@example.com", now).Locked)
	assert.False(t, notebook.LockFromMetadata(nil, "me@example.com", now).Locked)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := notebook.ParseMode("edit")
	require.NoError(t, err)
	assert.Equal(t, notebook.ModeEdit, m)
	m, err = notebook.ParseMode("Playground")
	require.NoError(t, err)
	assert.Equal(t, notebook.ModePlayground, m)
	m, err = notebook.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, notebook.ModeNone, m)
	_, err = notebook.ParseMode("read")
	require.Error(t, err)
}

func TestChooseMode_EditWhenLockedPromptsFileInUse(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	l := notebook.New(backend, fixedClock(now), nil, zap.NewNop())
	lock := notebook.Lock{Locked: true, LockedBy: "other@example.com"}

	choice, err := l.ChooseMode(context.Background(), target(services.ClusterStopped), notebook.ModeEdit, lock, false)
	require.NoError(t, err)
	assert.Equal(t, notebook.PromptFileInUse, choice.Prompt)
	assert.Equal(t, "other@example.com", choice.LockedBy)
	assert.Equal(t, notebook.ModeNone, choice.Mode)
	assert.Empty(t, backend.started)
}

func TestChooseMode_PlaygroundNeedsConfirmation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	l := notebook.New(backend, fixedClock(now), nil, nil)
	tgt := target(services.ClusterRunning)

	choice, err := l.ChooseMode(context.Background(), tgt, notebook.ModePlayground, notebook.Lock{}, false)
	require.NoError(t, err)
	assert.Equal(t, notebook.PromptPlayground, choice.Prompt)
	assert.Equal(t, notebook.ModeNone, choice.Mode)

	choice, err = l.ChooseMode(context.Background(), tgt, notebook.ModePlayground, notebook.Lock{}, true)
	require.NoError(t, err)
	assert.Equal(t, notebook.PromptNone, choice.Prompt)
	assert.Equal(t, notebook.ModePlayground, choice.Mode)
}

func TestChooseMode_StartsStoppedCluster(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	l := notebook.New(backend, fixedClock(now), nil, nil)

	choice, err := l.ChooseMode(context.Background(), target(services.ClusterStopped), notebook.ModeEdit, notebook.Lock{}, false)
	require.NoError(t, err)
	assert.True(t, choice.StartedCluster)
	assert.Equal(t, notebook.ModeEdit, choice.Mode)
	assert.Equal(t, []string{"ns/saturn-1"}, backend.started)
}

func TestChooseMode_NoClusterPromptsCreate(t *testing.T) {
	t.Parallel()

	l := notebook.New(&fakeBackend{}, fixedClock(now), nil, nil)

	choice, err := l.ChooseMode(context.Background(), target(""), notebook.ModeEdit, notebook.Lock{}, false)
	require.NoError(t, err)
	assert.Equal(t, notebook.PromptCreateCluster, choice.Prompt)
	assert.Equal(t, notebook.ModeEdit, choice.Mode)
}

func TestLocalizeFiles(t *testing.T) {
	t.Parallel()

	got := notebook.LocalizeFiles(target(services.ClusterRunning))
	assert.Equal(t, map[string]string{
		"~/ws/.delocalize.json": `data:application/json,{"destination":"gs://fc-bucket/notebooks","pattern":""}`,
		"~/ws/analysis.ipynb":   "gs://fc-bucket/notebooks/analysis.ipynb",
	}, got)
}

func TestOpen_EditorPath(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{object: services.Object{Name: "notebooks/analysis.ipynb", Updated: now.Add(-5 * time.Minute)}}
	rec := &launchRecorder{}
	l := notebook.New(backend, fixedClock(now), rec, nil)

	out, err := l.Open(context.Background(), target(services.ClusterRunning), notebook.ModeEdit)
	require.NoError(t, err)
	assert.Equal(t, notebook.ViewEditor, out.View)
	assert.Equal(t, "https://leo.example.com/notebooks/ns/saturn-1/notebooks/ws/analysis.ipynb", out.URL)
	assert.Equal(t, notebook.RecentEditWarning, out.Warning)
	assert.Len(t, backend.localized, 2)
	assert.Equal(t, 1, backend.cookies)
	assert.Equal(t, []string{"ns/fc-bucket/analysis"}, backend.objectFor)

	require.Len(t, rec.got, 1)
	assert.Equal(t, events.NotebookLaunch{Namespace: "ns", Workspace: "ws", Notebook: "analysis.ipynb", Cluster: "saturn-1", Mode: "Edit"}, rec.got[0])
}

func TestOpen_EditorPathStaleEditHasNoWarning(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{object: services.Object{Updated: now.Add(-time.Hour)}}
	l := notebook.New(backend, fixedClock(now), nil, nil)

	out, err := l.Open(context.Background(), target(services.ClusterRunning), notebook.ModePlayground)
	require.NoError(t, err)
	assert.Empty(t, out.Warning)
}

func TestOpen_SetUpFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cookieErr: errors.New("leo down")}
	rec := &launchRecorder{}
	l := notebook.New(backend, fixedClock(now), rec, nil)

	_, err := l.Open(context.Background(), target(services.ClusterRunning), notebook.ModeEdit)
	require.ErrorContains(t, err, "leo down")
	assert.Empty(t, rec.got)
}

func TestOpen_PreviewReportsLock(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{object: services.Object{Metadata: map[string]string{
		"lastLockedBy":   "other@example.com",
		"lockExpiration": now.Add(time.Minute).Format(time.RFC3339),
	}}}
	l := notebook.New(backend, fixedClock(now), nil, nil)

	out, err := l.Open(context.Background(), target(services.ClusterStopped), notebook.ModeNone)
	require.NoError(t, err)
	assert.Equal(t, notebook.ViewPreview, out.View)
	require.NotNil(t, out.Header)
	assert.True(t, out.Header.Actions)
	require.NotNil(t, out.Lock)
	assert.True(t, out.Lock.Locked)
}

func TestOpen_BusyPreviewSkipsLookup(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	l := notebook.New(backend, fixedClock(now), nil, nil)

	out, err := l.Open(context.Background(), target(services.ClusterCreating), notebook.ModeEdit)
	require.NoError(t, err)
	assert.True(t, out.Header.Busy)
	assert.Nil(t, out.Lock)
	assert.Empty(t, backend.objectFor)
}

func TestSetUp_RequiresRunningCluster(t *testing.T) {
	t.Parallel()

	l := notebook.New(&fakeBackend{}, fixedClock(now), nil, nil)
	err := l.SetUp(context.Background(), target(services.ClusterStopped), notebook.ModeEdit)
	require.ErrorIs(t, err, notebook.ErrClusterNotRunning)
}
