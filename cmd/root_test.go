package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/api"
	"github.com/JakeFAU/workspace-portal/internal/app"
	"github.com/JakeFAU/workspace-portal/internal/config"
	"github.com/JakeFAU/workspace-portal/internal/errorreport"
	"github.com/JakeFAU/workspace-portal/internal/explorer"
	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/services"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

// MockObjects mocks app.Objects.
type MockObjects struct {
	mock.Mock
}

func (m *MockObjects) List(ctx context.Context, namespace, bucket, prefix string) (services.ObjectList, error) {
	args := m.Called(ctx, namespace, bucket, prefix)
	return args.Get(0).(services.ObjectList), args.Error(1)
}

func (m *MockObjects) Upload(ctx context.Context, namespace, bucket, prefix, name, contentType string, data []byte) error {
	args := m.Called(ctx, namespace, bucket, prefix, name, contentType, data)
	return args.Error(0)
}

// MockWorkspaces mocks api.WorkspaceOpener and api.ClusterFinder.
type MockWorkspaces struct {
	mock.Mock
}

func (m *MockWorkspaces) OpenWorkspace(ctx context.Context, namespace, name string) (session.Workspace, error) {
	args := m.Called(ctx, namespace, name)
	return args.Get(0).(session.Workspace), args.Error(1)
}

func (m *MockWorkspaces) CurrentCluster(ctx context.Context, project string) (*services.Cluster, error) {
	args := m.Called(ctx, project)
	cluster, _ := args.Get(0).(*services.Cluster)
	return cluster, args.Error(1)
}

// MockLauncher mocks api.NotebookLauncher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Open(ctx context.Context, t notebook.Target, mode notebook.Mode) (notebook.Launch, error) {
	args := m.Called(ctx, t, mode)
	return args.Get(0).(notebook.Launch), args.Error(1)
}

func (m *MockLauncher) CheckLock(ctx context.Context, t notebook.Target) (notebook.Lock, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(notebook.Lock), args.Error(1)
}

func (m *MockLauncher) ChooseMode(ctx context.Context, t notebook.Target, mode notebook.Mode, lock notebook.Lock, confirmed bool) (notebook.Choice, error) {
	args := m.Called(ctx, t, mode, lock, confirmed)
	return args.Get(0).(notebook.Choice), args.Error(1)
}

type fakeApp struct {
	cfg        config.Config
	objects    *MockObjects
	workspaces *MockWorkspaces
	launcher   *MockLauncher
	reporter   *errorreport.Reporter
	closed     bool
}

func (f *fakeApp) Close() error                    { f.closed = true; return nil }
func (f *fakeApp) Logger() *zap.Logger             { return zap.NewNop() }
func (f *fakeApp) Config() config.Config           { return f.cfg }
func (f *fakeApp) Objects() app.Objects            { return f.objects }
func (f *fakeApp) Explorer() *explorer.Catalog     { return explorer.NewCatalog(nil) }
func (f *fakeApp) Reporter() *errorreport.Reporter { return f.reporter }
func (f *fakeApp) APIDeps() api.Deps {
	return api.Deps{
		Buckets:    f.objects,
		Workspaces: f.workspaces,
		Clusters:   f.workspaces,
		Launcher:   f.launcher,
		Explorer:   f.Explorer(),
		Reporter:   f.reporter,
	}
}

// withFakeApp swaps the app factory for the duration of the test. Tests using it are not parallel.
func withFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	fake := &fakeApp{objects: &MockObjects{}, workspaces: &MockWorkspaces{}, launcher: &MockLauncher{}}
	original := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger, opts app.Options) (App, error) {
		fake.cfg = cfg
		fake.reporter = errorreport.New(opts.Notifier, nil, nil)
		return fake, nil
	}
	t.Cleanup(func() { newApp = original })
	return fake
}

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

var testWorkspace = session.Workspace{Namespace: "ns", Name: "ws", BucketName: "fc-bucket", AccessLevel: "OWNER"}

func TestBucketsList(t *testing.T) {
	fake := withFakeApp(t)
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.objects.On("List", mock.Anything, "ns", "fc-bucket", "notebooks/").
		Return(services.ObjectList{Items: []services.Object{{Name: "notebooks/a.ipynb", Bucket: "fc-bucket"}}}, nil)

	out, _, err := runRoot(t, "buckets", "list", "ns", "ws", "fc-bucket", "--prefix", "notebooks/")

	require.NoError(t, err)
	assert.Contains(t, out, `"name": "notebooks/a.ipynb"`)
	assert.True(t, fake.closed)
	fake.objects.AssertExpectations(t)
}

func TestBucketsList_ReportsFailure(t *testing.T) {
	fake := withFakeApp(t)
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.objects.On("List", mock.Anything, "ns", "fc-bucket", "").Return(services.ObjectList{}, errors.New("boom"))

	_, stderr, err := runRoot(t, "buckets", "list", "ns", "ws", "fc-bucket")

	require.Error(t, err)
	assert.Contains(t, stderr, "Error listing bucket objects: boom")
}

func TestBucketsUpload(t *testing.T) {
	fake := withFakeApp(t)
	path := t.TempDir() + "/data.csv"
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o600))
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.objects.On("Upload", mock.Anything, "ns", "fc-bucket", "uploads/", "data.csv", "text/csv", []byte("a,b\n")).Return(nil)

	out, _, err := runRoot(t, "buckets", "upload", "ns", "ws", "fc-bucket", path, "--prefix", "uploads/", "--content-type", "text/csv")

	require.NoError(t, err)
	assert.Equal(t, "gs://fc-bucket/uploads/data.csv\n", out)
	fake.objects.AssertExpectations(t)
}

func TestNotebookLaunch_Preview(t *testing.T) {
	fake := withFakeApp(t)
	cluster := &services.Cluster{ClusterName: "c1", Status: services.ClusterStopped}
	target := notebook.Target{Workspace: testWorkspace, Notebook: "a.ipynb", Cluster: cluster}
	header := notebook.HeaderFor(notebook.StatusOf(cluster))
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.workspaces.On("CurrentCluster", mock.Anything, "ns").Return(cluster, nil)
	fake.launcher.On("Open", mock.Anything, target, notebook.ModeNone).
		Return(notebook.Launch{View: notebook.ViewPreview, Header: &header}, nil)

	out, _, err := runRoot(t, "notebook", "launch", "ns", "ws", "a.ipynb")

	require.NoError(t, err)
	assert.Contains(t, out, `"view": "preview"`)
	fake.launcher.AssertNotCalled(t, "ChooseMode", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotebookLaunch_EditLockedPrompts(t *testing.T) {
	fake := withFakeApp(t)
	cluster := &services.Cluster{ClusterName: "c1", Status: services.ClusterRunning, Creator: "me@example.com"}
	target := notebook.Target{Workspace: testWorkspace, Notebook: "a.ipynb", Cluster: cluster}
	lock := notebook.Lock{Locked: true, LockedBy: "other@example.com"}
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.workspaces.On("CurrentCluster", mock.Anything, "ns").Return(cluster, nil)
	fake.launcher.On("CheckLock", mock.Anything, target).Return(lock, nil)
	fake.launcher.On("ChooseMode", mock.Anything, target, notebook.ModeEdit, lock, false).
		Return(notebook.Choice{Prompt: notebook.PromptFileInUse, LockedBy: lock.LockedBy}, nil)

	out, _, err := runRoot(t, "notebook", "launch", "ns", "ws", "a.ipynb", "--mode", "edit")

	require.NoError(t, err)
	assert.Contains(t, out, `"prompt": "file-in-use"`)
	fake.launcher.AssertNotCalled(t, "Open", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotebookLaunch_PlaygroundOpensEditor(t *testing.T) {
	fake := withFakeApp(t)
	cluster := &services.Cluster{ClusterName: "c1", Status: services.ClusterRunning, ClusterURL: "https://leo/c1"}
	target := notebook.Target{Workspace: testWorkspace, Notebook: "a.ipynb", Cluster: cluster}
	fake.workspaces.On("OpenWorkspace", mock.Anything, "ns", "ws").Return(testWorkspace, nil)
	fake.workspaces.On("CurrentCluster", mock.Anything, "ns").Return(cluster, nil)
	fake.launcher.On("ChooseMode", mock.Anything, target, notebook.ModePlayground, notebook.Lock{}, true).
		Return(notebook.Choice{Mode: notebook.ModePlayground}, nil)
	fake.launcher.On("Open", mock.Anything, target, notebook.ModePlayground).
		Return(notebook.Launch{View: notebook.ViewEditor, URL: "https://leo/c1/notebooks/ws/a.ipynb"}, nil)

	out, _, err := runRoot(t, "notebook", "launch", "ns", "ws", "a.ipynb", "--mode", "Playground", "--confirm")

	require.NoError(t, err)
	assert.Contains(t, out, `"url": "https://leo/c1/notebooks/ws/a.ipynb"`)
	fake.launcher.AssertExpectations(t)
}

func TestNotebookLaunch_BadMode(t *testing.T) {
	withFakeApp(t)

	_, _, err := runRoot(t, "notebook", "launch", "ns", "ws", "a.ipynb", "--mode", "view")

	require.ErrorContains(t, err, "unknown notebook mode")
}

func TestExplorerFrame(t *testing.T) {
	withFakeApp(t)

	out, _, err := runRoot(t, "explorer", "frame", "1000 Genomes", "--query", "filter=x")

	require.NoError(t, err)
	want, err := explorer.NewCatalog(nil).FrameURL("1000 Genomes", "filter=x")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}

func TestExplorerFrame_UnknownDataset(t *testing.T) {
	withFakeApp(t)

	_, _, err := runRoot(t, "explorer", "frame", "nope")

	require.ErrorIs(t, err, explorer.ErrUnknownDataset)
}

func TestExplorerDatasets(t *testing.T) {
	withFakeApp(t)

	out, _, err := runRoot(t, "explorer", "datasets")

	require.NoError(t, err)
	assert.Contains(t, out, "UK Biobank\n")
}

func TestExplorerMessage_Import(t *testing.T) {
	withFakeApp(t)

	out, _, err := runRoot(t, "explorer", "message", "UK Biobank", `{"importDataQueryStr":"url=x"}`)

	require.NoError(t, err)
	assert.Contains(t, out, `"path": "/import-data"`)
}

func TestExplorerLibraryFrameAndMessage(t *testing.T) {
	withFakeApp(t)

	out, _, err := runRoot(t, "explorer", "library-frame", "origin=https%3A%2F%2Fde.example.org&filter=x")
	require.NoError(t, err)
	assert.Equal(t, "https://de.example.org/?embed&filter=x\n", out)

	out, _, err = runRoot(t, "explorer", "message", "Custom", `{"deQueryStr":"f=1"}`, "--path", "/library/de", "--origin", "https://de.example.org")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "#library/de?f=1&origin=https://de.example.org"`)
}

func TestResolveApp_Missing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	fake := &fakeApp{objects: &MockObjects{}, workspaces: &MockWorkspaces{}, launcher: &MockLauncher{}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serve(ctx, fake, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
