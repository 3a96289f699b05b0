// Package notebook decides how a workspace notebook is opened: a read-only preview while
// the cluster is unavailable, or the live editor in Edit or Playground mode once it runs.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/workspace-portal/internal/events"
	"github.com/JakeFAU/workspace-portal/internal/services"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

// Mode is how the editor opens a notebook.
type Mode string

// Editor modes. Playground edits are never saved back to the bucket.
const (
	ModeNone       Mode = ""
	ModeEdit       Mode = "Edit"
	ModePlayground Mode = "Playground"
)

// ParseMode accepts the mode names case-insensitively. An empty string is ModeNone.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "":
		return ModeNone, nil
	case "edit":
		return ModeEdit, nil
	case "playground":
		return ModePlayground, nil
	default:
		return ModeNone, fmt.Errorf("unknown notebook mode %q", s)
	}
}

// Status is a cluster status plus the two states before a cluster is known.
type Status string

// Launcher statuses beyond the cluster's own.
const (
	StatusLoading Status = ""
	StatusNone    Status = "None"
)

// StatusOf returns the launcher status for cluster; nil means no cluster exists.
func StatusOf(cluster *services.Cluster) Status {
	if cluster == nil {
		return StatusNone
	}
	return Status(cluster.Status)
}

// View is what the launcher page renders.
type View string

// Launcher views.
const (
	ViewLoading View = "loading"
	ViewPreview View = "preview"
	ViewEditor  View = "editor"
)

// ChooseView renders the editor only for a running cluster with a chosen mode; nothing while
// the status is loading; the preview otherwise.
func ChooseView(status Status, mode Mode) View {
	switch {
	case status == StatusLoading:
		return ViewLoading
	case status == Status(services.ClusterRunning) && mode != ModeNone:
		return ViewEditor
	default:
		return ViewPreview
	}
}

// Header is the preview header for a cluster status.
type Header struct {
	Message string `json:"message,omitempty"`
	Busy    bool   `json:"busy"`
	// Actions is set when the edit and playground buttons are offered.
	Actions bool `json:"actions"`
}

// HeaderFor returns the preview header for status.
func HeaderFor(status Status) Header {
	switch status {
	case Status(services.ClusterCreating):
		return Header{Busy: true, Message: "Creating notebook runtime environment, this will take 5-10 minutes. You can navigate away and return when it's ready."}
	case Status(services.ClusterStarting):
		return Header{Busy: true, Message: "Starting notebook runtime environment, this may take up to 2 minutes."}
	case Status(services.ClusterStopping):
		return Header{Busy: true, Message: "Notebook runtime environment is stopping. You can restart it after it finishes."}
	case Status(services.ClusterError):
		return Header{Message: "Notebook runtime error."}
	case Status(services.ClusterRunning), Status(services.ClusterStopped), StatusNone:
		return Header{Actions: true}
	default:
		return Header{}
	}
}

// Lock is the edit lock recorded in a notebook's object metadata.
type Lock struct {
	Locked   bool   `json:"locked"`
	LockedBy string `json:"lockedBy,omitempty"`
}

// LockFromMetadata reports a lock held by someone other than creator that has not expired.
func LockFromMetadata(metadata map[string]string, creator string, now time.Time) Lock {
	by := metadata["lastLockedBy"]
	if by == "" || by == creator {
		return Lock{}
	}
	expires, err := time.Parse(time.RFC3339, metadata["lockExpiration"])
	if err != nil || !expires.After(now) {
		return Lock{}
	}
	return Lock{Locked: true, LockedBy: by}
}

// recentEditWindow is how recently a notebook must have been saved to warn about edits.
const recentEditWindow = 10 * time.Minute

// RecentEditWarning is shown when the notebook was saved inside the recent-edit window.
const RecentEditWarning = "This notebook has been edited recently. If you recently edited this notebook, disregard this message. If another user is editing this notebook, your changes may be lost."

// Prompt is a confirmation the user must answer before the launcher proceeds.
type Prompt string

// Prompts.
const (
	PromptNone          Prompt = ""
	PromptCreateCluster Prompt = "create-cluster"
	PromptFileInUse     Prompt = "file-in-use"
	PromptPlayground    Prompt = "playground"
)

// Backend is the subset of the portal services the launcher calls.
type Backend interface {
	NotebookObject(ctx context.Context, namespace, bucket, notebook string) (services.Object, error)
	StartCluster(ctx context.Context, project, cluster string) error
	Localize(ctx context.Context, project, cluster string, files map[string]string) error
	SetCookie(ctx context.Context, project, cluster string) error
}

// LaunchListener is told when a notebook opens in the editor.
type LaunchListener interface {
	NotebookLaunched(ctx context.Context, ev events.NotebookLaunch)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Target is the notebook being launched. Notebook includes the .ipynb extension.
type Target struct {
	Workspace session.Workspace
	Notebook  string
	Cluster   *services.Cluster
}

func (t Target) objectName() string {
	return strings.TrimSuffix(t.Notebook, ".ipynb")
}

// Launcher orchestrates preview, mode choice and editor setup.
type Launcher struct {
	backend  Backend
	clock    Clock
	listener LaunchListener
	logger   *zap.Logger
}

// New wires a Launcher. listener may be nil.
func New(backend Backend, clock Clock, listener LaunchListener, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{backend: backend, clock: clock, listener: listener, logger: logger.Named("notebook")}
}

// ErrClusterNotRunning is returned when editor setup is attempted without a running cluster.
var ErrClusterNotRunning = errors.New("notebook: cluster is not running")

// CheckLock reads the notebook's lock metadata.
func (l *Launcher) CheckLock(ctx context.Context, t Target) (Lock, error) {
	obj, err := l.backend.NotebookObject(ctx, t.Workspace.Namespace, t.Workspace.BucketName, t.objectName())
	if err != nil {
		return Lock{}, fmt.Errorf("check notebook lock: %w", err)
	}
	creator := ""
	if t.Cluster != nil {
		creator = t.Cluster.Creator
	}
	return LockFromMetadata(obj.Metadata, creator, l.clock.Now()), nil
}

// Choice is the outcome of choosing a mode.
type Choice struct {
	Mode   Mode   `json:"mode,omitempty"`
	Prompt Prompt `json:"prompt,omitempty"`
	// StartedCluster is set when a stopped cluster was started; the caller refreshes clusters.
	StartedCluster bool   `json:"startedCluster"`
	LockedBy       string `json:"lockedBy,omitempty"`
}

// ChooseMode applies the side effects of picking mode: a stopped cluster is started and a
// missing cluster prompts for creation. Edit on a notebook locked by someone else prompts
// with the file-in-use choices instead. Playground asks for confirmation unless confirmed.
func (l *Launcher) ChooseMode(ctx context.Context, t Target, mode Mode, lock Lock, confirmed bool) (Choice, error) {
	if mode == ModeEdit && lock.Locked {
		return Choice{Prompt: PromptFileInUse, LockedBy: lock.LockedBy}, nil
	}
	if mode == ModePlayground && !confirmed {
		return Choice{Prompt: PromptPlayground}, nil
	}

	var choice Choice
	switch StatusOf(t.Cluster) {
	case Status(services.ClusterStopped):
		if err := l.backend.StartCluster(ctx, t.Workspace.Namespace, t.Cluster.ClusterName); err != nil {
			return Choice{}, fmt.Errorf("start cluster: %w", err)
		}
		l.logger.Info("cluster started for notebook", zap.String("cluster", t.Cluster.ClusterName))
		choice.StartedCluster = true
	case StatusNone:
		choice.Prompt = PromptCreateCluster
	}
	choice.Mode = mode
	return choice, nil
}

// LocalizeFiles returns the files copied onto the cluster for t: the delocalize manifest that
// syncs saves back to the bucket, and the notebook itself.
func LocalizeFiles(t Target) map[string]string {
	ws := t.Workspace
	return map[string]string{
		fmt.Sprintf("~/%s/.delocalize.json", ws.Name): fmt.Sprintf(`data:application/json,{"destination":"gs://%s/notebooks","pattern":""}`, ws.BucketName),
		fmt.Sprintf("~/%s/%s", ws.Name, t.Notebook):   fmt.Sprintf("gs://%s/notebooks/%s", ws.BucketName, t.Notebook),
	}
}

// SetUp localizes the notebook and sets the notebook-server cookie concurrently.
func (l *Launcher) SetUp(ctx context.Context, t Target, mode Mode) error {
	if StatusOf(t.Cluster) != Status(services.ClusterRunning) {
		return ErrClusterNotRunning
	}
	project, cluster := t.Workspace.Namespace, t.Cluster.ClusterName
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return l.backend.Localize(egCtx, project, cluster, LocalizeFiles(t))
	})
	eg.Go(func() error {
		return l.backend.SetCookie(egCtx, project, cluster)
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("set up notebook: %w", err)
	}
	l.logger.Debug("notebook set up", zap.String("notebook", t.Notebook), zap.String("mode", string(mode)))
	return nil
}

// RecentlyEdited reports whether the notebook object was updated in the last ten minutes.
func (l *Launcher) RecentlyEdited(ctx context.Context, t Target) (bool, error) {
	obj, err := l.backend.NotebookObject(ctx, t.Workspace.Namespace, t.Workspace.BucketName, t.objectName())
	if err != nil {
		return false, fmt.Errorf("check recent access: %w", err)
	}
	return obj.Updated.After(l.clock.Now().Add(-recentEditWindow)), nil
}

// EditorURL is the Jupyter URL of the localized notebook.
func EditorURL(cluster *services.Cluster, workspaceName, notebook string) string {
	return fmt.Sprintf("%s/notebooks/%s/%s", cluster.ClusterURL, workspaceName, notebook)
}

// Launch is the result of opening a notebook.
type Launch struct {
	View    View    `json:"view"`
	Header  *Header `json:"header,omitempty"`
	Lock    *Lock   `json:"lock,omitempty"`
	URL     string  `json:"url,omitempty"`
	Warning string  `json:"warning,omitempty"`
}

// Open resolves what to show for t in mode. The editor path sets the notebook up, checks for
// recent edits and announces the launch; the preview path reports the header and lock.
func (l *Launcher) Open(ctx context.Context, t Target, mode Mode) (Launch, error) {
	status := StatusOf(t.Cluster)
	view := ChooseView(status, mode)
	switch view {
	case ViewLoading:
		return Launch{View: view}, nil
	case ViewPreview:
		header := HeaderFor(status)
		out := Launch{View: view, Header: &header}
		if header.Actions {
			lock, err := l.CheckLock(ctx, t)
			if err != nil {
				return Launch{}, err
			}
			out.Lock = &lock
		}
		return out, nil
	}

	if err := l.SetUp(ctx, t, mode); err != nil {
		return Launch{}, err
	}
	out := Launch{View: view, URL: EditorURL(t.Cluster, t.Workspace.Name, t.Notebook)}
	recent, err := l.RecentlyEdited(ctx, t)
	if err != nil {
		l.logger.Warn("recent edit check failed", zap.Error(err))
	} else if recent {
		out.Warning = RecentEditWarning
	}
	if l.listener != nil {
		l.listener.NotebookLaunched(ctx, events.NotebookLaunch{
			Namespace: t.Workspace.Namespace,
			Workspace: t.Workspace.Name,
			Notebook:  t.Notebook,
			Cluster:   t.Cluster.ClusterName,
			Mode:      string(mode),
		})
	}
	return out, nil
}
