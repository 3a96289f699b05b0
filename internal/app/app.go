// Package app builds the portal's long-lived services from configuration, acting as a
// dependency injection container for the CLI and the gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/api"
	"github.com/JakeFAU/workspace-portal/internal/clock/system"
	"github.com/JakeFAU/workspace-portal/internal/config"
	"github.com/JakeFAU/workspace-portal/internal/errorreport"
	"github.com/JakeFAU/workspace-portal/internal/events"
	"github.com/JakeFAU/workspace-portal/internal/explorer"
	"github.com/JakeFAU/workspace-portal/internal/id/uuid"
	"github.com/JakeFAU/workspace-portal/internal/metrics"
	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/overrides"
	memorypublisher "github.com/JakeFAU/workspace-portal/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/workspace-portal/internal/publisher/pubsub"
	"github.com/JakeFAU/workspace-portal/internal/services"
	"github.com/JakeFAU/workspace-portal/internal/session"
	"github.com/JakeFAU/workspace-portal/internal/storage/gcs"
)

// Objects lists and uploads bucket objects through either the storage JSON façade or the
// native client.
type Objects interface {
	List(ctx context.Context, namespace, bucket, prefix string) (services.ObjectList, error)
	Upload(ctx context.Context, namespace, bucket, prefix, name, contentType string, data []byte) error
}

// Options override collaborators that would otherwise be built from configuration.
type Options struct {
	HTTPClient *http.Client
	// StorageOptions are passed to the native storage client.
	StorageOptions []option.ClientOption
	// PubSubOptions are passed to the Pub/Sub client.
	PubSubOptions []option.ClientOption
	Notifier      errorreport.Notifier
}

// App holds all the shared, long-lived services for the portal.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	session  *session.Store
	ajax     *services.Ajax
	objects  Objects
	emitter  *events.Emitter
	launcher *notebook.Launcher
	catalog  *explorer.Catalog
	reporter *errorreport.Reporter
	watcher  *overrides.Watcher
	closers  []func() error
}

// New creates and initializes an App from cfg. It fails fast if any configured backend
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing portal services",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)

	recorder := metrics.NewRecorder()
	clock := system.New()

	a.session = session.New()
	a.session.SetRequesterPaysProject(cfg.Session.RequesterPaysProject)

	pub, err := a.newPublisher(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.emitter = events.NewEmitter(pub, recorder, clock, logger)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout()}
	}
	a.ajax, err = services.New(services.Options{
		Config:     cfg.ServiceURLs(),
		HTTPClient: httpClient,
		Session:    a.session,
		Tokens:     services.StaticToken(cfg.Auth.Token),
		Observer:   recorder,
		IDs:        uuid.New(),
		Logger:     logger,
		Clock:      clock,
		Listeners:  []ajax.RequesterPaysListener{a.emitter},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init services: %w", err)
	}

	if a.objects, err = a.newObjects(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.launcher = notebook.New(notebook.NewBackend(a.ajax), clock, a.emitter, logger)
	a.catalog = explorer.NewCatalog(cfg.Explorer.Origins())
	a.reporter = errorreport.New(opts.Notifier, recorder, logger)

	if cfg.Overrides.File != "" {
		a.watcher, err = overrides.NewWatcher(cfg.Overrides.File, a.session.Overrides(), logger, metrics.ObserveOverrideReload)
		if err == nil {
			err = a.watcher.Start(ctx)
		}
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init overrides: %w", err)
		}
		a.closers = append(a.closers, a.watcher.Stop)
	}

	logger.Info("portal services initialized")
	return a, nil
}

func (a *App) newPublisher(ctx context.Context, opts Options) (events.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, opts.PubSubOptions...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.closers = append(a.closers, pub.Close, client.Close)
	a.logger.Info("publishing events to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

func (a *App) newObjects(ctx context.Context, opts Options) (Objects, error) {
	if a.cfg.Storage.Backend != config.StorageGCS {
		return a.ajax.Buckets, nil
	}
	storageOpts := opts.StorageOptions
	if a.cfg.Storage.Endpoint != "" {
		storageOpts = append([]option.ClientOption{
			option.WithEndpoint(a.cfg.Storage.Endpoint),
			option.WithoutAuthentication(),
		}, storageOpts...)
	}
	client, err := storage.NewClient(ctx, storageOpts...)
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	store, err := gcs.New(client, a.session, a.emitter)
	if err != nil {
		return nil, fmt.Errorf("init gcs store: %w", err)
	}
	return nativeObjects{store: store}, nil
}

// nativeObjects adapts the GCS store's upload to the façade's shape.
type nativeObjects struct {
	store *gcs.BlobStore
}

func (n nativeObjects) List(ctx context.Context, namespace, bucket, prefix string) (services.ObjectList, error) {
	return n.store.List(ctx, namespace, bucket, prefix)
}

func (n nativeObjects) Upload(ctx context.Context, _, bucket, prefix, name, contentType string, data []byte) error {
	_, err := n.store.PutObject(ctx, bucket, prefix+name, contentType, data)
	return err
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Session returns the session store.
func (a *App) Session() *session.Store { return a.session }

// Services returns the backend façades.
func (a *App) Services() *services.Ajax { return a.ajax }

// Objects returns the configured bucket object backend.
func (a *App) Objects() Objects { return a.objects }

// Launcher returns the notebook launcher.
func (a *App) Launcher() *notebook.Launcher { return a.launcher }

// Explorer returns the Data Explorer catalog.
func (a *App) Explorer() *explorer.Catalog { return a.catalog }

// Reporter returns the error reporter.
func (a *App) Reporter() *errorreport.Reporter { return a.reporter }

// OpenWorkspace loads a workspace with the caller's access level.
func (a *App) OpenWorkspace(ctx context.Context, namespace, name string) (session.Workspace, error) {
	return a.ajax.Workspaces.Workspace(namespace, name).Open(ctx)
}

// CurrentCluster returns the newest live portal cluster in project.
func (a *App) CurrentCluster(ctx context.Context, project string) (*services.Cluster, error) {
	clusters, err := a.ajax.Jupyter.ClustersList(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return services.CurrentCluster(clusters), nil
}

// APIDeps wires the gateway routes to this App.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Buckets:    a.objects,
		Workspaces: a,
		Clusters:   a,
		Launcher:   a.launcher,
		Explorer:   a.catalog,
		Reporter:   a.reporter,
	}
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing portal services", zap.Error(err))
		return err
	}
	return nil
}
