package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/errorreport"
	"github.com/JakeFAU/workspace-portal/internal/explorer"
	"github.com/JakeFAU/workspace-portal/internal/metrics"
	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/services"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

// statusClientClosed is returned when the caller went away mid-call.
const statusClientClosed = 499

// BucketLister lists one level of a bucket.
type BucketLister interface {
	List(ctx context.Context, namespace, bucket, prefix string) (services.ObjectList, error)
}

// WorkspaceOpener loads a workspace and makes it current for billing decisions.
type WorkspaceOpener interface {
	OpenWorkspace(ctx context.Context, namespace, name string) (session.Workspace, error)
}

// ClusterFinder returns the user's current cluster in project, nil when there is none.
type ClusterFinder interface {
	CurrentCluster(ctx context.Context, project string) (*services.Cluster, error)
}

// NotebookLauncher opens notebooks and applies mode choices.
type NotebookLauncher interface {
	Open(ctx context.Context, t notebook.Target, mode notebook.Mode) (notebook.Launch, error)
	CheckLock(ctx context.Context, t notebook.Target) (notebook.Lock, error)
	ChooseMode(ctx context.Context, t notebook.Target, mode notebook.Mode, lock notebook.Lock, confirmed bool) (notebook.Choice, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Buckets    BucketLister
	Workspaces WorkspaceOpener
	Clusters   ClusterFinder
	Launcher   NotebookLauncher
	Explorer   *explorer.Catalog
	Reporter   *errorreport.Reporter
}

// Server wires HTTP handlers to the portal façades.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Reporter == nil {
		deps.Reporter = errorreport.New(nil, nil, logger)
	}
	s := &Server{deps: deps, logger: logger}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/workspaces/{namespace}/{name}", func(r chi.Router) {
			r.Get("/buckets/{bucket}/objects", s.listObjects)
			r.Get("/notebooks/{notebook}/launch", s.launchNotebook)
			r.Post("/notebooks/{notebook}/mode", s.chooseMode)
		})
		r.Route("/explorer/{dataset}", func(r chi.Router) {
			r.Get("/frame", s.explorerFrame)
			r.Post("/messages", s.explorerMessage)
		})
		r.Route("/library/explorer", func(r chi.Router) {
			r.Get("/frame", s.libraryExplorerFrame)
			r.Post("/{dataset}/messages", s.libraryExplorerMessage)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace, name := pathParam(r, "namespace"), pathParam(r, "name")
	ws, err := s.deps.Workspaces.OpenWorkspace(ctx, namespace, name)
	if err != nil {
		s.fail(w, r, "Error loading workspace", err)
		return
	}
	list, err := s.deps.Buckets.List(session.WithWorkspace(ctx, ws), namespace, pathParam(r, "bucket"), r.URL.Query().Get("prefix"))
	if err != nil {
		s.fail(w, r, "Error listing bucket objects", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// notebookTarget resolves the route's notebook and returns the request context carrying its
// workspace.
func (s *Server) notebookTarget(r *http.Request) (context.Context, notebook.Target, error) {
	ctx := r.Context()
	ws, err := s.deps.Workspaces.OpenWorkspace(ctx, pathParam(r, "namespace"), pathParam(r, "name"))
	if err != nil {
		return ctx, notebook.Target{}, err
	}
	ctx = session.WithWorkspace(ctx, ws)
	cluster, err := s.deps.Clusters.CurrentCluster(ctx, ws.Namespace)
	if err != nil {
		return ctx, notebook.Target{}, err
	}
	return ctx, notebook.Target{Workspace: ws, Notebook: pathParam(r, "notebook"), Cluster: cluster}, nil
}

func (s *Server) launchNotebook(w http.ResponseWriter, r *http.Request) {
	mode, err := notebook.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, target, err := s.notebookTarget(r)
	if err != nil {
		s.fail(w, r, "Error loading notebook runtime", err)
		return
	}
	launch, err := s.deps.Launcher.Open(ctx, target, mode)
	if err != nil {
		s.fail(w, r, "Error launching notebook", err)
		return
	}
	writeJSON(w, http.StatusOK, launch)
}

type chooseModeRequest struct {
	Mode      string `json:"mode"`
	Confirmed bool   `json:"confirmed"`
}

func (s *Server) chooseMode(w http.ResponseWriter, r *http.Request) {
	var req chooseModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := notebook.ParseMode(req.Mode)
	if err != nil || mode == notebook.ModeNone {
		writeError(w, http.StatusBadRequest, "mode must be Edit or Playground")
		return
	}
	ctx, target, err := s.notebookTarget(r)
	if err != nil {
		s.fail(w, r, "Error loading notebook runtime", err)
		return
	}
	var lock notebook.Lock
	if mode == notebook.ModeEdit {
		if lock, err = s.deps.Launcher.CheckLock(ctx, target); err != nil {
			s.fail(w, r, "Error checking notebook lock", err)
			return
		}
	}
	choice, err := s.deps.Launcher.ChooseMode(ctx, target, mode, lock, req.Confirmed)
	if err != nil {
		s.fail(w, r, "Error starting notebook runtime", err)
		return
	}
	writeJSON(w, http.StatusOK, choice)
}

func (s *Server) explorerFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.deps.Explorer.FrameURL(pathParam(r, "dataset"), r.URL.RawQuery)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"src": frame})
}

type explorerMessageRequest struct {
	Path    string           `json:"path"`
	Message explorer.Message `json:"message"`
}

func (s *Server) explorerMessage(w http.ResponseWriter, r *http.Request) {
	dataset := pathParam(r, "dataset")
	if _, err := s.deps.Explorer.Origin(dataset); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req explorerMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, explorer.HandleMessage(dataset, req.Path, req.Message))
}

func (s *Server) libraryExplorerFrame(w http.ResponseWriter, r *http.Request) {
	frame, origin, err := explorer.LibraryFrameURL(r.URL.RawQuery)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"src": frame, "origin": origin})
}

type libraryMessageRequest struct {
	Path    string           `json:"path"`
	Origin  string           `json:"origin"`
	Message explorer.Message `json:"message"`
}

func (s *Server) libraryExplorerMessage(w http.ResponseWriter, r *http.Request) {
	var req libraryMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Origin == "" {
		writeError(w, http.StatusBadRequest, explorer.ErrMissingOrigin.Error())
		return
	}
	writeJSON(w, http.StatusOK, explorer.HandleLibraryMessage(pathParam(r, "dataset"), req.Path, req.Origin, req.Message))
}

// fail reports err and maps it to a response: backend failures keep their status, requester
// pays failures say so, abandoned calls get 499.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, title string, err error) {
	s.deps.Reporter.Report(r.Context(), title, err)
	switch {
	case ajax.IsAbandoned(err):
		w.WriteHeader(statusClientClosed)
	case ajax.IsRequesterPays(err):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": title, "requesterPays": true})
	case errors.Is(err, notebook.ErrClusterNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case ajax.StatusOf(err) != 0:
		writeError(w, ajax.StatusOf(err), title)
	default:
		writeError(w, http.StatusBadGateway, title)
	}
}

// pathParam returns the unescaped route parameter; chi matches on the raw path when it has
// escapes, so names with spaces or slashes arrive encoded.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
