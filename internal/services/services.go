// Package services exposes one façade per portal backend. Each façade is a thin layer over a
// request pipeline that carries the backend's base URL and headers; it supplies the method,
// path suffix and JSON body for every REST operation and leaves validation to the server.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/session"
)

// Config holds the backend base URLs. Roots carry no trailing slash.
type Config struct {
	SamURL              string
	RawlsURL            string
	LeoURL              string
	DockstoreURL        string
	AgoraURL            string
	OrchestrationURL    string
	RexURL              string
	BondURL             string
	MarthaURL           string
	CalhounURL          string
	TosURL              string
	FirecloudBucketRoot string
	GoogleStorageURL    string
	GoogleBillingURL    string

	AppID               string
	GoogleClientID      string
	JupyterExtensionURL string
	ClusterVersion      string
}

// Defaults for the Google endpoints.
const (
	DefaultGoogleStorageURL = "https://www.googleapis.com"
	DefaultGoogleBillingURL = "https://cloudbilling.googleapis.com/v1"
)

// TokenSource supplies the signed-in user's access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns t.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("services: no user token")
	}
	return string(t), nil
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Options wires the façades to their collaborators. Session and Tokens are required.
type Options struct {
	Config     Config
	HTTPClient *http.Client
	Session    *session.Store
	Tokens     TokenSource
	Observer   ajax.Observer
	IDs        ajax.IDGenerator
	Logger     *zap.Logger
	Clock      Clock
	// Listeners are told when the buckets façade first flags a requester-pays bucket.
	Listeners []ajax.RequesterPaysListener
}

// Ajax aggregates every backend façade.
type Ajax struct {
	User          *User
	Groups        *Groups
	Billing       *Billing
	Workspaces    *Workspaces
	Buckets       *Buckets
	GoogleBilling *GoogleBilling
	Methods       *Methods
	Submissions   *Submissions
	Jupyter       *Jupyter
	Dockstore     *Dockstore
	Martha        *Martha
	Duos          *Duos
}

// client owns the per-backend pipelines shared by all façades.
type client struct {
	cfg      Config
	tokens   TokenSource
	session  *session.Store
	saTokens *saTokenCache
	logger   *zap.Logger

	fetch         *ajax.Pipeline
	sam           *ajax.Pipeline
	rawls         *ajax.Pipeline
	leo           *ajax.Pipeline
	dockstore     *ajax.Pipeline
	agora         *ajax.Pipeline
	orchestration *ajax.Pipeline
	rex           *ajax.Pipeline
	bond          *ajax.Pipeline
	martha        *ajax.Pipeline
	calhoun       *ajax.Pipeline
	tos           *ajax.Pipeline
	buckets       *ajax.Pipeline
	googleBilling *ajax.Pipeline
}

// New builds every façade over a shared fetchOk pipeline.
func New(opts Options) (*Ajax, error) {
	if opts.Session == nil {
		return nil, errors.New("services: session store is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("services: token source is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	cfg := opts.Config
	if cfg.GoogleStorageURL == "" {
		cfg.GoogleStorageURL = DefaultGoogleStorageURL
	}
	if cfg.GoogleBillingURL == "" {
		cfg.GoogleBillingURL = DefaultGoogleBillingURL
	}
	if cfg.AppID == "" {
		cfg.AppID = ajax.DefaultAppID
	}

	logger := opts.Logger.Named("ajax")
	fetchOk := ajax.NewFetchOk(opts.HTTPClient, opts.Session.Overrides())
	backend := func(service, prefix string, extra ...ajax.Stage) *ajax.Pipeline {
		stages := []ajax.Stage{}
		if prefix != "" {
			stages = append(stages, ajax.URLPrefix(prefix))
		}
		stages = append(stages, extra...)
		stages = append(stages,
			ajax.Observe(service, opts.Observer),
			ajax.RequestID(opts.IDs, logger.With(zap.String("service", service))),
		)
		return fetchOk.Extend(stages...)
	}
	appID := ajax.AppIdentifier(cfg.AppID)

	c := &client{
		cfg:     cfg,
		tokens:  opts.Tokens,
		session: opts.Session,
		logger:  logger,

		fetch:         backend("direct", ""),
		sam:           backend("sam", cfg.SamURL+"/", appID),
		rawls:         backend("rawls", cfg.RawlsURL+"/api/", appID),
		leo:           backend("leo", cfg.LeoURL+"/"),
		dockstore:     backend("dockstore", cfg.DockstoreURL+"/api/"),
		agora:         backend("agora", cfg.AgoraURL+"/api/v1/", appID),
		orchestration: backend("orchestration", cfg.OrchestrationURL+"/", appID),
		rex:           backend("rex", cfg.RexURL+"/api/"),
		bond:          backend("bond", cfg.BondURL+"/"),
		martha:        backend("martha", cfg.MarthaURL+"/"),
		calhoun:       backend("calhoun", cfg.CalhounURL+"/"),
		tos:           backend("tos", cfg.TosURL+"/"),
		buckets: backend("storage", cfg.GoogleStorageURL+"/",
			ajax.RequesterPays(opts.Session, opts.Listeners...)),
		googleBilling: backend("cloudbilling", cfg.GoogleBillingURL+"/"),
	}
	c.saTokens = newSATokenCache(c.requestSAToken, opts.Clock, saTokenTTL)

	return &Ajax{
		User:          &User{c: c},
		Groups:        &Groups{c: c},
		Billing:       &Billing{c: c},
		Workspaces:    &Workspaces{c: c},
		Buckets:       &Buckets{c: c},
		GoogleBilling: &GoogleBilling{c: c},
		Methods:       &Methods{c: c},
		Submissions:   &Submissions{c: c},
		Jupyter:       &Jupyter{c: c},
		Dockstore:     &Dockstore{c: c},
		Martha:        &Martha{c: c},
		Duos:          &Duos{c: c},
	}, nil
}

// SAToken returns the pet service account token for namespace, memoized per user token.
func (a *Ajax) SAToken(ctx context.Context, namespace string) (string, error) {
	return a.User.c.saToken(ctx, namespace)
}

// callOption mutates an outgoing request. It may need the client to fetch tokens.
type callOption func(ctx context.Context, c *client, req *ajax.Request) error

// withAuth attaches the user's bearer token.
func withAuth() callOption {
	return func(ctx context.Context, c *client, req *ajax.Request) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("user token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// withSAToken attaches the pet service account token for namespace.
func withSAToken(namespace string) callOption {
	return func(ctx context.Context, c *client, req *ajax.Request) error {
		token, err := c.saToken(ctx, namespace)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func withJSON(body any) callOption {
	return func(_ context.Context, _ *client, req *ajax.Request) error {
		return req.SetJSON(body)
	}
}

func withBody(contentType string, body []byte) callOption {
	return func(_ context.Context, _ *client, req *ajax.Request) error {
		req.Body = body
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		return nil
	}
}

func withHeader(key, value string) callOption {
	return func(_ context.Context, _ *client, req *ajax.Request) error {
		req.Header.Set(key, value)
		return nil
	}
}

// withAppID sets the app identifier on backends whose pipeline does not.
func withAppID() callOption {
	return func(_ context.Context, c *client, req *ajax.Request) error {
		req.Header.Set("X-App-ID", c.cfg.AppID)
		return nil
	}
}

func (c *client) call(ctx context.Context, p *ajax.Pipeline, method, path string, opts ...callOption) (*ajax.Response, error) {
	req := ajax.NewRequest(method, path)
	for _, opt := range opts {
		if err := opt(ctx, c, req); err != nil {
			return nil, err
		}
	}
	return p.Do(ctx, req)
}

// callJSON performs the call and decodes the JSON response into T.
func callJSON[T any](ctx context.Context, c *client, p *ajax.Pipeline, method, path string, opts ...callOption) (T, error) {
	var zero T
	res, err := c.call(ctx, p, method, path, opts...)
	if err != nil {
		return zero, err
	}
	return ajax.DecodeJSON[T](res)
}

// callRaw returns the response body as raw JSON.
func callRaw(ctx context.Context, c *client, p *ajax.Pipeline, method, path string, opts ...callOption) (json.RawMessage, error) {
	res, err := c.call(ctx, p, method, path, opts...)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Body), nil
}

// callNoContent discards the response body.
func callNoContent(ctx context.Context, c *client, p *ajax.Pipeline, method, path string, opts ...callOption) error {
	_, err := c.call(ctx, p, method, path, opts...)
	return err
}

// escapeComponent escapes s the way a browser's encodeURIComponent does.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// withQuery appends the non-empty params to path in sorted order.
func withQuery(path string, params url.Values) string {
	for k, vs := range params {
		if len(vs) == 0 || (len(vs) == 1 && vs[0] == "") {
			delete(params, k)
		}
	}
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
