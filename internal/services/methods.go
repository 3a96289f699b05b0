package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Methods is the Agora method repository façade.
type Methods struct {
	c *client
}

// List searches methods.
func (m *Methods) List(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.agora, http.MethodGet, withQuery("methods", params), withAuth())
}

// ConfigInputsOutputs returns the inputs and outputs of a config's method.
func (m *Methods) ConfigInputsOutputs(ctx context.Context, methodRepoMethod any) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.rawls, http.MethodPost, "methodconfigs/inputsOutputs", withAuth(), withJSON(methodRepoMethod))
}

// Template returns a blank configuration for a method.
func (m *Methods) Template(ctx context.Context, method any) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.rawls, http.MethodPost, "methodconfigs/template", withAuth(), withJSON(method))
}

// Method scopes operations to one method snapshot.
func (m *Methods) Method(namespace, name string, snapshotID int) *Method {
	return &Method{
		c:          m.c,
		namespace:  namespace,
		name:       name,
		snapshotID: snapshotID,
		root:       fmt.Sprintf("methods/%s/%s/%d", namespace, name, snapshotID),
	}
}

// Method is one method snapshot.
type Method struct {
	c          *client
	namespace  string
	name       string
	snapshotID int
	root       string
}

// Get returns the snapshot.
func (m *Method) Get(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.agora, http.MethodGet, m.root, withAuth())
}

// Configs lists configurations published for the snapshot.
func (m *Method) Configs(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.agora, http.MethodGet, m.root+"/configurations", withAuth())
}

// ToWorkspace creates a method configuration for the snapshot in workspace. overrides is
// deep-merged over the default configuration.
func (m *Method) ToWorkspace(ctx context.Context, workspace WorkspaceName, overrides map[string]any) (json.RawMessage, error) {
	config := map[string]any{
		"methodRepoMethod": map[string]any{
			"methodUri": fmt.Sprintf("agora://%s/%s/%d", m.namespace, m.name, m.snapshotID),
		},
		"name":                m.name,
		"namespace":           m.namespace,
		"rootEntityType":      "",
		"prerequisites":       map[string]any{},
		"inputs":              map[string]any{},
		"outputs":             map[string]any{},
		"methodConfigVersion": 1,
		"deleted":             false,
	}
	mergeDeep(config, overrides)
	path := fmt.Sprintf("workspaces/%s/%s/methodconfigs", workspace.Namespace, workspace.Name)
	return callRaw(ctx, m.c, m.c.rawls, http.MethodPost, path, withAuth(), withJSON(config))
}

// mergeDeep copies src into dst, recursing into nested maps.
func mergeDeep(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if existing, isMap := dst[k].(map[string]any); ok && isMap {
			mergeDeep(existing, sub)
			continue
		}
		dst[k] = v
	}
}

// Submissions is the Rawls submission queue façade.
type Submissions struct {
	c *client
}

// QueueStatus returns workflow queue depth and wait estimates.
func (s *Submissions) QueueStatus(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, s.c, s.c.rawls, http.MethodGet, "submissions/queueStatus", withAuth())
}

// Dockstore is the Dockstore GA4GH tools façade. Its calls are unauthenticated.
type Dockstore struct {
	c *client
}

// dockstoreMethodPath is the versions path of a workflow; %23 is '#' and %2F is '/'.
func dockstoreMethodPath(path string) string {
	return "api/ga4gh/v1/tools/%23workflow%2F" + escapeComponent(path) + "/versions"
}

// GetWdl returns the WDL descriptor of one version.
func (d *Dockstore) GetWdl(ctx context.Context, path, version string) (json.RawMessage, error) {
	return callRaw(ctx, d.c, d.c.dockstore, http.MethodGet, dockstoreMethodPath(path)+"/"+escapeComponent(version)+"/WDL/descriptor")
}

// GetVersions lists a workflow's versions.
func (d *Dockstore) GetVersions(ctx context.Context, path string) (json.RawMessage, error) {
	return callRaw(ctx, d.c, d.c.dockstore, http.MethodGet, dockstoreMethodPath(path))
}

// Martha is the data-object resolution façade.
type Martha struct {
	c *client
}

// GetDataObjectMetadata resolves a drs:// or dos:// URI.
func (m *Martha) GetDataObjectMetadata(ctx context.Context, uri string) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.martha, http.MethodPost, "martha_v2", withAppID(), withJSON(map[string]string{"url": uri}))
}

// SignedURLRequest names the object to sign.
type SignedURLRequest struct {
	Bucket        string `json:"bucket"`
	Object        string `json:"object"`
	DataObjectURI string `json:"dataObjectUri,omitempty"`
}

// GetSignedURL returns a signed download URL.
func (m *Martha) GetSignedURL(ctx context.Context, req SignedURLRequest) (json.RawMessage, error) {
	return callRaw(ctx, m.c, m.c.martha, http.MethodPost, "getSignedUrlV1", withAuth(), withAppID(), withJSON(req))
}

// Duos is the data-use-oversight façade.
type Duos struct {
	c *client
}

// GetConsent returns the consent record for an ORSP id.
func (d *Duos) GetConsent(ctx context.Context, orspID string) (json.RawMessage, error) {
	return callRaw(ctx, d.c, d.c.orchestration, http.MethodGet, "api/duos/consent/orsp/"+orspID, withAuth())
}
