package services

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ClusterStatus is a Leonardo cluster lifecycle state.
type ClusterStatus string

// Cluster states reported by Leonardo.
const (
	ClusterCreating ClusterStatus = "Creating"
	ClusterStarting ClusterStatus = "Starting"
	ClusterStopping ClusterStatus = "Stopping"
	ClusterStopped  ClusterStatus = "Stopped"
	ClusterRunning  ClusterStatus = "Running"
	ClusterError    ClusterStatus = "Error"
	ClusterDeleting ClusterStatus = "Deleting"
)

// Cluster is the subset of Leonardo cluster fields the portal reads.
type Cluster struct {
	ClusterName   string            `json:"clusterName"`
	GoogleProject string            `json:"googleProject"`
	Status        ClusterStatus     `json:"status"`
	Creator       string            `json:"creator"`
	ClusterURL    string            `json:"clusterUrl"`
	CreatedDate   time.Time         `json:"createdDate"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// clusterScopes are granted to every portal-created cluster.
var clusterScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Jupyter is the Leonardo notebook-cluster façade.
type Jupyter struct {
	c *client
}

// ClustersList lists portal-created clusters, optionally only in project.
func (j *Jupyter) ClustersList(ctx context.Context, project string) ([]Cluster, error) {
	path := "api/clusters"
	if project != "" {
		path += "/" + project
	}
	return callJSON[[]Cluster](ctx, j.c, j.c.leo, http.MethodGet, path+"?saturnAutoCreated=true", withAuth(), withAppID())
}

// CurrentCluster picks the newest cluster that is not being deleted, or nil.
func CurrentCluster(clusters []Cluster) *Cluster {
	var current *Cluster
	for i := range clusters {
		c := &clusters[i]
		if c.Status == ClusterDeleting {
			continue
		}
		if current == nil || c.CreatedDate.After(current.CreatedDate) {
			current = c
		}
	}
	return current
}

// Cluster scopes operations to one cluster.
func (j *Jupyter) Cluster(project, name string) *ClusterOps {
	return &ClusterOps{c: j.c, project: project, name: name, root: fmt.Sprintf("api/cluster/%s/%s", project, name)}
}

// Notebooks scopes notebook-server operations to one cluster.
func (j *Jupyter) Notebooks(project, name string) *NotebookServer {
	return &NotebookServer{c: j.c, root: fmt.Sprintf("notebooks/%s/%s", project, name)}
}

// ClusterOps operates on one cluster.
type ClusterOps struct {
	c       *client
	project string
	name    string
	root    string
}

// Details returns the cluster.
func (o *ClusterOps) Details(ctx context.Context) (Cluster, error) {
	return callJSON[Cluster](ctx, o.c, o.c.leo, http.MethodGet, o.root, withAuth(), withAppID())
}

// Create creates the cluster. options is deep-merged under the portal's labels, client id,
// Jupyter extension config and scopes, which always win.
func (o *ClusterOps) Create(ctx context.Context, options map[string]any) error {
	body := map[string]any{}
	mergeDeep(body, options)
	mergeDeep(body, map[string]any{
		"labels": map[string]any{
			"saturnAutoCreated": "true",
			"saturnVersion":     o.c.cfg.ClusterVersion,
		},
		"defaultClientId": o.c.cfg.GoogleClientID,
		"userJupyterExtensionConfig": map[string]any{
			"nbExtensions": map[string]any{
				"saturn-iframe-extension": o.c.cfg.JupyterExtensionURL,
			},
			"labExtensions":      map[string]any{},
			"serverExtensions":   map[string]any{},
			"combinedExtensions": map[string]any{},
		},
		"scopes": clusterScopes,
	})
	path := fmt.Sprintf("api/cluster/v2/%s/%s", o.project, o.name)
	return callNoContent(ctx, o.c, o.c.leo, http.MethodPut, path, withAuth(), withJSON(body), withAppID())
}

// Start starts a stopped cluster.
func (o *ClusterOps) Start(ctx context.Context) error {
	return callNoContent(ctx, o.c, o.c.leo, http.MethodPost, o.root+"/start", withAuth(), withAppID())
}

// Stop stops a running cluster.
func (o *ClusterOps) Stop(ctx context.Context) error {
	return callNoContent(ctx, o.c, o.c.leo, http.MethodPost, o.root+"/stop", withAuth(), withAppID())
}

// Delete deletes the cluster.
func (o *ClusterOps) Delete(ctx context.Context) error {
	return callNoContent(ctx, o.c, o.c.leo, http.MethodDelete, o.root, withAuth(), withAppID())
}

// NotebookServer is the Jupyter server proxied by Leonardo.
type NotebookServer struct {
	c    *client
	root string
}

// Localize copies files between the cluster and buckets. Keys are destinations, values sources.
func (n *NotebookServer) Localize(ctx context.Context, files map[string]string) error {
	return callNoContent(ctx, n.c, n.c.leo, http.MethodPost, n.root+"/api/localize", withAuth(), withJSON(files))
}

// SetCookie sets the Leonardo auth cookie for the notebook server.
func (n *NotebookServer) SetCookie(ctx context.Context) error {
	return callNoContent(ctx, n.c, n.c.leo, http.MethodGet, n.root+"/setCookie", withAuth())
}
