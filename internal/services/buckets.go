package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// previewRange bounds object previews unless the full object is requested.
const previewRange = "bytes=0-20000"

// Object is a storage object's metadata.
type Object struct {
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Size        string            `json:"size,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Updated     time.Time         `json:"updated"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ObjectList is one page of a bucket listing with the "/" delimiter applied.
type ObjectList struct {
	Prefixes      []string `json:"prefixes,omitempty"`
	Items         []Object `json:"items,omitempty"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// Buckets is the Google Cloud Storage façade. Its pipeline carries the requester-pays
// stage and every call authenticates with the workspace's pet service account.
type Buckets struct {
	c *client
}

func objectPath(bucket, object string) string {
	return fmt.Sprintf("storage/v1/b/%s/o/%s", bucket, escapeComponent(object))
}

// GetObject returns an object's metadata.
func (b *Buckets) GetObject(ctx context.Context, namespace, bucket, object string) (Object, error) {
	return callJSON[Object](ctx, b.c, b.c.buckets, http.MethodGet, objectPath(bucket, object), withSAToken(namespace))
}

// GetObjectPreview returns the first 20000 bytes of an object, or all of it when full is set.
func (b *Buckets) GetObjectPreview(ctx context.Context, namespace, bucket, object string, full bool) ([]byte, error) {
	opts := []callOption{withSAToken(namespace)}
	if !full {
		opts = append(opts, withHeader("Range", previewRange))
	}
	res, err := b.c.call(ctx, b.c.buckets, http.MethodGet, objectPath(bucket, object)+"?alt=media", opts...)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// GetServiceAlerts returns the service alerts published in the FireCloud bucket.
func (b *Buckets) GetServiceAlerts(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, b.c, b.c.fetch, http.MethodGet, b.c.cfg.FirecloudBucketRoot+"/alerts.json")
}

// ListNotebooks lists the .ipynb objects under notebooks/ in bucket.
func (b *Buckets) ListNotebooks(ctx context.Context, namespace, bucket string) ([]Object, error) {
	list, err := callJSON[ObjectList](ctx, b.c, b.c.buckets, http.MethodGet,
		"storage/v1/b/"+bucket+"/o?prefix=notebooks/", withSAToken(namespace))
	if err != nil {
		return nil, err
	}
	notebooks := make([]Object, 0, len(list.Items))
	for _, item := range list.Items {
		if strings.HasSuffix(item.Name, ".ipynb") {
			notebooks = append(notebooks, item)
		}
	}
	return notebooks, nil
}

// List returns the objects and sub-prefixes directly under prefix.
func (b *Buckets) List(ctx context.Context, namespace, bucket, prefix string) (ObjectList, error) {
	path := "storage/v1/b/" + bucket + "/o?" + url.Values{"prefix": {prefix}, "delimiter": {"/"}}.Encode()
	return callJSON[ObjectList](ctx, b.c, b.c.buckets, http.MethodGet, path, withSAToken(namespace))
}

// Delete deletes an object.
func (b *Buckets) Delete(ctx context.Context, namespace, bucket, name string) error {
	return callNoContent(ctx, b.c, b.c.buckets, http.MethodDelete, objectPath(bucket, name), withSAToken(namespace))
}

// Upload writes data to prefix+name.
func (b *Buckets) Upload(ctx context.Context, namespace, bucket, prefix, name, contentType string, data []byte) error {
	path := fmt.Sprintf("upload/storage/v1/b/%s/o?uploadType=media&name=%s", bucket, escapeComponent(prefix+name))
	return callNoContent(ctx, b.c, b.c.buckets, http.MethodPost, path, withSAToken(namespace), withBody(contentType, data))
}

// Notebook scopes operations to notebooks/<name>.ipynb in bucket.
func (b *Buckets) Notebook(namespace, bucket, name string) *NotebookObject {
	return &NotebookObject{c: b.c, namespace: namespace, bucket: bucket, name: name}
}

// NotebookObject is one notebook file in a workspace bucket. Name excludes the extension.
type NotebookObject struct {
	c         *client
	namespace string
	bucket    string
	name      string
}

func notebookObjectName(name string) string {
	return escapeComponent("notebooks/" + name + ".ipynb")
}

func (n *NotebookObject) objectURL() string {
	return fmt.Sprintf("storage/v1/b/%s/o/%s", n.bucket, notebookObjectName(n.name))
}

// Preview downloads the notebook and converts it to HTML through Calhoun.
func (n *NotebookObject) Preview(ctx context.Context) (string, error) {
	nb, err := n.c.call(ctx, n.c.buckets, http.MethodGet, n.objectURL()+"?alt=media", withSAToken(n.namespace))
	if err != nil {
		return "", err
	}
	html, err := n.c.call(ctx, n.c.calhoun, http.MethodPost, "api/convert", withAuth(), withBody("", nb.Body))
	if err != nil {
		return "", err
	}
	return html.Text(), nil
}

// Copy copies the notebook to newName in newBucket.
func (n *NotebookObject) Copy(ctx context.Context, newName, newBucket string) error {
	path := fmt.Sprintf("%s/copyTo/b/%s/o/%s", n.objectURL(), newBucket, notebookObjectName(newName))
	return callNoContent(ctx, n.c, n.c.buckets, http.MethodPost, path, withSAToken(n.namespace))
}

// Create uploads contents as a new notebook.
func (n *NotebookObject) Create(ctx context.Context, contents any) error {
	data, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("marshal notebook: %w", err)
	}
	path := fmt.Sprintf("upload/storage/v1/b/%s/o?uploadType=media&name=%s", n.bucket, notebookObjectName(n.name))
	return callNoContent(ctx, n.c, n.c.buckets, http.MethodPost, path,
		withSAToken(n.namespace), withBody("application/x-ipynb+json", data))
}

// Delete deletes the notebook.
func (n *NotebookObject) Delete(ctx context.Context) error {
	return callNoContent(ctx, n.c, n.c.buckets, http.MethodDelete, n.objectURL(), withSAToken(n.namespace))
}

// GetObject returns the notebook's object metadata.
func (n *NotebookObject) GetObject(ctx context.Context) (Object, error) {
	return callJSON[Object](ctx, n.c, n.c.buckets, http.MethodGet, n.objectURL(), withSAToken(n.namespace))
}

// Rename copies the notebook to newName in the same bucket, then deletes the original.
func (n *NotebookObject) Rename(ctx context.Context, newName string) error {
	if err := n.Copy(ctx, newName, n.bucket); err != nil {
		return err
	}
	return n.Delete(ctx)
}
