// Package gcs provides bucket access backed by the Google Cloud Storage client library,
// with the same requester-pays handling as the storage JSON façade.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/services"
)

// BlobStore lists and writes objects in workspace buckets.
type BlobStore struct {
	client    *storage.Client
	state     ajax.RequesterPaysState
	listeners []ajax.RequesterPaysListener
}

// New creates a GCS-backed store. state supplies the requester-pays bucket set and billing project.
func New(client *storage.Client, state ajax.RequesterPaysState, listeners ...ajax.RequesterPaysListener) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if state == nil {
		return nil, fmt.Errorf("requester pays state is required")
	}
	return &BlobStore{client: client, state: state, listeners: listeners}, nil
}

// List returns the objects and sub-prefixes directly under prefix. The namespace is unused:
// the client authenticates with its own credentials rather than a pet service account.
func (s *BlobStore) List(ctx context.Context, _ string, bucket, prefix string) (services.ObjectList, error) {
	var out services.ObjectList
	err := s.withRequesterPays(ctx, bucket, func(h *storage.BucketHandle) error {
		out = services.ObjectList{}
		it := h.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			if attrs.Prefix != "" {
				out.Prefixes = append(out.Prefixes, attrs.Prefix)
				continue
			}
			out.Items = append(out.Items, toObject(attrs))
		}
	})
	if err := abandoned(ctx, err); err != nil {
		return services.ObjectList{}, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
	}
	return out, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	err := s.withRequesterPays(ctx, bucket, func(h *storage.BucketHandle) error {
		writer := h.Object(path).NewWriter(ctx)
		if contentType != "" {
			writer.ContentType = contentType
		}
		if _, err := writer.Write(data); err != nil {
			closeErr := writer.Close()
			if closeErr != nil {
				return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
			}
			return fmt.Errorf("write object: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close writer: %w", err)
		}
		return nil
	})
	if err := abandoned(ctx, err); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", bucket, path), nil
}

// withRequesterPays runs op against bucket, billing the user project up front for known
// requester-pays buckets. An unknown bucket that fails with a requester-pays 400 is
// remembered and op is retried once when a project is available.
func (s *BlobStore) withRequesterPays(ctx context.Context, bucket string, op func(*storage.BucketHandle) error) error {
	project := s.state.UserProject(ctx)
	known := s.state.IsRequesterPays(bucket)

	handle := s.client.Bucket(bucket)
	if known && project != "" {
		handle = handle.UserProject(project)
	}
	err := op(handle)
	if err == nil || !isRequesterPays(err) {
		return err
	}
	flagged := requesterPaysError(bucket, err)
	if known {
		return flagged
	}
	if s.state.MarkRequesterPays(bucket) {
		for _, l := range s.listeners {
			l.RequesterPaysFlagged(ctx, bucket)
		}
	}
	if project == "" {
		return flagged
	}
	if err := op(s.client.Bucket(bucket).UserProject(project)); err != nil {
		if isRequesterPays(err) {
			return requesterPaysError(bucket, err)
		}
		return err
	}
	return nil
}

func isRequesterPays(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusBadRequest {
		return false
	}
	return ajax.MentionsRequesterPays(gerr.Message + " " + gerr.Body)
}

// abandoned reports a failure caused by the caller cancelling ctx as ajax.ErrAbandoned, the
// same result the storage JSON façade gives.
func abandoned(ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ajax.ErrAbandoned
	}
	return err
}

// requesterPaysError reshapes a client library failure into the flagged ResponseError the
// rest of the portal branches on.
func requesterPaysError(bucket string, err error) error {
	var gerr *googleapi.Error
	errors.As(err, &gerr)
	body := gerr.Body
	if body == "" {
		body = gerr.Message
	}
	return &ajax.ResponseError{
		Response: &ajax.Response{
			StatusCode: gerr.Code,
			Body:       []byte(body),
			URL:        "gs://" + bucket,
		},
		RequesterPays: true,
	}
}

func toObject(attrs *storage.ObjectAttrs) services.Object {
	return services.Object{
		Name:        attrs.Name,
		Bucket:      attrs.Bucket,
		Size:        strconv.FormatInt(attrs.Size, 10),
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		Metadata:    attrs.Metadata,
	}
}
