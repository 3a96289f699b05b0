package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
	"github.com/JakeFAU/workspace-portal/internal/session"
	"github.com/JakeFAU/workspace-portal/internal/storage/gcs"
)

const requesterPaysJSON = `{"error":{"code":400,"message":"Bucket is a requester pays bucket but no user project provided.","errors":[{"message":"Bucket is a requester pays bucket but no user project provided.","domain":"global","reason":"required"}]}}`

// newTestStore creates a BlobStore whose client talks to a test server.
func newTestStore(t *testing.T, handler http.Handler, sess *session.Store) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, sess)
	require.NoError(t, err)
	return store
}

type queryLog struct {
	mu       sync.Mutex
	projects []string
}

func (q *queryLog) add(r *http.Request) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.projects = append(q.projects, r.URL.Query().Get("userProject"))
	return len(q.projects)
}

func TestNew_Validation(t *testing.T) {
	_, err := gcs.New(nil, session.New())
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test cleanup
	_, err = gcs.New(client, nil)
	require.Error(t, err)
}

func TestBlobStore_ListRetriesRequesterPays(t *testing.T) {
	log := &queryLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/my-bucket/o")
		if log.add(r) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, requesterPaysJSON)
			return
		}
		assert.Equal(t, "folder/", r.URL.Query().Get("prefix"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"kind":"storage#objects","prefixes":["folder/sub/"],"items":[{"name":"folder/a.txt","bucket":"my-bucket","size":"12","updated":"2024-02-01T10:00:00Z"}]}`)
	})

	sess := session.New()
	ctx := session.WithWorkspace(context.Background(), session.Workspace{Namespace: "ns", AccessLevel: session.AccessWriter})
	store := newTestStore(t, handler, sess)

	got, err := store.List(ctx, "ns", "my-bucket", "folder/")
	require.NoError(t, err)
	require.Equal(t, []string{"folder/sub/"}, got.Prefixes)
	require.Len(t, got.Items, 1)
	require.Equal(t, "folder/a.txt", got.Items[0].Name)
	require.Equal(t, "12", got.Items[0].Size)

	require.Equal(t, []string{"", "ns"}, log.projects)
	require.True(t, sess.IsRequesterPays("my-bucket"))
}

func TestBlobStore_ListKnownBucketBillsUpFront(t *testing.T) {
	log := &queryLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"kind":"storage#objects"}`)
	})

	sess := session.New()
	sess.SetRequesterPaysProject("fallback")
	sess.MarkRequesterPays("rp")
	store := newTestStore(t, handler, sess)

	_, err := store.List(context.Background(), "", "rp", "")
	require.NoError(t, err)
	require.Equal(t, []string{"fallback"}, log.projects)
}

func TestBlobStore_ListWithoutProjectSurfacesFlaggedError(t *testing.T) {
	log := &queryLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, requesterPaysJSON)
	})

	sess := session.New()
	store := newTestStore(t, handler, sess)

	_, err := store.List(context.Background(), "", "rp", "")
	require.Error(t, err)
	require.True(t, ajax.IsRequesterPays(err))
	require.True(t, ajax.IsStatus(err, http.StatusBadRequest))
	require.Len(t, log.projects, 1)
	require.True(t, sess.IsRequesterPays("rp"))
}

func TestBlobStore_ListOtherErrorsPassThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})

	sess := session.New()
	sess.SetRequesterPaysProject("p")
	store := newTestStore(t, handler, sess)

	_, err := store.List(context.Background(), "", "locked", "")
	require.Error(t, err)
	require.False(t, ajax.IsRequesterPays(err))
	require.False(t, sess.IsRequesterPays("locked"))
}

func TestBlobStore_RequesterPaysMatchIsCaseSensitive(t *testing.T) {
	log := &queryLog{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"Bucket is a Requester Pays bucket."}}`)
	})

	sess := session.New()
	sess.SetRequesterPaysProject("p")
	store := newTestStore(t, handler, sess)

	_, err := store.List(context.Background(), "", "rp", "")
	require.Error(t, err)
	require.False(t, ajax.IsRequesterPays(err))
	require.False(t, sess.IsRequesterPays("rp"))
	require.Len(t, log.projects, 1)
}

func TestBlobStore_CancelledCallIsAbandoned(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"kind":"storage#objects"}`)
	})
	store := newTestStore(t, handler, session.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.List(ctx, "", "bkt", "")
	require.ErrorIs(t, err, ajax.ErrAbandoned)

	_, err = store.PutObject(ctx, "bkt", "a.txt", "text/plain", []byte("a"))
	require.ErrorIs(t, err, ajax.ErrAbandoned)
}

func TestBlobStore_PutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/bkt/o")
		assert.Equal(t, "notebooks/a.ipynb", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `{"cells":[]}`)
		fmt.Fprintln(w, `{"name":"notebooks/a.ipynb","bucket":"bkt"}`)
	})

	store := newTestStore(t, handler, session.New())

	uri, err := store.PutObject(context.Background(), "bkt", "notebooks/a.ipynb", "application/x-ipynb+json", []byte(`{"cells":[]}`))
	require.NoError(t, err)
	require.Equal(t, "gs://bkt/notebooks/a.ipynb", uri)

	_, err = store.PutObject(context.Background(), "bkt", "  ", "", nil)
	require.Error(t, err)
}
