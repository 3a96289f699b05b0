// Package session holds the process-wide state a portal session accumulates: the
// requester-pays bucket set, the fallback billing project and the ajax override rules. A Store
// lives until Reset, the analogue of a page reload. The workspace a call acts for travels on
// its context, so concurrent calls for different workspaces never share a billing project.
package session

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

// AccessLevel is a user's access to a workspace.
type AccessLevel string

// Workspace access levels, lowest first.
const (
	AccessNone         AccessLevel = "NO ACCESS"
	AccessReader       AccessLevel = "READER"
	AccessWriter       AccessLevel = "WRITER"
	AccessOwner        AccessLevel = "OWNER"
	AccessProjectOwner AccessLevel = "PROJECT_OWNER"
)

var accessRank = map[AccessLevel]int{
	AccessNone:         0,
	AccessReader:       1,
	AccessWriter:       2,
	AccessOwner:        3,
	AccessProjectOwner: 4,
}

// CanWrite reports whether level allows writes.
func CanWrite(level AccessLevel) bool {
	return accessRank[level] >= accessRank[AccessWriter]
}

// Workspace is the workspace a call acts for.
type Workspace struct {
	Namespace   string      `json:"namespace"`
	Name        string      `json:"name"`
	BucketName  string      `json:"bucketName"`
	AccessLevel AccessLevel `json:"accessLevel"`
}

// Store is safe for concurrent use. Its bucket set only grows until Reset.
type Store struct {
	mu                   sync.RWMutex
	requesterPaysBuckets map[string]struct{}
	requesterPaysProject string
	overrides            *ajax.OverrideStore
}

// New returns an empty session.
func New() *Store {
	return &Store{
		requesterPaysBuckets: make(map[string]struct{}),
		overrides:            ajax.NewOverrideStore(),
	}
}

// IsRequesterPays reports whether bucket is known to require a billing project.
func (s *Store) IsRequesterPays(bucket string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.requesterPaysBuckets[bucket]
	return ok
}

// MarkRequesterPays records bucket and reports whether it was new.
func (s *Store) MarkRequesterPays(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requesterPaysBuckets[bucket]; ok {
		return false
	}
	s.requesterPaysBuckets[bucket] = struct{}{}
	return true
}

// RequesterPaysBuckets returns the known buckets, sorted.
func (s *Store) RequesterPaysBuckets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.requesterPaysBuckets))
	for b := range s.requesterPaysBuckets {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// SetRequesterPaysProject sets the fallback project used when the workspace can't be billed.
func (s *Store) SetRequesterPaysProject(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requesterPaysProject = project
}

// RequesterPaysProject returns the fallback project.
func (s *Store) RequesterPaysProject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requesterPaysProject
}

type workspaceKey struct{}

// WithWorkspace returns a copy of ctx that carries ws.
func WithWorkspace(ctx context.Context, ws Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey{}, ws)
}

// WorkspaceFrom returns the workspace carried by ctx.
func WorkspaceFrom(ctx context.Context) (Workspace, bool) {
	ws, ok := ctx.Value(workspaceKey{}).(Workspace)
	return ws, ok
}

// UserProject picks the project to bill for a call made under ctx: the namespace of the
// context's workspace when the user can write to it, the fallback project otherwise.
func (s *Store) UserProject(ctx context.Context) string {
	if ws, ok := WorkspaceFrom(ctx); ok && CanWrite(ws.AccessLevel) {
		return ws.Namespace
	}
	return s.RequesterPaysProject()
}

// Overrides returns the session's override rules.
func (s *Store) Overrides() *ajax.OverrideStore {
	return s.overrides
}

// Reset drops everything the session learned.
func (s *Store) Reset() {
	s.mu.Lock()
	s.requesterPaysBuckets = make(map[string]struct{})
	s.requesterPaysProject = ""
	s.mu.Unlock()
	s.overrides.Reset()
}
