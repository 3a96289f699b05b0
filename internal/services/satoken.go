package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

const saTokenTTL = 30 * time.Minute

// petScopes are requested for every pet service account token.
var petScopes = []string{"https://www.googleapis.com/auth/devstorage.full_control"}

type saTokenFetcher func(ctx context.Context, namespace, userToken string) (string, error)

type saTokenEntry struct {
	token   string
	expires time.Time
}

// saTokenCache memoizes pet tokens per (namespace, user token). Concurrent misses for the
// same key share one request.
type saTokenCache struct {
	fetch saTokenFetcher
	clock Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]saTokenEntry
	group   singleflight.Group
}

func newSATokenCache(fetch saTokenFetcher, clock Clock, ttl time.Duration) *saTokenCache {
	return &saTokenCache{
		fetch:   fetch,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]saTokenEntry),
	}
}

func (s *saTokenCache) get(ctx context.Context, namespace, userToken string) (string, error) {
	key := namespace + "\x00" + userToken
	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if ok && s.clock.Now().Before(entry.expires) {
		return entry.token, nil
	}

	// The flight outlives any one caller; each caller stops waiting on its own context.
	ch := s.group.DoChan(key, func() (any, error) {
		token, err := s.fetch(context.WithoutCancel(ctx), namespace, userToken)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.entries[key] = saTokenEntry{token: token, expires: s.clock.Now().Add(s.ttl)}
		s.mu.Unlock()
		return token, nil
	})
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ajax.ErrAbandoned
		}
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *client) saToken(ctx context.Context, namespace string) (string, error) {
	userToken, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("user token: %w", err)
	}
	return c.saTokens.get(ctx, namespace, userToken)
}

// requestSAToken asks Sam for a pet token. Only use it for workspaces the user can write
// to, to avoid creating service accounts in projects holding public workspaces.
func (c *client) requestSAToken(ctx context.Context, namespace, userToken string) (string, error) {
	token, err := callJSON[string](ctx, c, c.sam, http.MethodPost,
		fmt.Sprintf("api/google/user/petServiceAccount/%s/token", namespace),
		withHeader("Authorization", "Bearer "+userToken),
		withJSON(petScopes),
	)
	if err != nil {
		return "", fmt.Errorf("pet token for %s: %w", namespace, err)
	}
	return token, nil
}
