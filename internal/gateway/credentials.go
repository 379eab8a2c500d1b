package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenCache holds one adapter's bearer credential. Concurrent callers that
// find it expired share a single refresh.
type tokenCache struct {
	fetch func(ctx context.Context) (Credential, error)
	now   func() time.Time

	mu    sync.RWMutex
	cur   Credential
	group singleflight.Group
}

func newTokenCache(fetch func(ctx context.Context) (Credential, error)) *tokenCache {
	return &tokenCache{fetch: fetch, now: time.Now}
}

func (t *tokenCache) cached() (Credential, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur, t.cur.validAt(t.now())
}

func (t *tokenCache) Get(ctx context.Context) (Credential, error) {
	if c, ok := t.cached(); ok {
		return c, nil
	}

	v, err, _ := t.group.Do("token", func() (any, error) {
		if c, ok := t.cached(); ok {
			return c, nil
		}
		// The refresh outlives a cancelled first caller; others may be waiting on it.
		c, err := t.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return Credential{}, err
		}
		t.mu.Lock()
		t.cur = c
		t.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Invalidate drops token if it is still the cached one.
func (t *tokenCache) Invalidate(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur.Token == token {
		t.cur = Credential{}
	}
}
