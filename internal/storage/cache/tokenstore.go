package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// CacheClient is the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// cachedToken wraps the token so an absent token can be cached too.
type cachedToken struct {
	Token string `json:"token"`
}

// CachedTokenStore adds read-aside caching to any sdk.TokenStore.
type CachedTokenStore struct {
	realStore sdk.TokenStore
	cache     CacheClient
	key       string
	ttl       time.Duration
}

// NewCachedTokenStore decorates realStore. installationID scopes the cache
// key when several installations share one Redis.
func NewCachedTokenStore(realStore sdk.TokenStore, cache CacheClient, installationID string, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		key:       "bridge:push_token:" + installationID,
		ttl:       ttl,
	}
}

func (s *CachedTokenStore) Load(ctx context.Context) (string, error) {
	// 1. Try cache
	var hit cachedToken
	if err := s.cache.Get(ctx, s.key, &hit); err == nil {
		return hit.Token, nil
	}

	// 2. Fall back to the real store
	token, err := s.realStore.Load(ctx)
	if err != nil {
		return "", err
	}

	// 3. Populate (best effort)
	_ = s.cache.Set(ctx, s.key, cachedToken{Token: token}, s.ttl)
	return token, nil
}

// Save writes through to the real store, then invalidates the cache.
func (s *CachedTokenStore) Save(ctx context.Context, token string) error {
	if err := s.realStore.Save(ctx, token); err != nil {
		return err
	}
	return s.cache.Del(ctx, s.key)
}
