package cache

import (
	"context"

	"github.com/pkg/errors"

	"example.com/backstage/services/fulfillment/internal/platforms"
)

// CredentialStore persists refreshed platform credentials in Redis so a
// token refreshed by one run is visible to the next. When Redis is
// disabled it falls through to an in-memory store.
type CredentialStore struct {
	cache  *RedisCache
	memory *platforms.MemoryCredentialStore
}

// NewCredentialStore creates a credential store over the given cache
func NewCredentialStore(cache *RedisCache) *CredentialStore {
	return &CredentialStore{
		cache:  cache,
		memory: platforms.NewMemoryCredentialStore(),
	}
}

// Load retrieves the stored credential for a platform
func (s *CredentialStore) Load(ctx context.Context, platform string) (platforms.Credential, bool, error) {
	if !s.cache.Enabled() {
		return s.memory.Load(ctx, platform)
	}

	var cred platforms.Credential
	err := s.cache.Get(ctx, CredentialCacheKey(platform), &cred)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return platforms.Credential{}, false, nil
		}
		return platforms.Credential{}, false, err
	}
	return cred, true, nil
}

// Save stores the credential for a platform. Credentials have no cache
// expiry; staleness is judged by the credential's own ExpiresAt.
func (s *CredentialStore) Save(ctx context.Context, platform string, cred platforms.Credential) error {
	if !s.cache.Enabled() {
		return s.memory.Save(ctx, platform, cred)
	}
	return s.cache.Set(ctx, CredentialCacheKey(platform), cred, 0)
}

// Ensure CredentialStore implements the platforms.CredentialStore interface
var _ platforms.CredentialStore = (*CredentialStore)(nil)
