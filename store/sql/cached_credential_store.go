package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-credentials/core"
)

const credentialCacheKeyPrefix = "go-credentials::credential::v1"

// CachedCredentialStore serves Load from a read-through cache and
// invalidates the principal's entry around every Save. The write is skipped
// when the entry cannot be dropped first.
type CachedCredentialStore struct {
	base  core.CredentialStore
	cache repositorycache.CacheService
}

type cachedCredential struct {
	Credential core.Credential
	Found      bool
}

func NewCachedCredentialStore(base core.CredentialStore, cacheService repositorycache.CacheService) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	return &CachedCredentialStore{base: base, cache: cacheService}, nil
}

// CredentialCacheKey returns go-credentials::credential::v1::<principal_id>
// with the principal id URL-path escaped.
func CredentialCacheKey(principalID string) (string, error) {
	trimmed := strings.TrimSpace(principalID)
	if trimmed == "" {
		return "", core.NewBadInputError("principal_id", "principal id is required")
	}
	return credentialCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedCredentialStore) Load(ctx context.Context, principalID string) (core.Credential, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	cacheKey, err := CredentialCacheKey(principalID)
	if err != nil {
		return core.Credential{}, false, err
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedCredential, error) {
		credential, found, fetchErr := s.base.Load(ctx, principalID)
		if fetchErr != nil {
			return cachedCredential{}, fetchErr
		}
		return cachedCredential{Credential: core.CloneCredential(credential), Found: found}, nil
	})
	if err != nil {
		return core.Credential{}, false, err
	}
	return core.CloneCredential(entry.Credential), entry.Found, nil
}

func (s *CachedCredentialStore) Save(ctx context.Context, credential core.Credential) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	cacheKey, err := CredentialCacheKey(credential.PrincipalID)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return fmt.Errorf("sqlstore: invalidate credential cache: %w", err)
	}
	if err := s.base.Save(ctx, credential); err != nil {
		return err
	}
	// Drops anything a concurrent Load cached while the write was in flight.
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return fmt.Errorf("sqlstore: invalidate credential cache: %w", err)
	}
	return nil
}

var _ core.CredentialStore = (*CachedCredentialStore)(nil)
