package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-entitlements/core"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const profileCacheKeyPrefix = "go-entitlements::profile::v1"

// CachedProfileStore is a read-through cache in front of a core.ProfileStore.
// Misses are cached too so a user without a row does not hit the database on
// every alignment.
type CachedProfileStore struct {
	base   core.ProfileStore
	cache  repositorycache.CacheService
	logger glog.Logger
}

type CachedProfileStoreOption func(*CachedProfileStore)

// WithCacheLogger receives invalidation failures that do not fail the write.
func WithCacheLogger(logger glog.Logger) CachedProfileStoreOption {
	return func(s *CachedProfileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type cachedProfile struct {
	Record core.ProfileRecord `json:"record"`
	Found  bool               `json:"found"`
}

func NewCachedProfileStore(
	base core.ProfileStore,
	cacheService repositorycache.CacheService,
	opts ...CachedProfileStoreOption,
) (*CachedProfileStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base profile store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: profile cache service is required")
	}
	store := &CachedProfileStore{base: base, cache: cacheService, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// ProfileCacheKey returns go-entitlements::profile::v1::<user_id> with the
// user id URL-path escaped.
func ProfileCacheKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", core.ErrUserIDRequired
	}
	return profileCacheKeyPrefix + "::" + url.PathEscape(userID), nil
}

func (s *CachedProfileStore) ReadByUserID(ctx context.Context, userID string) (core.ProfileRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProfileRecord{}, false, fmt.Errorf("sqlstore: cached profile store is not configured")
	}
	cacheKey, err := ProfileCacheKey(userID)
	if err != nil {
		return core.ProfileRecord{}, false, err
	}
	userID = strings.TrimSpace(userID)

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedProfile, error) {
		record, found, fetchErr := s.base.ReadByUserID(ctx, userID)
		if fetchErr != nil {
			return cachedProfile{}, fetchErr
		}
		return cachedProfile{Record: record, Found: found}, nil
	})
	if err != nil {
		return core.ProfileRecord{}, false, err
	}
	return entry.Record, entry.Found, nil
}

// Upsert writes through to the base store and always drops the cached entry,
// including on a version conflict, so the caller's retry reads the winner.
// A failed invalidation after a successful write is logged and the written
// record is returned: the row has landed, and the stale entry expires with
// the cache TTL.
func (s *CachedProfileStore) Upsert(ctx context.Context, in core.ProfileRecord) (core.ProfileRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProfileRecord{}, fmt.Errorf("sqlstore: cached profile store is not configured")
	}
	cacheKey, err := ProfileCacheKey(in.UserID)
	if err != nil {
		return core.ProfileRecord{}, err
	}

	out, upsertErr := s.base.Upsert(ctx, in)
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.logger.Warn("profile cache invalidation failed",
			"user_id", strings.TrimSpace(in.UserID),
			"write_ok", upsertErr == nil,
			"error", err,
		)
	}
	if upsertErr != nil {
		return core.ProfileRecord{}, upsertErr
	}
	return out, nil
}
