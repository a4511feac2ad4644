package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-entitlements/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed stores from a persistence client or
// a bare bun.DB.
type RepositoryFactory struct {
	db *bun.DB

	profileStore *ProfileStore
	cached       *CachedProfileStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Build resolves the bun database from persistenceClient and initialises the
// stores. Calling it again on a built factory is a no-op.
func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.profileStore != nil {
		return nil
	}
	store, err := NewProfileStore(f.db)
	if err != nil {
		return err
	}
	f.profileStore = store
	return nil
}

// WithCache wraps the profile store in a read-through cache. The returned
// store is what ProfileStore hands out afterwards.
func (f *RepositoryFactory) WithCache(
	cacheService repositorycache.CacheService,
	opts ...CachedProfileStoreOption,
) (*CachedProfileStore, error) {
	if f == nil || f.profileStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is not built")
	}
	cached, err := NewCachedProfileStore(f.profileStore, cacheService, opts...)
	if err != nil {
		return nil, err
	}
	f.cached = cached
	return cached, nil
}

func (f *RepositoryFactory) ProfileStore() core.ProfileStore {
	if f == nil {
		return nil
	}
	if f.cached != nil {
		return f.cached
	}
	if f.profileStore == nil {
		return nil
	}
	return f.profileStore
}

// Profiles returns the uncached SQL store, which also exposes plan history.
func (f *RepositoryFactory) Profiles() *ProfileStore {
	if f == nil {
		return nil
	}
	return f.profileStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
