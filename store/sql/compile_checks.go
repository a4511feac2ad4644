package sqlstore

import "github.com/goliatone/go-entitlements/core"

var (
	_ core.ProfileStore = (*ProfileStore)(nil)
	_ core.ProfileStore = (*CachedProfileStore)(nil)
)
