package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-entitlements/core"
)

var (
	_ gocmd.Querier[GetProfileMessage, ProfileView]       = (*GetProfileQuery)(nil)
	_ gocmd.Querier[CurrentIdentityMessage, IdentityView] = (*CurrentIdentityQuery)(nil)

	_ ProfileReader  = (core.ProfileStore)(nil)
	_ IdentityReader = (*core.Engine)(nil)
)
