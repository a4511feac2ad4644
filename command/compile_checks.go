package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-entitlements/core"
)

var (
	_ gocmd.Commander[SyncEntitlementsMessage] = (*SyncEntitlementsCommand)(nil)
	_ gocmd.Commander[RecordPurchaseMessage]   = (*RecordPurchaseCommand)(nil)
	_ gocmd.Commander[AlignIdentityMessage]    = (*AlignIdentityCommand)(nil)
	_ gocmd.Commander[EnsureSessionMessage]    = (*EnsureSessionCommand)(nil)
	_ gocmd.Commander[SignOutMessage]          = (*SignOutCommand)(nil)

	_ EntitlementService = (*core.Engine)(nil)
)
