package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-entitlements/core"
)

// EntitlementService is the slice of core.Engine the commands drive.
type EntitlementService interface {
	Sync(ctx context.Context, opts core.SyncOptions) (core.SyncResult, error)
	RecordPurchase(ctx context.Context, snapshot core.EntitlementSnapshot) (core.SyncResult, error)
	Align(ctx context.Context, targetID string) (core.AlignResult, error)
	EnsureSession(ctx context.Context, allowAnonymous bool) core.SessionResult
	SignOut(ctx context.Context) error
}

type SyncEntitlementsCommand struct {
	service EntitlementService
}

func NewSyncEntitlementsCommand(service EntitlementService) *SyncEntitlementsCommand {
	return &SyncEntitlementsCommand{service: service}
}

func (c *SyncEntitlementsCommand) Execute(ctx context.Context, msg SyncEntitlementsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.Sync(ctx, msg.options())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordPurchaseCommand struct {
	service EntitlementService
}

func NewRecordPurchaseCommand(service EntitlementService) *RecordPurchaseCommand {
	return &RecordPurchaseCommand{service: service}
}

func (c *RecordPurchaseCommand) Execute(ctx context.Context, msg RecordPurchaseMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: purchase service is required")
	}
	out, err := c.service.RecordPurchase(ctx, msg.Snapshot)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type AlignIdentityCommand struct {
	service EntitlementService
}

func NewAlignIdentityCommand(service EntitlementService) *AlignIdentityCommand {
	return &AlignIdentityCommand{service: service}
}

func (c *AlignIdentityCommand) Execute(ctx context.Context, msg AlignIdentityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: alignment service is required")
	}
	out, err := c.service.Align(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnsureSessionCommand struct {
	service EntitlementService
}

func NewEnsureSessionCommand(service EntitlementService) *EnsureSessionCommand {
	return &EnsureSessionCommand{service: service}
}

// Execute stores the session result even when no session could be obtained,
// so callers can read the failure reason.
func (c *EnsureSessionCommand) Execute(ctx context.Context, msg EnsureSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out := c.service.EnsureSession(ctx, msg.AllowAnonymous)
	storeResult(ctx, out)
	if !out.OK() {
		return commandSessionError(out)
	}
	return nil
}

type SignOutCommand struct {
	service EntitlementService
}

func NewSignOutCommand(service EntitlementService) *SignOutCommand {
	return &SignOutCommand{service: service}
}

func (c *SignOutCommand) Execute(ctx context.Context, _ SignOutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sign-out service is required")
	}
	return c.service.SignOut(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
