package entitlements

import (
	"fmt"

	entcommand "github.com/goliatone/go-entitlements/command"
	"github.com/goliatone/go-entitlements/core"
	entquery "github.com/goliatone/go-entitlements/query"
)

// CommandQueryService is what the facade drives. *core.Engine satisfies it.
type CommandQueryService interface {
	entcommand.EntitlementService
	entquery.IdentityReader
}

type Commands struct {
	SyncEntitlements *entcommand.SyncEntitlementsCommand
	RecordPurchase   *entcommand.RecordPurchaseCommand
	AlignIdentity    *entcommand.AlignIdentityCommand
	EnsureSession    *entcommand.EnsureSessionCommand
	SignOut          *entcommand.SignOutCommand
}

type Queries struct {
	GetProfile      *entquery.GetProfileQuery
	CurrentIdentity *entquery.CurrentIdentityQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	profileReader entquery.ProfileReader
}

// WithProfileReader overrides the reader behind GetProfile. Without it the
// facade reads through the engine's profile store.
func WithProfileReader(reader entquery.ProfileReader) FacadeOption {
	return func(options *facadeOptions) {
		options.profileReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("entitlements: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.profileReader
	if reader == nil {
		reader = resolveProfileReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		SyncEntitlements: entcommand.NewSyncEntitlementsCommand(service),
		RecordPurchase:   entcommand.NewRecordPurchaseCommand(service),
		AlignIdentity:    entcommand.NewAlignIdentityCommand(service),
		EnsureSession:    entcommand.NewEnsureSessionCommand(service),
		SignOut:          entcommand.NewSignOutCommand(service),
	}
	facade.queries = Queries{
		GetProfile:      entquery.NewGetProfileQuery(reader),
		CurrentIdentity: entquery.NewCurrentIdentityQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveProfileReader(service CommandQueryService) entquery.ProfileReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(entquery.ProfileReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.EngineDependencies
	})
	if !ok {
		return nil
	}
	store := provider.Dependencies().ProfileStore
	if store == nil {
		return nil
	}
	return store
}
