package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	entcommand "github.com/goliatone/go-entitlements/command"
	entquery "github.com/goliatone/go-entitlements/query"
)

// Registration holds the dispatcher subscriptions created by
// RegisterEntitlements. Close unsubscribes all of them.
type Registration struct {
	subscriptions []commanddispatcher.Subscription
}

func (r *Registration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.subscriptions)
}

func (r *Registration) Close() {
	if r == nil {
		return
	}
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

func (r *Registration) add(subscription commanddispatcher.Subscription, err error) error {
	if err != nil {
		return err
	}
	r.subscriptions = append(r.subscriptions, subscription)
	return nil
}

// RegisterEntitlements registers and subscribes every entitlement command and
// query so they can be reached through Dispatch and Query. On error the
// subscriptions made so far are removed.
func RegisterEntitlements(
	adapter *RegistryAdapter,
	service entcommand.EntitlementService,
	profiles entquery.ProfileReader,
	identity entquery.IdentityReader,
	runnerOpts ...runner.Option,
) (*Registration, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: entitlement service is required")
	}

	reg := &Registration{}
	steps := []func() error{
		func() error {
			return reg.add(RegisterAndSubscribe[entcommand.SyncEntitlementsMessage](adapter, entcommand.NewSyncEntitlementsCommand(service), runnerOpts...))
		},
		func() error {
			return reg.add(RegisterAndSubscribe[entcommand.RecordPurchaseMessage](adapter, entcommand.NewRecordPurchaseCommand(service), runnerOpts...))
		},
		func() error {
			return reg.add(RegisterAndSubscribe[entcommand.AlignIdentityMessage](adapter, entcommand.NewAlignIdentityCommand(service), runnerOpts...))
		},
		func() error {
			return reg.add(RegisterAndSubscribe[entcommand.EnsureSessionMessage](adapter, entcommand.NewEnsureSessionCommand(service), runnerOpts...))
		},
		func() error {
			return reg.add(RegisterAndSubscribe[entcommand.SignOutMessage](adapter, entcommand.NewSignOutCommand(service), runnerOpts...))
		},
	}
	if profiles != nil {
		steps = append(steps, func() error {
			return reg.add(RegisterAndSubscribeQuery[entquery.GetProfileMessage, entquery.ProfileView](adapter, entquery.NewGetProfileQuery(profiles), runnerOpts...))
		})
	}
	if identity != nil {
		steps = append(steps, func() error {
			return reg.add(RegisterAndSubscribeQuery[entquery.CurrentIdentityMessage, entquery.IdentityView](adapter, entquery.NewCurrentIdentityQuery(identity), runnerOpts...))
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}
