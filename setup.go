package entitlements

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entitlements/core"
	reststore "github.com/goliatone/go-entitlements/store/rest"
	"github.com/goliatone/go-entitlements/transport"
)

// Setup builds an engine that talks to the backend over the REST transport
// and keeps profiles in the backend's profiles table through AuthedRequest.
// Caller options are applied last, so WithTransport or WithProfileStore
// replace the defaults. The HTTP client carries no deadline of its own;
// every attempt is bounded by the engine's resolved request timeout or the
// caller's RequestInit.Timeout.
func Setup(cfg Config, opts ...Option) (*Engine, error) {
	adapter, err := transport.NewDefaultRegistry().Build(transport.KindREST, map[string]any{
		"timeout": time.Duration(0),
	})
	if err != nil {
		return nil, fmt.Errorf("entitlements: build rest transport: %w", err)
	}

	requester := &engineRequester{}
	profiles, err := reststore.NewProfileStore(requester, reststore.Config{
		Route: core.Route{Primary: reststore.DefaultProfilesPath},
	})
	if err != nil {
		return nil, err
	}

	all := make([]Option, 0, len(opts)+2)
	all = append(all, core.WithTransport(adapter), core.WithProfileStore(profiles))
	all = append(all, opts...)
	engine, err := core.NewEngine(cfg, all...)
	if err != nil {
		return nil, err
	}
	requester.engine.Store(engine)
	return engine, nil
}

// engineRequester lets the REST profile store be built before the engine it
// sends requests through.
type engineRequester struct {
	engine atomic.Pointer[core.Engine]
}

func (r *engineRequester) AuthedRequest(ctx context.Context, route core.Route, init core.RequestInit) core.RequestResult {
	engine := r.engine.Load()
	if engine == nil {
		return core.RequestResult{
			Err: goerrors.New("entitlements: engine is not ready", goerrors.CategoryInternal).
				WithTextCode(core.ErrorInternal),
		}
	}
	return engine.AuthedRequest(ctx, route, init)
}
