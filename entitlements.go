package entitlements

import "github.com/goliatone/go-entitlements/core"

type Config = core.Config

type Option = core.Option

type Engine = core.Engine

type EngineDependencies = core.EngineDependencies
type AuthBackend = core.AuthBackend
type PurchaseSDK = core.PurchaseSDK
type ProfileStore = core.ProfileStore
type TransportAdapter = core.TransportAdapter
type MetricsRecorder = core.MetricsRecorder

type Session = core.Session
type SessionResult = core.SessionResult
type ProfileRecord = core.ProfileRecord
type EntitlementSnapshot = core.EntitlementSnapshot
type SyncOptions = core.SyncOptions
type SyncResult = core.SyncResult
type AlignResult = core.AlignResult
type Route = core.Route
type RequestInit = core.RequestInit
type RequestResult = core.RequestResult

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithClock           = core.WithClock
	WithAuthBackend     = core.WithAuthBackend
	WithPurchaseSDK     = core.WithPurchaseSDK
	WithProfileStore    = core.WithProfileStore
	WithTransport       = core.WithTransport
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	return core.NewEngine(cfg, opts...)
}
