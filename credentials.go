package credentials

import (
	"context"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type CredentialActor = core.CredentialActor

type AccessToken = core.AccessToken
type Credential = core.Credential
type IdentityClaims = core.IdentityClaims
type IdentityUpdate = core.IdentityUpdate
type LoginInput = core.LoginInput
type CompleteLoginRequest = core.CompleteLoginRequest
type CompleteLoginResult = core.CompleteLoginResult
type Subscription = core.Subscription
type EnsureResult = core.EnsureResult

type CredentialStore = core.CredentialStore
type SubscriptionStore = core.SubscriptionStore
type SecretProvider = core.SecretProvider
type PrincipalLocker = core.PrincipalLocker

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithPersistenceClient    = core.WithPersistenceClient
	WithRepositoryFactory    = core.WithRepositoryFactory
	WithCredentialStore      = core.WithCredentialStore
	WithSubscriptionStore    = core.WithSubscriptionStore
	WithIdentityProvider     = core.WithIdentityProvider
	WithSubscriptionProvider = core.WithSubscriptionProvider
	WithUserDirectory        = core.WithUserDirectory
	WithPrincipalLocker      = core.WithPrincipalLocker
	WithTelemetrySink        = core.WithTelemetrySink
	WithJobEnqueuer          = core.WithJobEnqueuer
	WithClock                = core.WithClock
)

var (
	IsNotLoggedIn   = core.IsNotLoggedIn
	IsRevoked       = core.IsRevoked
	IsProviderError = core.IsProviderError
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds the provider clients from providerCfg and a service wired to
// them. Options in opts are applied after the provider options.
func Setup(ctx context.Context, cfg Config, providerCfg providers.Config, httpClient core.HTTPDoer, opts ...Option) (*Service, providers.Clients, error) {
	clients, err := providers.New(ctx, providerCfg, httpClient)
	if err != nil {
		return nil, providers.Clients{}, err
	}
	all := append(clients.Options(), opts...)
	svc, err := core.NewService(cfg, all...)
	if err != nil {
		return nil, providers.Clients{}, err
	}
	return svc, clients, nil
}
