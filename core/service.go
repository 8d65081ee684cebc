package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config               Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorMapper          ErrorMapper
	persistenceClient    any
	credentialStore      CredentialStore
	subscriptionStore    SubscriptionStore
	identityProvider     IdentityProvider
	subscriptionProvider SubscriptionProvider
	userDirectory        UserDirectory
	locker               PrincipalLocker
	telemetry            *AsyncTelemetry
	runner               *BackgroundRunner
	jobEnqueuer          JobEnqueuer
	registrar            *SubscriptionRegistrar
	clock                Clock
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("credentials", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("credentials"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.principalLocker == nil {
		builder.principalLocker = NewMemoryPrincipalLocker()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.telemetrySink == nil {
		builder.telemetrySink = LoggerTelemetrySink{Logger: logger}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.credentialStore == nil || builder.subscriptionStore == nil) && builder.repositoryFactory != nil {
		var stores StoreProvider
		if factory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := factory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = provided
		}
		if stores != nil {
			if builder.credentialStore == nil {
				builder.credentialStore = stores.CredentialStore()
			}
			if builder.subscriptionStore == nil {
				builder.subscriptionStore = stores.SubscriptionStore()
			}
		}
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.subscriptionStore == nil {
		builder.subscriptionStore = NewMemorySubscriptionStore()
	}

	svc := &Service{
		config:               finalConfig,
		logger:               logger,
		loggerProvider:       provider,
		metricsRecorder:      builder.metricsRecorder,
		errorMapper:          builder.errorMapper,
		persistenceClient:    builder.persistenceClient,
		credentialStore:      builder.credentialStore,
		subscriptionStore:    builder.subscriptionStore,
		identityProvider:     builder.identityProvider,
		subscriptionProvider: builder.subscriptionProvider,
		userDirectory:        builder.userDirectory,
		locker:               builder.principalLocker,
		telemetry:            NewAsyncTelemetry(builder.telemetrySink, finalConfig.Telemetry.BufferSize),
		runner:               NewBackgroundRunner(finalConfig.Background.MaxConcurrency, logger),
		jobEnqueuer:          builder.jobEnqueuer,
		clock:                builder.clock,
	}
	svc.registrar = &SubscriptionRegistrar{
		store:           svc.subscriptionStore,
		provider:        svc.subscriptionProvider,
		tokens:          svc,
		callbackBaseURL: finalConfig.Subscriptions.CallbackBaseURL,
		version:         finalConfig.Subscriptions.Version,
		maxParallel:     finalConfig.Subscriptions.MaxParallel,
		telemetry:       svc.telemetry,
		logger:          logger,
	}
	return svc, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) Registrar() *SubscriptionRegistrar {
	if s == nil {
		return nil
	}
	return s.registrar
}

// Actor returns the handle for principalID. Handles are cheap; serialization
// lives in the principal locker, so any number of handles may coexist.
func (s *Service) Actor(principalID string) (*CredentialActor, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, NewBadInputError("principal_id", "principal id is required")
	}
	return &CredentialActor{principalID: principalID, service: s}, nil
}

func (s *Service) GetAccessToken(ctx context.Context, principalID string, force bool) (AccessToken, error) {
	actor, err := s.Actor(principalID)
	if err != nil {
		return AccessToken{}, err
	}
	return actor.GetAccessToken(ctx, force)
}

func (s *Service) Login(ctx context.Context, principalID string, in LoginInput) error {
	actor, err := s.Actor(principalID)
	if err != nil {
		return err
	}
	return actor.Login(ctx, in)
}

func (s *Service) UpdateIdentity(ctx context.Context, principalID string, in IdentityUpdate) error {
	actor, err := s.Actor(principalID)
	if err != nil {
		return err
	}
	return actor.UpdateIdentity(ctx, in)
}

func (s *Service) Revoke(ctx context.Context, principalID string) error {
	actor, err := s.Actor(principalID)
	if err != nil {
		return err
	}
	return actor.Revoke(ctx)
}

// AppAccessToken returns the app principal's token, acquiring one with the
// client credentials grant when missing, expired, or forced.
func (s *Service) AppAccessToken(ctx context.Context, force bool) (AccessToken, error) {
	if s == nil {
		return AccessToken{}, fmt.Errorf("core: service is nil")
	}
	return s.GetAccessToken(ctx, s.config.AppPrincipalID, force)
}

func (s *Service) EnsureSubscriptions(ctx context.Context, principalID string) (EnsureResult, error) {
	actor, err := s.Actor(principalID)
	if err != nil {
		return EnsureResult{}, err
	}
	return actor.EnsureSubscriptions(ctx, s.config.Subscriptions.RequiredTypes)
}

func (s *Service) ListSubscriptions(ctx context.Context, principalID string) ([]Subscription, error) {
	actor, err := s.Actor(principalID)
	if err != nil {
		return nil, err
	}
	subs, err := s.subscriptionStore.List(ctx, actor.PrincipalID())
	if err != nil {
		return nil, s.mapError(err)
	}
	return subs, nil
}

// Emit records a telemetry data point without blocking.
func (s *Service) Emit(index string, blobs ...string) {
	if s == nil {
		return
	}
	s.telemetry.Emit(index, blobs...)
}

// WaitBackground blocks until scheduled post-login work has returned.
func (s *Service) WaitBackground() {
	if s == nil {
		return
	}
	s.runner.Wait()
}

// Close drains background work and telemetry.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	runnerErr := s.runner.Close(ctx)
	telemetryErr := s.telemetry.Close(ctx)
	return errors.Join(runnerErr, telemetryErr)
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil || s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

var _ AppTokenSource = (*Service)(nil)
