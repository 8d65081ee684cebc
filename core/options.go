package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

// ConfigProvider returns a complete config seeded from defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StoreProvider interface {
	CredentialStore() CredentialStore
	SubscriptionStore() SubscriptionStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type serviceBuilder struct {
	runtimeConfig        Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorMapper          ErrorMapper
	configProvider       ConfigProvider
	optionsResolver      OptionsResolver
	persistenceClient    any
	repositoryFactory    any
	credentialStore      CredentialStore
	subscriptionStore    SubscriptionStore
	identityProvider     IdentityProvider
	subscriptionProvider SubscriptionProvider
	userDirectory        UserDirectory
	principalLocker      PrincipalLocker
	telemetrySink        TelemetrySink
	jobEnqueuer          JobEnqueuer
	clock                Clock
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithSubscriptionStore(store SubscriptionStore) Option {
	return func(b *serviceBuilder) {
		b.subscriptionStore = store
	}
}

func WithIdentityProvider(provider IdentityProvider) Option {
	return func(b *serviceBuilder) {
		b.identityProvider = provider
	}
}

func WithSubscriptionProvider(provider SubscriptionProvider) Option {
	return func(b *serviceBuilder) {
		b.subscriptionProvider = provider
	}
}

func WithUserDirectory(directory UserDirectory) Option {
	return func(b *serviceBuilder) {
		b.userDirectory = directory
	}
}

func WithPrincipalLocker(locker PrincipalLocker) Option {
	return func(b *serviceBuilder) {
		b.principalLocker = locker
	}
}

func WithTelemetrySink(sink TelemetrySink) Option {
	return func(b *serviceBuilder) {
		b.telemetrySink = sink
	}
}

// WithJobEnqueuer moves post-login subscription work onto a job queue.
func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("credentials", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader serves a fixed raw config map.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayerMap(loaded),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// loadedLayerMap keeps explicit zero token values. A loaded config is built
// on top of the defaults, so a zero there was set on purpose.
func loadedLayerMap(loaded Config) map[string]any {
	layer := configToLayerMap(loaded, false)
	layer["token"] = map[string]any{
		"safety_margin_seconds":   loaded.Token.SafetyMarginSeconds,
		"request_timeout_seconds": loaded.Token.RequestTimeoutSeconds,
	}
	return layer
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.AppPrincipalID) != "" {
		layer["app_principal_id"] = cfg.AppPrincipalID
	}

	token := map[string]any{}
	if includeZero || cfg.Token.SafetyMarginSeconds > 0 {
		token["safety_margin_seconds"] = cfg.Token.SafetyMarginSeconds
	}
	if includeZero || cfg.Token.RequestTimeoutSeconds > 0 {
		token["request_timeout_seconds"] = cfg.Token.RequestTimeoutSeconds
	}
	if len(token) > 0 {
		layer["token"] = token
	}

	subscriptions := map[string]any{}
	if includeZero || len(cfg.Subscriptions.RequiredTypes) > 0 {
		subscriptions["required_types"] = append([]string(nil), cfg.Subscriptions.RequiredTypes...)
	}
	if includeZero || strings.TrimSpace(cfg.Subscriptions.CallbackBaseURL) != "" {
		subscriptions["callback_base_url"] = cfg.Subscriptions.CallbackBaseURL
	}
	if includeZero || strings.TrimSpace(cfg.Subscriptions.Version) != "" {
		subscriptions["version"] = cfg.Subscriptions.Version
	}
	if includeZero || cfg.Subscriptions.MaxParallel > 0 {
		subscriptions["max_parallel"] = cfg.Subscriptions.MaxParallel
	}
	if len(subscriptions) > 0 {
		layer["subscriptions"] = subscriptions
	}

	if includeZero || len(cfg.Login.RequiredScopes) > 0 {
		layer["login"] = map[string]any{
			"required_scopes": append([]string(nil), cfg.Login.RequiredScopes...),
		}
	}
	if includeZero || cfg.Background.MaxConcurrency > 0 {
		layer["background"] = map[string]any{"max_concurrency": cfg.Background.MaxConcurrency}
	}
	if includeZero || cfg.Telemetry.BufferSize > 0 {
		layer["telemetry"] = map[string]any{"buffer_size": cfg.Telemetry.BufferSize}
	}
	return layer
}
