package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/providers"
)

const envPrefix = "CREDENTIALS"

type daemonConfig struct {
	Server   serverConfig     `mapstructure:"server"`
	Database databaseConfig   `mapstructure:"database"`
	Security securityConfig   `mapstructure:"security"`
	Provider providers.Config `mapstructure:"provider"`
	Log      logConfig        `mapstructure:"log"`

	Credentials core.Config `mapstructure:"credentials"`
}

type serverConfig struct {
	Addr            string        `mapstructure:"addr"`
	APIToken        string        `mapstructure:"api_token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RedirectURI     string        `mapstructure:"redirect_uri"`
	AfterLoginURL   string        `mapstructure:"after_login_url"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
}

type databaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	Debug       bool          `mapstructure:"debug"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type securityConfig struct {
	AppKey     string `mapstructure:"app_key"`
	KeyID      string `mapstructure:"key_id"`
	KeyVersion int    `mapstructure:"key_version"`
}

type logConfig struct {
	Level string `mapstructure:"level"`
}

// newViper reads CREDENTIALS_* environment variables and an optional config
// file. Nested keys use "_" in the environment: CREDENTIALS_DATABASE_DSN.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.redirect_uri", "")
	v.SetDefault("server.after_login_url", "/")
	v.SetDefault("server.secure_cookies", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:credentials.db?cache=shared&_foreign_keys=on")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.ping_timeout", "5s")
	v.SetDefault("database.cache_ttl", "1m")

	v.SetDefault("security.app_key", "")
	v.SetDefault("security.key_id", "app-key")
	v.SetDefault("security.key_version", 1)

	v.SetDefault("provider.client_id", "")
	v.SetDefault("provider.client_secret", "")
	v.SetDefault("provider.auth_url", "")
	v.SetDefault("provider.token_url", "")
	v.SetDefault("provider.api_base_url", "")
	v.SetDefault("provider.webhook_secret", "")
	v.SetDefault("provider.scopes", core.DefaultRequiredLoginScopes)
	v.SetDefault("provider.jwks_url", "")
	v.SetDefault("provider.issuer", "")
	v.SetDefault("provider.verify_id_tokens", false)
	v.SetDefault("provider.request_timeout", "10s")

	v.SetDefault("log.level", "info")

	defaults := core.DefaultConfig()
	v.SetDefault("credentials.service_name", defaults.ServiceName)
	v.SetDefault("credentials.app_principal_id", defaults.AppPrincipalID)
	v.SetDefault("credentials.token.safety_margin_seconds", defaults.Token.SafetyMarginSeconds)
	v.SetDefault("credentials.token.request_timeout_seconds", defaults.Token.RequestTimeoutSeconds)
	v.SetDefault("credentials.subscriptions.required_types", defaults.Subscriptions.RequiredTypes)
	v.SetDefault("credentials.subscriptions.callback_base_url", defaults.Subscriptions.CallbackBaseURL)
	v.SetDefault("credentials.subscriptions.version", defaults.Subscriptions.Version)
	v.SetDefault("credentials.subscriptions.max_parallel", defaults.Subscriptions.MaxParallel)
	v.SetDefault("credentials.login.required_scopes", defaults.Login.RequiredScopes)
	v.SetDefault("credentials.background.max_concurrency", defaults.Background.MaxConcurrency)
	v.SetDefault("credentials.telemetry.buffer_size", defaults.Telemetry.BufferSize)
}

func loadDaemonConfig(v *viper.Viper) (daemonConfig, error) {
	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Provider.Scopes = splitList(cfg.Provider.Scopes)
	if strings.TrimSpace(cfg.Security.AppKey) == "" {
		return daemonConfig{}, fmt.Errorf("security.app_key is required")
	}
	if strings.TrimSpace(cfg.Server.APIToken) == "" {
		return daemonConfig{}, fmt.Errorf("server.api_token is required")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return daemonConfig{}, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	return cfg, nil
}

// viperConfigLoader feeds the "credentials" subtree decoded by viper to
// core's config provider, so environment strings arrive typed.
type viperConfigLoader struct {
	cfg core.Config
}

func (l viperConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	cfg := l.cfg
	return map[string]any{
		"service_name":     cfg.ServiceName,
		"app_principal_id": cfg.AppPrincipalID,
		"token": map[string]any{
			"safety_margin_seconds":   cfg.Token.SafetyMarginSeconds,
			"request_timeout_seconds": cfg.Token.RequestTimeoutSeconds,
		},
		"subscriptions": map[string]any{
			"required_types":    splitList(cfg.Subscriptions.RequiredTypes),
			"callback_base_url": cfg.Subscriptions.CallbackBaseURL,
			"version":           cfg.Subscriptions.Version,
			"max_parallel":      cfg.Subscriptions.MaxParallel,
		},
		"login": map[string]any{
			"required_scopes": splitList(cfg.Login.RequiredScopes),
		},
		"background": map[string]any{
			"max_concurrency": cfg.Background.MaxConcurrency,
		},
		"telemetry": map[string]any{
			"buffer_size": cfg.Telemetry.BufferSize,
		},
	}, nil
}

// splitList accepts both list values and a single comma or space separated
// environment string.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var _ core.RawConfigLoader = viperConfigLoader{}
