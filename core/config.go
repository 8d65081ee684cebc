package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAppPrincipalID       = "app"
	DefaultSafetyMarginSeconds  = 30
	DefaultRequestTimeoutSecond = 10
	DefaultSubscriptionVersion  = "1"
)

var (
	DefaultRequiredSubscriptionTypes = []string{"user.update", "stream.online", "stream.offline"}
	DefaultRequiredLoginScopes       = []string{"moderator:read:followers", "openid"}
)

type TokenConfig struct {
	SafetyMarginSeconds   int `koanf:"safety_margin_seconds" mapstructure:"safety_margin_seconds"`
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

type SubscriptionsConfig struct {
	RequiredTypes   []string `koanf:"required_types" mapstructure:"required_types"`
	CallbackBaseURL string   `koanf:"callback_base_url" mapstructure:"callback_base_url"`
	Version         string   `koanf:"version" mapstructure:"version"`
	MaxParallel     int      `koanf:"max_parallel" mapstructure:"max_parallel"`
}

type LoginConfig struct {
	RequiredScopes []string `koanf:"required_scopes" mapstructure:"required_scopes"`
}

type BackgroundConfig struct {
	MaxConcurrency int `koanf:"max_concurrency" mapstructure:"max_concurrency"`
}

type TelemetryConfig struct {
	BufferSize int `koanf:"buffer_size" mapstructure:"buffer_size"`
}

type Config struct {
	ServiceName    string              `koanf:"service_name" mapstructure:"service_name"`
	AppPrincipalID string              `koanf:"app_principal_id" mapstructure:"app_principal_id"`
	Token          TokenConfig         `koanf:"token" mapstructure:"token"`
	Subscriptions  SubscriptionsConfig `koanf:"subscriptions" mapstructure:"subscriptions"`
	Login          LoginConfig         `koanf:"login" mapstructure:"login"`
	Background     BackgroundConfig    `koanf:"background" mapstructure:"background"`
	Telemetry      TelemetryConfig     `koanf:"telemetry" mapstructure:"telemetry"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "credentials",
		AppPrincipalID: DefaultAppPrincipalID,
		Token: TokenConfig{
			SafetyMarginSeconds:   DefaultSafetyMarginSeconds,
			RequestTimeoutSeconds: DefaultRequestTimeoutSecond,
		},
		Subscriptions: SubscriptionsConfig{
			RequiredTypes: append([]string(nil), DefaultRequiredSubscriptionTypes...),
			Version:       DefaultSubscriptionVersion,
			MaxParallel:   4,
		},
		Login:      LoginConfig{RequiredScopes: append([]string(nil), DefaultRequiredLoginScopes...)},
		Background: BackgroundConfig{MaxConcurrency: 8},
		Telemetry:  TelemetryConfig{BufferSize: 256},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.AppPrincipalID) == "" {
		return fmt.Errorf("core: app_principal_id is required")
	}
	if c.Token.SafetyMarginSeconds < 0 {
		return fmt.Errorf("core: token.safety_margin_seconds must be >= 0")
	}
	if c.Token.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("core: token.request_timeout_seconds must be >= 0")
	}
	if c.Subscriptions.MaxParallel < 0 {
		return fmt.Errorf("core: subscriptions.max_parallel must be >= 0")
	}
	if c.Background.MaxConcurrency < 0 {
		return fmt.Errorf("core: background.max_concurrency must be >= 0")
	}
	if c.Telemetry.BufferSize < 0 {
		return fmt.Errorf("core: telemetry.buffer_size must be >= 0")
	}
	return nil
}

func (c Config) SafetyMargin() time.Duration {
	return time.Duration(c.Token.SafetyMarginSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Token.RequestTimeoutSeconds) * time.Second
}

func (c Config) IsAppPrincipal(principalID string) bool {
	return strings.TrimSpace(principalID) != "" &&
		strings.TrimSpace(principalID) == strings.TrimSpace(c.AppPrincipalID)
}
