package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
)

// Config carries everything needed to talk to the identity provider.
type Config struct {
	ClientID       string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret   string        `koanf:"client_secret" mapstructure:"client_secret"`
	AuthURL        string        `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL       string        `koanf:"token_url" mapstructure:"token_url"`
	APIBaseURL     string        `koanf:"api_base_url" mapstructure:"api_base_url"`
	WebhookSecret  string        `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	Scopes         []string      `koanf:"scopes" mapstructure:"scopes"`
	JWKSURL        string        `koanf:"jwks_url" mapstructure:"jwks_url"`
	Issuer         string        `koanf:"issuer" mapstructure:"issuer"`
	VerifyIDTokens bool          `koanf:"verify_id_tokens" mapstructure:"verify_id_tokens"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

// Clients groups the provider clients wired into a credential service.
type Clients struct {
	Identity      *IdentityClient
	Subscriptions *EventSubClient
	Users         *UsersClient
}

// Options returns the core options that install these clients.
func (c Clients) Options() []core.Option {
	return []core.Option{
		core.WithIdentityProvider(c.Identity),
		core.WithSubscriptionProvider(c.Subscriptions),
		core.WithUserDirectory(c.Users),
	}
}

func New(ctx context.Context, cfg Config, httpClient core.HTTPDoer) (Clients, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return Clients{}, fmt.Errorf("providers: client_id is required")
	}
	var verifier *IDTokenVerifier
	if cfg.VerifyIDTokens {
		jwksURL := cfg.JWKSURL
		if strings.TrimSpace(jwksURL) == "" {
			jwksURL = DefaultJWKSURL
		}
		issuer := cfg.Issuer
		if strings.TrimSpace(issuer) == "" {
			issuer = DefaultIssuer
		}
		var err error
		verifier, err = NewIDTokenVerifier(ctx, IDTokenConfig{
			JWKSURL:  jwksURL,
			Issuer:   issuer,
			Audience: cfg.ClientID,
		})
		if err != nil {
			return Clients{}, err
		}
	}

	identity, err := NewIdentityClient(IdentityConfig{
		AuthURL:        cfg.AuthURL,
		TokenURL:       cfg.TokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Scopes:         cfg.Scopes,
		RequestTimeout: cfg.RequestTimeout,
		HTTPClient:     httpClient,
		IDTokens:       verifier,
	})
	if err != nil {
		return Clients{}, err
	}
	api := APIConfig{
		BaseURL:        cfg.APIBaseURL,
		ClientID:       cfg.ClientID,
		RequestTimeout: cfg.RequestTimeout,
		HTTPClient:     httpClient,
	}
	subscriptions, err := NewEventSubClient(EventSubConfig{APIConfig: api, WebhookSecret: cfg.WebhookSecret})
	if err != nil {
		return Clients{}, err
	}
	users, err := NewUsersClient(api)
	if err != nil {
		return Clients{}, err
	}
	return Clients{Identity: identity, Subscriptions: subscriptions, Users: users}, nil
}
