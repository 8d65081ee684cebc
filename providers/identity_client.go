package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/goliatone/go-credentials/core"
)

const (
	DefaultAuthURL  = "https://id.twitch.tv/oauth2/authorize"
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

	defaultTokenRequestTimeout = 10 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB

	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
	grantAuthorizationCode = "authorization_code"

	invalidRefreshTokenMessage = "invalid refresh token"
	invalidAuthCodeMessage     = "invalid authorization code"
)

type IdentityConfig struct {
	AuthURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Scopes         []string
	RequestTimeout time.Duration
	HTTPClient     core.HTTPDoer
	// IDTokens decodes id_token values in user grants. Nil means decode
	// without signature verification.
	IDTokens *IDTokenVerifier
}

// IdentityClient talks to the provider's OAuth token endpoint.
type IdentityClient struct {
	cfg        IdentityConfig
	oauth      oauth2.Config
	httpClient core.HTTPDoer
	idTokens   *IDTokenVerifier
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token" validate:"required,min=10"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in" validate:"gte=60"`
	IDToken      string    `json:"id_token"`
	TokenType    string    `json:"token_type"`
	Scope        scopeList `json:"scope"`
}

type tokenErrorResponse struct {
	Status           int    `json:"status"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// scopeList accepts both a JSON array and a space separated string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		items := []string{}
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*s = items
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	*s = strings.Fields(joined)
	return nil
}

var responseValidator = validator.New(validator.WithRequiredStructEnabled())

func NewIdentityClient(cfg IdentityConfig) (*IdentityClient, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("providers: client secret is required")
	}
	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &IdentityClient{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: append([]string(nil), cfg.Scopes...),
		},
		httpClient: httpClient,
		idTokens:   cfg.IDTokens,
	}, nil
}

// LoginURL builds the authorization redirect for the configured scopes.
func (c *IdentityClient) LoginURL(state string, redirectURI string) string {
	cfg := c.oauth
	cfg.RedirectURL = strings.TrimSpace(redirectURI)
	return cfg.AuthCodeURL(state)
}

func (c *IdentityClient) Scopes() []string {
	return append([]string(nil), c.cfg.Scopes...)
}

func (c *IdentityClient) RefreshToken(ctx context.Context, refreshToken string) (core.TokenGrant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, core.NewBadInputError("refresh_token", "refresh token is required")
	}
	form := url.Values{}
	form.Set("grant_type", grantRefreshToken)
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form)
}

func (c *IdentityClient) ClientCredentials(ctx context.Context) (core.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", grantClientCredentials)
	return c.fetchToken(ctx, form)
}

func (c *IdentityClient) ExchangeCode(ctx context.Context, code string, redirectURI string) (core.TokenGrant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenGrant{}, core.NewBadInputError("code", "authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", grantAuthorizationCode)
	form.Set("code", code)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return c.fetchToken(ctx, form)
}

func (c *IdentityClient) fetchToken(ctx context.Context, form url.Values) (core.TokenGrant, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	grantType := form.Get("grant_type")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenGrant{}, core.NewProviderError(err, "providers: build token request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Client-Id", c.cfg.ClientID)

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenGrant{}, core.NewProviderError(err, "providers: token request failed")
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if err != nil {
		return core.TokenGrant{}, core.NewProviderError(err, "providers: read token response")
	}
	if len(body) > maxTokenResponseBodyBytes {
		return core.TokenGrant{}, core.NewParseError(nil, fmt.Sprintf("providers: token response exceeds %d bytes", maxTokenResponseBodyBytes))
	}
	if response.StatusCode != http.StatusOK {
		return core.TokenGrant{}, classifyTokenError(grantType, response.StatusCode, body)
	}
	return c.parseGrant(ctx, grantType, body)
}

func (c *IdentityClient) parseGrant(ctx context.Context, grantType string, body []byte) (core.TokenGrant, error) {
	payload := tokenResponse{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.TokenGrant{}, core.NewParseError(err, "providers: decode token response")
	}
	if err := responseValidator.Struct(payload); err != nil {
		return core.TokenGrant{}, core.NewParseError(err, "providers: token response failed validation")
	}
	userGrant := grantType != grantClientCredentials
	if userGrant {
		if err := responseValidator.Var(payload.RefreshToken, "required,min=10"); err != nil {
			return core.TokenGrant{}, core.NewParseError(err, "providers: token response has no usable refresh_token")
		}
	}

	grant := core.TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
		ExpiresIn:    payload.ExpiresIn,
		Scopes:       []string(payload.Scope),
	}
	if userGrant && strings.TrimSpace(payload.IDToken) != "" {
		claims, err := c.idTokens.Claims(ctx, payload.IDToken)
		if err != nil {
			return core.TokenGrant{}, core.NewParseError(err, "providers: invalid id_token")
		}
		grant.Identity = &claims
	}
	return grant, nil
}

// classifyTokenError turns a non-200 token endpoint response into a tagged
// error. Upstream messages are matched here and nowhere else.
func classifyTokenError(grantType string, status int, body []byte) error {
	message := describeTokenError(body)
	lowered := strings.ToLower(message)
	switch {
	case grantType == grantRefreshToken && strings.Contains(lowered, invalidRefreshTokenMessage):
		return core.NewRevokedError("").WithMetadata(map[string]any{"upstream_status": status})
	case grantType == grantAuthorizationCode && strings.Contains(lowered, invalidAuthCodeMessage):
		return core.NewBadInputError("code", message)
	default:
		return core.NewProviderError(nil, fmt.Sprintf("providers: token endpoint error (%d): %s", status, message))
	}
}

func describeTokenError(body []byte) string {
	payload := tokenErrorResponse{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.ErrorDescription, payload.ErrorCode} {
			if candidate = strings.TrimSpace(candidate); candidate != "" {
				return candidate
			}
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		return trimmed
	}
	return "unknown error"
}

func normalizeScopes(input []string) []string {
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		for _, scope := range strings.Fields(value) {
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			values = append(values, scope)
		}
	}
	return values
}

var _ core.IdentityProvider = (*IdentityClient)(nil)
