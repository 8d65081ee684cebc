package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-credentials/core"
)

const (
	DefaultJWKSURL = "https://id.twitch.tv/oauth2/keys"
	DefaultIssuer  = "https://id.twitch.tv/oauth2"

	claimSubject           = "sub"
	claimPreferredUsername = "preferred_username"
)

type IDTokenConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// IDTokenVerifier turns id_token values into identity claims. A verifier
// without keys only decodes the payload.
type IDTokenVerifier struct {
	keys     keyfunc.Keyfunc
	issuer   string
	audience string
	leeway   time.Duration
}

// NewIDTokenVerifier fetches the JWKS at cfg.JWKSURL and keeps it refreshed
// in the background until ctx is done.
func NewIDTokenVerifier(ctx context.Context, cfg IDTokenConfig) (*IDTokenVerifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("providers: jwks url is required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("providers: fetch jwks from %s: %w", jwksURL, err)
	}
	return NewIDTokenVerifierWithKeys(kf, cfg), nil
}

func NewIDTokenVerifierWithKeys(keys keyfunc.Keyfunc, cfg IDTokenConfig) *IDTokenVerifier {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 5 * time.Second
	}
	return &IDTokenVerifier{
		keys:     keys,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   leeway,
	}
}

// Claims decodes raw. sub and preferred_username are required; every other
// claim is passed through in Extra.
func (v *IDTokenVerifier) Claims(_ context.Context, raw string) (core.IdentityClaims, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return core.IdentityClaims{}, fmt.Errorf("id token is not a compact JWT")
	}

	claims := jwt.MapClaims{}
	if v == nil || v.keys == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return core.IdentityClaims{}, fmt.Errorf("decode id token: %w", err)
		}
	} else {
		opts := []jwt.ParserOption{jwt.WithLeeway(v.leeway)}
		if v.issuer != "" {
			opts = append(opts, jwt.WithIssuer(v.issuer))
		}
		if v.audience != "" {
			opts = append(opts, jwt.WithAudience(v.audience))
		}
		token, err := jwt.ParseWithClaims(raw, claims, v.keys.Keyfunc, opts...)
		if err != nil {
			return core.IdentityClaims{}, fmt.Errorf("verify id token: %w", err)
		}
		if !token.Valid {
			return core.IdentityClaims{}, fmt.Errorf("id token is not valid")
		}
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims jwt.MapClaims) (core.IdentityClaims, error) {
	subject := stringClaim(claims, claimSubject)
	if subject == "" {
		return core.IdentityClaims{}, fmt.Errorf("id token has no sub claim")
	}
	login := stringClaim(claims, claimPreferredUsername)
	if login == "" {
		return core.IdentityClaims{}, fmt.Errorf("id token has no preferred_username claim")
	}
	out := core.IdentityClaims{Subject: subject, Login: login}
	for key, value := range claims {
		if key == claimSubject || key == claimPreferredUsername {
			continue
		}
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra[key] = value
	}
	return out, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
