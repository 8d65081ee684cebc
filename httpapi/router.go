package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-credentials/core"
)

// Service is the credential service surface exposed over HTTP.
type Service interface {
	GetAccessToken(ctx context.Context, principalID string, force bool) (core.AccessToken, error)
	AppAccessToken(ctx context.Context, force bool) (core.AccessToken, error)
	Login(ctx context.Context, principalID string, in core.LoginInput) error
	UpdateIdentity(ctx context.Context, principalID string, in core.IdentityUpdate) error
	Revoke(ctx context.Context, principalID string) error
	CompleteLogin(ctx context.Context, req core.CompleteLoginRequest) (core.CompleteLoginResult, error)
	ListSubscriptions(ctx context.Context, principalID string) ([]core.Subscription, error)
}

type LoginURLBuilder interface {
	LoginURL(state string, redirectURI string) string
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Service Service
	Logger  glog.Logger

	// APIToken is the bearer token required on the principal and app token
	// routes. Webhook, login callback, and health routes stay open.
	APIToken string

	// Webhooks maps a category segment to its handler, served at
	// POST /webhooks/:category.
	Webhooks map[string]http.Handler

	LoginURL LoginURLBuilder
	// RedirectURI is the absolute callback URL registered with the
	// provider. Empty derives it from the request host.
	RedirectURI string
	// AfterLoginURL is where a completed login redirects. Empty answers
	// with plain text.
	AfterLoginURL string
	SecureCookies bool

	Readiness    Pinger
	ReadyTimeout time.Duration
	Metrics      http.Handler
}

func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("httpapi: credential service is required")
	}
	apiToken := strings.TrimSpace(cfg.APIToken)
	if apiToken == "" {
		return nil, fmt.Errorf("httpapi: api token is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	logger := glog.Ensure(cfg.Logger)

	router := gin.New()
	router.Use(RequestID(), Recovery(logger), RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/readyz", readiness(cfg.Readiness, cfg.ReadyTimeout))
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	h := handlers{service: cfg.Service}
	requireToken := RequireBearer(apiToken)
	principals := router.Group("/principals/:principal_id", requireToken)
	principals.GET("/token", h.getToken)
	principals.POST("/token", h.forceToken)
	principals.POST("/login", h.login)
	principals.POST("/user", h.updateUser)
	principals.POST("/revoked", h.revoke)
	principals.GET("/subscriptions", h.listSubscriptions)

	app := router.Group("/app", requireToken)
	app.GET("/token", h.getAppToken)
	app.POST("/token", h.forceAppToken)

	auth := authHandlers{
		service:       cfg.Service,
		loginURL:      cfg.LoginURL,
		redirectURI:   strings.TrimSpace(cfg.RedirectURI),
		afterLoginURL: strings.TrimSpace(cfg.AfterLoginURL),
		secureCookies: cfg.SecureCookies,
		logger:        logger,
	}
	if cfg.LoginURL != nil {
		router.GET("/auth/login", auth.begin)
	}
	router.GET("/auth/callback", auth.callback)

	webhooks := make(map[string]http.Handler, len(cfg.Webhooks))
	for category, handler := range cfg.Webhooks {
		category = strings.Trim(strings.TrimSpace(category), "/")
		if category == "" || handler == nil {
			continue
		}
		webhooks[category] = handler
	}
	router.POST("/webhooks/:category", func(c *gin.Context) {
		handler, ok := webhooks[c.Param("category")]
		if !ok {
			c.String(http.StatusNotFound, http.StatusText(http.StatusNotFound))
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	})

	return router, nil
}

func readiness(pinger Pinger, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pinger == nil {
			c.String(http.StatusOK, "ok")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		if err := pinger.PingContext(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	}
}
