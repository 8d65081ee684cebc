package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-credentials/core"
)

const (
	stateCookieName   = "credentials_oauth_state"
	stateCookieMaxAge = 600
	callbackPath      = "/auth/callback"
)

type authHandlers struct {
	service       Service
	loginURL      LoginURLBuilder
	redirectURI   string
	afterLoginURL string
	secureCookies bool
	logger        glog.Logger
}

func (h authHandlers) begin(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, stateCookieMaxAge, callbackPath, "", h.secureCookies, true)
	c.Redirect(http.StatusFound, h.loginURL.LoginURL(state, h.redirectFor(c)))
}

// callback completes the authorization-code flow. When a state cookie was
// issued by begin the returned state must match it.
func (h authHandlers) callback(c *gin.Context) {
	if cookie, err := c.Cookie(stateCookieName); err == nil && cookie != "" {
		state := trimmedParam(c, "state")
		if subtle.ConstantTimeCompare([]byte(cookie), []byte(state)) != 1 {
			c.String(http.StatusBadRequest, "Failed to login, invalid state. Please try again.")
			return
		}
		c.SetCookie(stateCookieName, "", -1, callbackPath, "", h.secureCookies, true)
	}

	result, err := h.service.CompleteLogin(c.Request.Context(), core.CompleteLoginRequest{
		Code:        trimmedParam(c, "code"),
		Scope:       c.Query("scope"),
		RedirectURI: h.redirectFor(c),
		Error:       trimmedParam(c, "error"),
		Description: c.Query("error_description"),
	})
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("login callback failed", "error", err.Error())
		c.String(loginFailureStatus(err), loginFailureMessage(err))
		return
	}
	if h.afterLoginURL != "" {
		c.Redirect(http.StatusFound, h.afterLoginURL)
		return
	}
	login := result.Identity.Login
	if login == "" {
		login = result.PrincipalID
	}
	c.String(http.StatusOK, "Logged in as "+login+".")
}

func (h authHandlers) redirectFor(c *gin.Context) string {
	if h.redirectURI != "" {
		return h.redirectURI
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + callbackPath
}

func loginFailureStatus(err error) int {
	if core.KindOf(err) == core.KindInternal {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func loginFailureMessage(err error) string {
	switch core.KindOf(err) {
	case core.KindBadInput:
		return "Failed to login, invalid request. Please try again."
	case core.KindProviderError, core.KindParseError:
		return "Failed to login, provider error. Please try again."
	default:
		return "Failed to login, internal error. Please try again."
	}
}
