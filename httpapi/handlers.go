package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-credentials/core"
)

type tokenResponse struct {
	Success     bool                 `json:"success"`
	AccessToken string               `json:"access_token"`
	Identity    *core.IdentityClaims `json:"id_token_claims,omitempty"`
	ExpiresAt   string               `json:"expires_at,omitempty"`
}

type ackResponse struct {
	Success bool `json:"success"`
}

type loginRequest struct {
	AccessToken  string               `json:"access_token" binding:"required,min=1"`
	RefreshToken string               `json:"refresh_token"`
	Identity     *core.IdentityClaims `json:"id_token_claims"`
	ExpiresIn    int64                `json:"expires_in" binding:"gt=0"`
}

type userUpdateRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	UserLogin string `json:"user_login" binding:"required"`
	UserName  string `json:"user_name"`
}

type subscriptionsResponse struct {
	Success       bool                `json:"success"`
	Subscriptions []core.Subscription `json:"subscriptions"`
}

type handlers struct {
	service Service
}

func (h handlers) getToken(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	h.token(c, force)
}

func (h handlers) forceToken(c *gin.Context) {
	h.token(c, true)
}

func (h handlers) token(c *gin.Context, force bool) {
	token, err := h.service.GetAccessToken(c.Request.Context(), c.Param("principal_id"), force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(token))
}

func (h handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.NewBadInputError("body", err.Error()))
		return
	}
	err := h.service.Login(c.Request.Context(), c.Param("principal_id"), core.LoginInput{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Identity:     req.Identity,
		ExpiresIn:    req.ExpiresIn,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Success: true})
}

func (h handlers) updateUser(c *gin.Context) {
	var req userUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, core.NewBadInputError("body", err.Error()))
		return
	}
	err := h.service.UpdateIdentity(c.Request.Context(), c.Param("principal_id"), core.IdentityUpdate{
		Subject:     req.UserID,
		Login:       req.UserLogin,
		DisplayName: req.UserName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Success: true})
}

func (h handlers) revoke(c *gin.Context) {
	if err := h.service.Revoke(c.Request.Context(), c.Param("principal_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ackResponse{Success: true})
}

func (h handlers) listSubscriptions(c *gin.Context) {
	subs, err := h.service.ListSubscriptions(c.Request.Context(), c.Param("principal_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if subs == nil {
		subs = []core.Subscription{}
	}
	c.JSON(http.StatusOK, subscriptionsResponse{Success: true, Subscriptions: subs})
}

func (h handlers) getAppToken(c *gin.Context) {
	h.appToken(c, false)
}

func (h handlers) forceAppToken(c *gin.Context) {
	h.appToken(c, true)
}

func (h handlers) appToken(c *gin.Context, force bool) {
	token, err := h.service.AppAccessToken(c.Request.Context(), force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(token))
}

func toTokenResponse(token core.AccessToken) tokenResponse {
	out := tokenResponse{Success: true, AccessToken: token.AccessToken, Identity: token.Identity}
	if !token.ExpiresAt.IsZero() {
		out.ExpiresAt = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func trimmedParam(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Query(name))
}
