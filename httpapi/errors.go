package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-credentials/core"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// StatusFor maps a service error to its HTTP status using the envelope code.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := core.MapError(err)
	if mapped == nil || mapped.Code < http.StatusBadRequest || mapped.Code > 599 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := errorBody{Success: false, Error: publicMessage(err, status)}
	if mapped := core.MapError(err); mapped != nil {
		body.Code = mapped.TextCode
	}
	c.JSON(status, body)
}

func publicMessage(err error, status int) string {
	switch core.KindOf(err) {
	case core.KindNotLoggedIn:
		return "not logged in"
	case core.KindRevoked:
		return "auth was revoked"
	case core.KindBadInput:
		return "invalid request"
	case core.KindProviderError, core.KindParseError:
		return "identity provider error"
	}
	return http.StatusText(status)
}
