package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorNotLoggedIn    = "CREDENTIAL_NOT_LOGGED_IN"
	ErrorRevoked        = "CREDENTIAL_REVOKED"
	ErrorProvider       = "CREDENTIAL_PROVIDER_ERROR"
	ErrorParse          = "CREDENTIAL_PARSE_ERROR"
	ErrorBadInput       = "CREDENTIAL_BAD_INPUT"
	ErrorWebhookReject  = "WEBHOOK_REJECTED"
	ErrorWebhookHandler = "WEBHOOK_CALLBACK_FAILED"
	ErrorInternal       = "CREDENTIAL_INTERNAL_ERROR"
)

// ErrorKind is the tagged outcome callers branch on instead of error text.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotLoggedIn   ErrorKind = "not_logged_in"
	KindRevoked       ErrorKind = "revoked"
	KindProviderError ErrorKind = "provider_error"
	KindParseError    ErrorKind = "parse_error"
	KindBadInput      ErrorKind = "bad_input"
	KindRejected      ErrorKind = "rejected"
	KindCallbackError ErrorKind = "callback_error"
	KindInternal      ErrorKind = "internal"
)

func NewNotLoggedInError(principalID string) *goerrors.Error {
	return goerrors.New("core: not logged in", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorNotLoggedIn).
		WithMetadata(map[string]any{"principal_id": principalID})
}

func NewRevokedError(principalID string) *goerrors.Error {
	return goerrors.New("core: auth was revoked", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorRevoked).
		WithMetadata(map[string]any{"principal_id": principalID})
}

func NewProviderError(err error, message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "core: identity provider request failed"
	}
	if err == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorProvider)
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorProvider)
}

func NewParseError(err error, message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "core: malformed identity provider payload"
	}
	if err == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorParse)
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorParse)
}

func NewBadInputError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func NewRejectedError(reason string) *goerrors.Error {
	return goerrors.New(strings.TrimSpace(reason), goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(ErrorWebhookReject)
}

func NewCallbackError(err error, message string) *goerrors.Error {
	if err == nil {
		return goerrors.New(message, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorWebhookHandler)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorWebhookHandler)
}

// KindOf reports the tagged kind carried by err. Untagged errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return KindInternal
	}
	switch strings.TrimSpace(richErr.TextCode) {
	case ErrorNotLoggedIn:
		return KindNotLoggedIn
	case ErrorRevoked:
		return KindRevoked
	case ErrorProvider:
		return KindProviderError
	case ErrorParse:
		return KindParseError
	case ErrorBadInput:
		return KindBadInput
	case ErrorWebhookReject:
		return KindRejected
	case ErrorWebhookHandler:
		return KindCallbackError
	default:
		return KindInternal
	}
}

func IsNotLoggedIn(err error) bool {
	return KindOf(err) == KindNotLoggedIn
}

func IsRevoked(err error) bool {
	return KindOf(err) == KindRevoked
}

// IsProviderError includes parse failures, which are not locally recoverable either.
func IsProviderError(err error) bool {
	kind := KindOf(err)
	return kind == KindProviderError || kind == KindParseError
}

func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotLoggedIn
	case goerrors.CategoryAuth:
		return ErrorRevoked
	case goerrors.CategoryAuthz:
		return ErrorWebhookReject
	case goerrors.CategoryExternal:
		return ErrorProvider
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
