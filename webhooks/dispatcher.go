package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	ResponseOK            = "ok"
	ResponseForbidden     = "Forbidden"
	ResponseInternalError = "Internal Server Error"

	maxDeliveryBytes = 1 << 20
)

// Response is the only shape that leaves a dispatcher: 200, 403 or 500 with
// a plain-text body.
type Response struct {
	Status int
	Body   string
}

func okResponse(body string) Response {
	return Response{Status: http.StatusOK, Body: body}
}

func forbiddenResponse() Response {
	return Response{Status: http.StatusForbidden, Body: ResponseForbidden}
}

func internalErrorResponse() Response {
	return Response{Status: http.StatusInternalServerError, Body: ResponseInternalError}
}

// SecretResolver returns the signing secret for a delivery's subscription.
type SecretResolver func(ctx context.Context, subscription Subscription) (string, error)

// StaticSecret resolves every subscription to the same secret.
func StaticSecret(secret string) SecretResolver {
	return func(context.Context, Subscription) (string, error) {
		if secret == "" {
			return "", fmt.Errorf("webhook secret is not configured")
		}
		return secret, nil
	}
}

type MessageHandler func(ctx context.Context, msg Message) error

type ErrorHandler func(ctx context.Context, err error)

type Config struct {
	Name           string
	Secrets        SecretResolver
	AllowedTypes   []string
	Headers        HeaderNames
	OnSubscribe    MessageHandler
	OnNotification MessageHandler
	OnUnsubscribe  MessageHandler
	OnError        ErrorHandler
	Logger         core.Logger
}

// Dispatcher verifies deliveries and routes them by message kind. It keeps no
// mutable state and is safe for concurrent use.
type Dispatcher struct {
	name           string
	secrets        SecretResolver
	allowedTypes   map[string]struct{}
	headers        HeaderNames
	onSubscribe    MessageHandler
	onNotification MessageHandler
	onUnsubscribe  MessageHandler
	onError        ErrorHandler
	logger         core.Logger
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("webhooks: secret resolver is required")
	}
	if cfg.OnNotification == nil {
		return nil, fmt.Errorf("webhooks: notification handler is required")
	}
	allowed := map[string]struct{}{}
	for _, typ := range cfg.AllowedTypes {
		if typ = strings.TrimSpace(typ); typ != "" {
			allowed[typ] = struct{}{}
		}
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "webhooks"
	}
	return &Dispatcher{
		name:           name,
		secrets:        cfg.Secrets,
		allowedTypes:   allowed,
		headers:        cfg.Headers.withDefaults(),
		onSubscribe:    cfg.OnSubscribe,
		onNotification: cfg.OnNotification,
		onUnsubscribe:  cfg.OnUnsubscribe,
		onError:        cfg.OnError,
		logger:         cfg.Logger,
	}, nil
}

func (d *Dispatcher) Name() string {
	return d.name
}

// Handle runs the full pipeline for one delivery.
func (d *Dispatcher) Handle(ctx context.Context, header http.Header, body []byte) Response {
	if ctx == nil {
		ctx = context.Background()
	}
	headers, err := readDeliveryHeaders(header, d.headers, d.allowedTypes)
	if err != nil {
		return d.reject(ctx, err)
	}
	env, err := parseEnvelope(body)
	if err != nil {
		return d.reject(ctx, err)
	}
	secret, err := d.secrets(ctx, *env.Subscription)
	if err != nil {
		return d.reject(ctx, fmt.Errorf("resolve secret: %w", err))
	}
	if !Verify(secret, headers.MessageID, headers.MessageTimestamp, body, headers.Signature) {
		return d.reject(ctx, errors.New("signature mismatch"))
	}

	msg := Message{
		ID:           headers.MessageID,
		Timestamp:    headers.Timestamp,
		Kind:         headers.Kind,
		Subscription: *env.Subscription,
	}
	switch headers.Kind {
	case KindChallenge:
		challenge, err := env.requireChallenge()
		if err != nil {
			return d.reject(ctx, err)
		}
		msg.Challenge = challenge
		if d.onSubscribe != nil {
			if err := d.invoke(ctx, d.onSubscribe, msg); err != nil {
				return d.fail(ctx, err)
			}
		}
		return okResponse(challenge)
	case KindNotification:
		if err := env.requireEvent(); err != nil {
			return d.reject(ctx, err)
		}
		msg.Event = env.rawEvent
		if err := d.invoke(ctx, d.onNotification, msg); err != nil {
			return d.fail(ctx, err)
		}
		return okResponse(ResponseOK)
	case KindRevocation:
		if d.onUnsubscribe != nil {
			if err := d.invoke(ctx, d.onUnsubscribe, msg); err != nil {
				d.log(ctx, "unsubscribe handler failed", err)
			}
		}
		return okResponse(ResponseOK)
	default:
		return d.reject(ctx, fmt.Errorf("unsupported message kind %q", headers.Kind))
	}
}

// ServeHTTP adapts Handle to net/http.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes+1))
	var response Response
	switch {
	case err != nil:
		response = d.reject(r.Context(), fmt.Errorf("read body: %w", err))
	case len(body) > maxDeliveryBytes:
		response = d.reject(r.Context(), errors.New("body exceeds size limit"))
	default:
		response = d.Handle(r.Context(), r.Header, body)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(response.Status)
	_, _ = io.WriteString(w, response.Body)
}

func (d *Dispatcher) invoke(ctx context.Context, handler MessageHandler, msg Message) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, msg)
}

func (d *Dispatcher) reject(ctx context.Context, cause error) Response {
	d.report(ctx, core.NewRejectedError(d.name+": "+cause.Error()))
	return forbiddenResponse()
}

func (d *Dispatcher) fail(ctx context.Context, cause error) Response {
	d.report(ctx, core.NewCallbackError(cause, d.name+": handler failed"))
	return internalErrorResponse()
}

func (d *Dispatcher) report(ctx context.Context, err error) {
	d.log(ctx, "webhook delivery not processed", err)
	if d.onError == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	d.onError(ctx, err)
}

func (d *Dispatcher) log(ctx context.Context, message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.WithContext(ctx).Warn(message, "dispatcher", d.name, "error", err.Error())
}
