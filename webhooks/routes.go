package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	TypeAuthorizationGrant  = "user.authorization.grant"
	TypeAuthorizationRevoke = "user.authorization.revoke"
	TypeUserUpdate          = "user.update"
	TypeStreamOnline        = "stream.online"
	TypeStreamOffline       = "stream.offline"
)

// CredentialService is the slice of the credential service the webhook
// routes drive.
type CredentialService interface {
	Revoke(ctx context.Context, principalID string) error
	UpdateIdentity(ctx context.Context, principalID string, in core.IdentityUpdate) error
	Emit(index string, blobs ...string)
}

type RouteOptions struct {
	Secrets SecretResolver
	Headers HeaderNames
	Logger  core.Logger
}

// Routes holds the dispatcher for each webhook category, keyed by the
// category segment used in subscription callback URLs.
type Routes struct {
	Authorization *Dispatcher
	User          *Dispatcher
	Stream        *Dispatcher
}

func (r Routes) ByCategory() map[string]*Dispatcher {
	return map[string]*Dispatcher{
		"authorization": r.Authorization,
		"user":          r.User,
		"stream":        r.Stream,
	}
}

func NewRoutes(service CredentialService, opts RouteOptions) (Routes, error) {
	if service == nil {
		return Routes{}, fmt.Errorf("webhooks: credential service is required")
	}
	authorization, err := NewAuthorizationDispatcher(service, opts)
	if err != nil {
		return Routes{}, err
	}
	user, err := NewUserDispatcher(service, opts)
	if err != nil {
		return Routes{}, err
	}
	stream, err := NewStreamDispatcher(service, opts)
	if err != nil {
		return Routes{}, err
	}
	return Routes{Authorization: authorization, User: user, Stream: stream}, nil
}

type authorizationEvent struct {
	UserID   string  `json:"user_id"`
	UserName *string `json:"user_name"`
}

// NewAuthorizationDispatcher revokes a principal's credential when the
// provider reports the user withdrew authorization. The signed delivery is
// trusted as is; the provider's token validation endpoint is not consulted.
func NewAuthorizationDispatcher(service CredentialService, opts RouteOptions) (*Dispatcher, error) {
	return newRouteDispatcher("webhooks/authorization", service, opts,
		[]string{TypeAuthorizationGrant, TypeAuthorizationRevoke},
		func(ctx context.Context, msg Message) error {
			event := authorizationEvent{}
			if err := msg.DecodeEvent(&event); err != nil {
				return err
			}
			if strings.TrimSpace(event.UserID) == "" {
				return fmt.Errorf("authorization event has no user_id")
			}
			if msg.Subscription.Type == TypeAuthorizationRevoke {
				if err := service.Revoke(ctx, event.UserID); err != nil {
					return err
				}
			}
			userName := ""
			if event.UserName != nil {
				userName = *event.UserName
			}
			service.Emit(core.TelemetryIndexWebhooksTriggered, msg.Subscription.Type, event.UserID, userName)
			return nil
		},
	)
}

type userUpdateEvent struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// NewUserDispatcher refreshes stored identity claims on user.update.
func NewUserDispatcher(service CredentialService, opts RouteOptions) (*Dispatcher, error) {
	return newRouteDispatcher("webhooks/user", service, opts,
		[]string{TypeUserUpdate},
		func(ctx context.Context, msg Message) error {
			event := userUpdateEvent{}
			if err := msg.DecodeEvent(&event); err != nil {
				return err
			}
			if strings.TrimSpace(event.UserID) == "" || strings.TrimSpace(event.UserName) == "" {
				return fmt.Errorf("user.update event requires user_id and user_name")
			}
			login := event.UserLogin
			if strings.TrimSpace(login) == "" {
				login = strings.ToLower(event.UserName)
			}
			if err := service.UpdateIdentity(ctx, event.UserID, core.IdentityUpdate{
				Subject:     event.UserID,
				Login:       login,
				DisplayName: event.UserName,
			}); err != nil {
				return err
			}
			service.Emit(core.TelemetryIndexWebhooksTriggered, msg.Subscription.Type, event.UserID, event.UserName)
			return nil
		},
	)
}

type streamEvent struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	BroadcasterUserName string `json:"broadcaster_user_name"`
}

// NewStreamDispatcher only records stream state changes.
func NewStreamDispatcher(service CredentialService, opts RouteOptions) (*Dispatcher, error) {
	return newRouteDispatcher("webhooks/stream", service, opts,
		[]string{TypeStreamOnline, TypeStreamOffline},
		func(_ context.Context, msg Message) error {
			event := streamEvent{}
			if err := msg.DecodeEvent(&event); err != nil {
				return err
			}
			if strings.TrimSpace(event.BroadcasterUserID) == "" {
				return fmt.Errorf("stream event has no broadcaster_user_id")
			}
			service.Emit(core.TelemetryIndexWebhooksTriggered, msg.Subscription.Type, event.BroadcasterUserID, event.BroadcasterUserName)
			return nil
		},
	)
}

func newRouteDispatcher(
	name string,
	service CredentialService,
	opts RouteOptions,
	types []string,
	onNotification MessageHandler,
) (*Dispatcher, error) {
	return NewDispatcher(Config{
		Name:         name,
		Secrets:      opts.Secrets,
		AllowedTypes: types,
		Headers:      opts.Headers,
		Logger:       opts.Logger,
		OnSubscribe: func(_ context.Context, msg Message) error {
			service.Emit(core.TelemetryIndexWebhooksCreated, msg.Subscription.Type)
			return nil
		},
		OnNotification: onNotification,
		OnUnsubscribe: func(_ context.Context, msg Message) error {
			service.Emit(core.TelemetryIndexWebhooksRevoked, msg.Subscription.Type, msg.Subscription.Status)
			return nil
		},
		OnError: func(_ context.Context, err error) {
			service.Emit(core.TelemetryIndexErrors, name, "could not process webhook: "+err.Error())
		},
	})
}
