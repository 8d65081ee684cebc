package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-credentials/core"
)

type MutatingService interface {
	Login(ctx context.Context, principalID string, in core.LoginInput) error
	CompleteLogin(ctx context.Context, req core.CompleteLoginRequest) (core.CompleteLoginResult, error)
	UpdateIdentity(ctx context.Context, principalID string, in core.IdentityUpdate) error
	Revoke(ctx context.Context, principalID string) error
	EnsureSubscriptions(ctx context.Context, principalID string) (core.EnsureResult, error)
}

type LoginCommand struct {
	service MutatingService
}

func NewLoginCommand(service MutatingService) *LoginCommand {
	return &LoginCommand{service: service}
}

func (c *LoginCommand) Execute(ctx context.Context, msg LoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Login(ctx, msg.PrincipalID, msg.Input)
}

type CompleteLoginCommand struct {
	service MutatingService
}

func NewCompleteLoginCommand(service MutatingService) *CompleteLoginCommand {
	return &CompleteLoginCommand{service: service}
}

// Execute stores the core.CompleteLoginResult on the context result collector.
func (c *CompleteLoginCommand) Execute(ctx context.Context, msg CompleteLoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login callback service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CompleteLogin(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateIdentityCommand struct {
	service MutatingService
}

func NewUpdateIdentityCommand(service MutatingService) *UpdateIdentityCommand {
	return &UpdateIdentityCommand{service: service}
}

func (c *UpdateIdentityCommand) Execute(ctx context.Context, msg UpdateIdentityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: identity service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.UpdateIdentity(ctx, msg.PrincipalID, msg.Update)
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Revoke(ctx, msg.PrincipalID)
}

type EnsureSubscriptionsCommand struct {
	service MutatingService
}

func NewEnsureSubscriptionsCommand(service MutatingService) *EnsureSubscriptionsCommand {
	return &EnsureSubscriptionsCommand{service: service}
}

func (c *EnsureSubscriptionsCommand) Execute(ctx context.Context, msg EnsureSubscriptionsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.EnsureSubscriptions(ctx, msg.PrincipalID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
