package command

import (
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	TypeLogin               = "credentials.command.login"
	TypeCompleteLogin       = "credentials.command.login.complete"
	TypeUpdateIdentity      = "credentials.command.identity.update"
	TypeRevoke              = "credentials.command.revoke"
	TypeEnsureSubscriptions = "credentials.command.subscriptions.ensure"
)

type LoginMessage struct {
	PrincipalID string
	Input       core.LoginInput
}

func (LoginMessage) Type() string { return TypeLogin }

func (m LoginMessage) Validate() error {
	if err := validatePrincipal(m.PrincipalID); err != nil {
		return err
	}
	if err := core.ValidateLoginInput(m.Input); err != nil {
		return commandWrapValidation(err, "command: invalid login payload")
	}
	return nil
}

// CompleteLoginMessage carries the authorization callback. Required scopes
// are enforced by the service.
type CompleteLoginMessage struct {
	Request core.CompleteLoginRequest
}

func (CompleteLoginMessage) Type() string { return TypeCompleteLogin }

func (m CompleteLoginMessage) Validate() error {
	if err := core.ValidateLoginCallback(m.Request, nil); err != nil {
		return commandWrapValidation(err, "command: invalid login callback")
	}
	return nil
}

type UpdateIdentityMessage struct {
	PrincipalID string
	Update      core.IdentityUpdate
}

func (UpdateIdentityMessage) Type() string { return TypeUpdateIdentity }

func (m UpdateIdentityMessage) Validate() error {
	return validatePrincipal(m.PrincipalID)
}

type RevokeMessage struct {
	PrincipalID string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	return validatePrincipal(m.PrincipalID)
}

type EnsureSubscriptionsMessage struct {
	PrincipalID string
}

func (EnsureSubscriptionsMessage) Type() string { return TypeEnsureSubscriptions }

func (m EnsureSubscriptionsMessage) Validate() error {
	return validatePrincipal(m.PrincipalID)
}

func validatePrincipal(principalID string) error {
	if strings.TrimSpace(principalID) == "" {
		return commandValidationError("principal_id", "principal id is required")
	}
	return nil
}
