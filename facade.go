package credentials

import (
	"fmt"

	credentialscommand "github.com/goliatone/go-credentials/command"
	credentialsquery "github.com/goliatone/go-credentials/query"
)

type CommandQueryService interface {
	credentialscommand.MutatingService
	credentialsquery.TokenReader
	credentialsquery.SubscriptionReader
}

type Commands struct {
	Login               *credentialscommand.LoginCommand
	CompleteLogin       *credentialscommand.CompleteLoginCommand
	UpdateIdentity      *credentialscommand.UpdateIdentityCommand
	Revoke              *credentialscommand.RevokeCommand
	EnsureSubscriptions *credentialscommand.EnsureSubscriptionsCommand
}

type Queries struct {
	GetAccessToken    *credentialsquery.GetAccessTokenQuery
	GetAppToken       *credentialsquery.GetAppTokenQuery
	ListSubscriptions *credentialsquery.ListSubscriptionsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("credentials: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		Login:               credentialscommand.NewLoginCommand(service),
		CompleteLogin:       credentialscommand.NewCompleteLoginCommand(service),
		UpdateIdentity:      credentialscommand.NewUpdateIdentityCommand(service),
		Revoke:              credentialscommand.NewRevokeCommand(service),
		EnsureSubscriptions: credentialscommand.NewEnsureSubscriptionsCommand(service),
	}
	facade.queries = Queries{
		GetAccessToken:    credentialsquery.NewGetAccessTokenQuery(service),
		GetAppToken:       credentialsquery.NewGetAppTokenQuery(service),
		ListSubscriptions: credentialsquery.NewListSubscriptionsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
