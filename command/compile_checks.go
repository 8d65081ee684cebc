package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Commander[LoginMessage]               = (*LoginCommand)(nil)
	_ gocmd.Commander[CompleteLoginMessage]       = (*CompleteLoginCommand)(nil)
	_ gocmd.Commander[UpdateIdentityMessage]      = (*UpdateIdentityCommand)(nil)
	_ gocmd.Commander[RevokeMessage]              = (*RevokeCommand)(nil)
	_ gocmd.Commander[EnsureSubscriptionsMessage] = (*EnsureSubscriptionsCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
