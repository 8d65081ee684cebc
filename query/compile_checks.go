package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Querier[GetAccessTokenMessage, core.AccessToken]       = (*GetAccessTokenQuery)(nil)
	_ gocmd.Querier[GetAppTokenMessage, core.AccessToken]          = (*GetAppTokenQuery)(nil)
	_ gocmd.Querier[ListSubscriptionsMessage, []core.Subscription] = (*ListSubscriptionsQuery)(nil)

	_ TokenReader        = (*core.Service)(nil)
	_ SubscriptionReader = (*core.Service)(nil)
)
