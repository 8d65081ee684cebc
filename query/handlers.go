package query

import (
	"context"

	"github.com/goliatone/go-credentials/core"
)

type TokenReader interface {
	GetAccessToken(ctx context.Context, principalID string, force bool) (core.AccessToken, error)
	AppAccessToken(ctx context.Context, force bool) (core.AccessToken, error)
}

type SubscriptionReader interface {
	ListSubscriptions(ctx context.Context, principalID string) ([]core.Subscription, error)
}

type GetAccessTokenQuery struct {
	reader TokenReader
}

func NewGetAccessTokenQuery(reader TokenReader) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{reader: reader}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: token reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.AccessToken{}, err
	}
	return q.reader.GetAccessToken(ctx, msg.PrincipalID, msg.Force)
}

type GetAppTokenQuery struct {
	reader TokenReader
}

func NewGetAppTokenQuery(reader TokenReader) *GetAppTokenQuery {
	return &GetAppTokenQuery{reader: reader}
}

func (q *GetAppTokenQuery) Query(ctx context.Context, msg GetAppTokenMessage) (core.AccessToken, error) {
	if q == nil || q.reader == nil {
		return core.AccessToken{}, queryDependencyError("query: token reader is required")
	}
	return q.reader.AppAccessToken(ctx, msg.Force)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(ctx context.Context, msg ListSubscriptionsMessage) ([]core.Subscription, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListSubscriptions(ctx, msg.PrincipalID)
}
