package query

import "strings"

const (
	TypeGetAccessToken    = "credentials.query.access_token.get"
	TypeGetAppToken       = "credentials.query.app_token.get"
	TypeListSubscriptions = "credentials.query.subscriptions.list"
)

type GetAccessTokenMessage struct {
	PrincipalID string
	Force       bool
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	return validatePrincipal(m.PrincipalID)
}

type GetAppTokenMessage struct {
	Force bool
}

func (GetAppTokenMessage) Type() string { return TypeGetAppToken }

type ListSubscriptionsMessage struct {
	PrincipalID string
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (m ListSubscriptionsMessage) Validate() error {
	return validatePrincipal(m.PrincipalID)
}

func validatePrincipal(principalID string) error {
	if strings.TrimSpace(principalID) == "" {
		return queryValidationError("principal_id", "principal id is required")
	}
	return nil
}
