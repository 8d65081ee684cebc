package providers

import (
	"context"
	"net/http"

	"github.com/goliatone/go-credentials/core"
)

// UsersClient resolves the user that owns an access token.
type UsersClient struct {
	api apiClient
}

type usersResponse struct {
	Data []struct {
		ID          string `json:"id" validate:"required"`
		Login       string `json:"login" validate:"required"`
		DisplayName string `json:"display_name" validate:"required"`
	} `json:"data" validate:"required,dive"`
}

func NewUsersClient(cfg APIConfig) (*UsersClient, error) {
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &UsersClient{api: api}, nil
}

func (c *UsersClient) CurrentUser(ctx context.Context, accessToken string) (core.CurrentUser, error) {
	response := usersResponse{}
	if err := c.api.do(ctx, http.MethodGet, "/users", accessToken, nil, &response); err != nil {
		return core.CurrentUser{}, err
	}
	if len(response.Data) == 0 {
		return core.CurrentUser{}, core.NewParseError(nil, "providers: users response is empty")
	}
	user := response.Data[0]
	return core.CurrentUser{
		ID:          user.ID,
		Login:       user.Login,
		DisplayName: user.DisplayName,
	}, nil
}

var _ core.UserDirectory = (*UsersClient)(nil)
