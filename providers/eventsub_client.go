package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
)

type EventSubConfig struct {
	APIConfig
	// WebhookSecret is registered with every subscription and later signs
	// its deliveries.
	WebhookSecret string
}

// EventSubClient creates webhook subscriptions.
type EventSubClient struct {
	api    apiClient
	secret string
}

type createSubscriptionBody struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport webhookTransport  `json:"transport"`
}

type webhookTransport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret"`
}

type createSubscriptionResponse struct {
	Data []struct {
		ID        string `json:"id" validate:"required"`
		Type      string `json:"type" validate:"required"`
		CreatedAt string `json:"created_at"`
	} `json:"data" validate:"required,dive"`
}

func NewEventSubClient(cfg EventSubConfig) (*EventSubClient, error) {
	api, err := newAPIClient(cfg.APIConfig)
	if err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if len(secret) < 10 || len(secret) > 100 {
		return nil, fmt.Errorf("providers: webhook secret must be 10-100 characters")
	}
	return &EventSubClient{api: api, secret: secret}, nil
}

func (c *EventSubClient) CreateSubscription(ctx context.Context, req core.SubscriptionRequest) ([]core.Subscription, error) {
	if strings.TrimSpace(req.Type) == "" {
		return nil, core.NewBadInputError("type", "subscription type is required")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return nil, core.NewBadInputError("callback_url", "callback url is required")
	}
	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = core.DefaultSubscriptionVersion
	}
	payload := createSubscriptionBody{
		Type:      req.Type,
		Version:   version,
		Condition: req.Condition,
		Transport: webhookTransport{
			Method:   "webhook",
			Callback: req.CallbackURL,
			Secret:   c.secret,
		},
	}
	response := createSubscriptionResponse{}
	if err := c.api.do(ctx, http.MethodPost, "/eventsub/subscriptions", req.AccessToken, payload, &response); err != nil {
		return nil, err
	}

	out := make([]core.Subscription, 0, len(response.Data))
	for _, item := range response.Data {
		sub := core.Subscription{ID: item.ID, Type: item.Type}
		if createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt); err == nil {
			sub.CreatedAt = createdAt.UTC()
		}
		out = append(out, sub)
	}
	return out, nil
}

var _ core.SubscriptionProvider = (*EventSubClient)(nil)
