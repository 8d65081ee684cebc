package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
)

const (
	DefaultAPIBaseURL = "https://api.twitch.tv/helix"

	maxAPIResponseBodyBytes = 1 << 20
)

type APIConfig struct {
	BaseURL        string
	ClientID       string
	RequestTimeout time.Duration
	HTTPClient     core.HTTPDoer
}

// apiClient performs authenticated JSON calls against the provider API.
type apiClient struct {
	baseURL    string
	clientID   string
	timeout    time.Duration
	httpClient core.HTTPDoer
}

func newAPIClient(cfg APIConfig) (apiClient, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return apiClient{}, fmt.Errorf("providers: client id is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTokenRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return apiClient{
		baseURL:    baseURL,
		clientID:   clientID,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

func (c apiClient) do(ctx context.Context, method string, path string, accessToken string, payload any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(accessToken) == "" {
		return core.NewBadInputError("access_token", "access token is required")
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return core.NewProviderError(err, "providers: encode request")
		}
		body = bytes.NewReader(encoded)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, c.baseURL+path, body)
	if err != nil {
		return core.NewProviderError(err, "providers: build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Client-Id", c.clientID)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.NewProviderError(err, fmt.Sprintf("providers: %s %s failed", method, path))
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxAPIResponseBodyBytes+1))
	if err != nil {
		return core.NewProviderError(err, "providers: read response")
	}
	if len(raw) > maxAPIResponseBodyBytes {
		return core.NewParseError(nil, "providers: response exceeds size limit")
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return core.NewProviderError(nil, fmt.Sprintf("providers: %s %s returned %d: %s", method, path, response.StatusCode, describeTokenError(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return core.NewParseError(err, "providers: decode response")
	}
	if err := responseValidator.Struct(out); err != nil {
		return core.NewParseError(err, "providers: response failed validation")
	}
	return nil
}
