package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IdentityClaims are the decoded identity fields kept next to a credential.
type IdentityClaims struct {
	Subject     string         `json:"sub"`
	Login       string         `json:"preferred_username"`
	DisplayName string         `json:"display_name,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func (c IdentityClaims) IsZero() bool {
	return c.Subject == "" && c.Login == "" && c.DisplayName == "" && len(c.Extra) == 0
}

type Credential struct {
	PrincipalID  string
	AccessToken  string
	RefreshToken string
	Identity     *IdentityClaims
	ExpiresAt    time.Time
	Revoked      bool
	UpdatedAt    time.Time
}

// Expired reports whether now has reached the margin-adjusted expiry.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type AccessToken struct {
	PrincipalID string          `json:"principal_id"`
	AccessToken string          `json:"access_token"`
	Identity    *IdentityClaims `json:"id_token_claims,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Refreshed   bool            `json:"refreshed"`
}

type LoginInput struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	Identity     *IdentityClaims `json:"id_token_claims,omitempty"`
	ExpiresIn    int64           `json:"expires_in"`
}

type IdentityUpdate struct {
	Subject     string `json:"subject"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// TokenGrant is a successful token endpoint response.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Identity     *IdentityClaims
	ExpiresIn    int64
	Scopes       []string
}

type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type SubscriptionRequest struct {
	Type        string
	Version     string
	Condition   map[string]string
	CallbackURL string
	AccessToken string
}

type CurrentUser struct {
	ID          string
	Login       string
	DisplayName string
}

type CompleteLoginRequest struct {
	Code        string
	Scope       string
	RedirectURI string
	Error       string
	Description string
}

type CompleteLoginResult struct {
	PrincipalID string
	Identity    IdentityClaims
}

type CredentialStore interface {
	Load(ctx context.Context, principalID string) (Credential, bool, error)
	Save(ctx context.Context, credential Credential) error
}

type SubscriptionStore interface {
	List(ctx context.Context, principalID string) ([]Subscription, error)
	Append(ctx context.Context, principalID string, subscriptions []Subscription) error
}

// IdentityProvider is the OAuth token endpoint surface used by actors.
type IdentityProvider interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error)
	ClientCredentials(ctx context.Context) (TokenGrant, error)
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenGrant, error)
}

type SubscriptionProvider interface {
	CreateSubscription(ctx context.Context, req SubscriptionRequest) ([]Subscription, error)
}

type UserDirectory interface {
	CurrentUser(ctx context.Context, accessToken string) (CurrentUser, error)
}

// AppTokenSource yields the app principal's access token.
type AppTokenSource interface {
	AppAccessToken(ctx context.Context, force bool) (AccessToken, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type Clock func() time.Time

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
