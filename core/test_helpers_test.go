package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type stubIdentityProvider struct {
	mu                sync.Mutex
	refreshCalls      atomic.Int32
	clientCalls       atomic.Int32
	exchangeCalls     atomic.Int32
	refreshDelay      time.Duration
	beforeGrant       func()
	refreshGrant      TokenGrant
	refreshErr        error
	clientGrant       TokenGrant
	clientErr         error
	exchangeGrant     TokenGrant
	exchangeErr       error
	lastRefreshToken  string
	lastExchangeCode  string
	lastExchangeRedir string
}

func (p *stubIdentityProvider) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	p.refreshCalls.Add(1)
	if p.refreshDelay > 0 {
		select {
		case <-time.After(p.refreshDelay):
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRefreshToken = refreshToken
	if p.beforeGrant != nil {
		p.beforeGrant()
	}
	return p.refreshGrant, p.refreshErr
}

func (p *stubIdentityProvider) ClientCredentials(context.Context) (TokenGrant, error) {
	p.clientCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beforeGrant != nil {
		p.beforeGrant()
	}
	return p.clientGrant, p.clientErr
}

func (p *stubIdentityProvider) ExchangeCode(_ context.Context, code string, redirectURI string) (TokenGrant, error) {
	p.exchangeCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastExchangeCode = code
	p.lastExchangeRedir = redirectURI
	return p.exchangeGrant, p.exchangeErr
}

// contextCredentialStore rejects writes made on a finished context, the way
// a database driver does.
type contextCredentialStore struct {
	*MemoryCredentialStore
}

func (s contextCredentialStore) Save(ctx context.Context, credential Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryCredentialStore.Save(ctx, credential)
}

type failingPrincipalLocker struct {
	err error
}

func (l failingPrincipalLocker) Acquire(context.Context, string) (LockHandle, error) {
	return nil, l.err
}

type stubSubscriptionProvider struct {
	mu       sync.Mutex
	calls    atomic.Int32
	failFor  map[string]error
	requests []SubscriptionRequest
}

func (p *stubSubscriptionProvider) CreateSubscription(_ context.Context, req SubscriptionRequest) ([]Subscription, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if err := p.failFor[req.Type]; err != nil {
		return nil, err
	}
	return []Subscription{{ID: "sub-" + req.Type, Type: req.Type}}, nil
}

func (p *stubSubscriptionProvider) snapshot() []SubscriptionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SubscriptionRequest(nil), p.requests...)
}

type stubUserDirectory struct {
	user      CurrentUser
	err       error
	lastToken string
}

func (d *stubUserDirectory) CurrentUser(_ context.Context, accessToken string) (CurrentUser, error) {
	d.lastToken = accessToken
	return d.user, d.err
}

type captureTelemetrySink struct {
	mu     sync.Mutex
	events []TelemetryEvent
}

func (s *captureTelemetrySink) Record(_ context.Context, event TelemetryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureTelemetrySink) byIndex(index string) []TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []TelemetryEvent{}
	for _, event := range s.events {
		if event.Index == index {
			out = append(out, event)
		}
	}
	return out
}

type testHarness struct {
	svc       *Service
	clock     *testClock
	identity  *stubIdentityProvider
	subs      *stubSubscriptionProvider
	users     *stubUserDirectory
	creds     *MemoryCredentialStore
	subStore  *MemorySubscriptionStore
	telemetry *captureTelemetrySink
}

func newTestHarness(t *testing.T, cfg Config, extra ...Option) *testHarness {
	t.Helper()
	h := &testHarness{
		clock: newTestClock(),
		identity: &stubIdentityProvider{
			refreshGrant: TokenGrant{AccessToken: "refreshed-access", RefreshToken: "refreshed-refresh", ExpiresIn: 3600},
			clientGrant:  TokenGrant{AccessToken: "app-access-token", ExpiresIn: 3600},
		},
		subs:      &stubSubscriptionProvider{failFor: map[string]error{}},
		users:     &stubUserDirectory{},
		creds:     NewMemoryCredentialStore(),
		subStore:  NewMemorySubscriptionStore(),
		telemetry: &captureTelemetrySink{},
	}
	opts := []Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithClock(h.clock.Now),
		WithIdentityProvider(h.identity),
		WithSubscriptionProvider(h.subs),
		WithUserDirectory(h.users),
		WithCredentialStore(h.creds),
		WithSubscriptionStore(h.subStore),
		WithTelemetrySink(h.telemetry),
	}
	opts = append(opts, extra...)
	svc, err := NewService(cfg, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

// drain flushes background work and telemetry so assertions see final state.
func (h *testHarness) drain(t *testing.T) {
	t.Helper()
	h.svc.WaitBackground()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.svc.Close(ctx); err != nil {
		t.Fatalf("close service: %v", err)
	}
}

func (h *testHarness) login(t *testing.T, principalID string, in LoginInput) {
	t.Helper()
	if err := h.svc.Login(context.Background(), principalID, in); err != nil {
		t.Fatalf("login %s: %v", principalID, err)
	}
}

func (h *testHarness) stored(t *testing.T, principalID string) Credential {
	t.Helper()
	credential, found, err := h.creds.Load(context.Background(), principalID)
	if err != nil {
		t.Fatalf("load credential: %v", err)
	}
	if !found {
		t.Fatalf("expected stored credential for %s", principalID)
	}
	return credential
}
