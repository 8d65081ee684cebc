package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"
)

const testSecret = "s3cr3t-webhook-signing-key"

type delivery struct {
	headers http.Header
	body    []byte
}

func buildDelivery(t *testing.T, kind string, subscriptionType string, payload map[string]any) delivery {
	t.Helper()
	envelope := map[string]any{
		"subscription": map[string]any{
			"id":         "f1c2a387-161a-49f9-a165-0f21d7a4e1c4",
			"status":     "enabled",
			"type":       subscriptionType,
			"version":    "1",
			"cost":       0,
			"condition":  map[string]any{"user_id": "1337"},
			"transport":  map[string]any{"method": "webhook", "callback": "https://example.test/webhooks/user"},
			"created_at": "2026-03-01T12:00:00.634234626Z",
		},
	}
	for key, value := range payload {
		envelope[key] = value
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return signedDelivery(kind, subscriptionType, body)
}

func signedDelivery(kind string, subscriptionType string, body []byte) delivery {
	names := DefaultHeaderNames()
	messageID := "e76c6bd4-55c9-4987-8304-da1588d8988b"
	timestamp := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC).Format(time.RFC3339Nano)
	headers := http.Header{}
	headers.Set(names.Signature, Sign(testSecret, messageID, timestamp, body))
	headers.Set(names.SubscriptionType, subscriptionType)
	headers.Set(names.MessageID, messageID)
	headers.Set(names.MessageTimestamp, timestamp)
	headers.Set(names.MessageKind, kind)
	return delivery{headers: headers, body: body}
}

type recordingHandlers struct {
	mu            sync.Mutex
	notifications []Message
	subscribes    []Message
	unsubscribes  []Message
	errs          []error
	notifyErr     error
	subscribeErr  error
}

func (r *recordingHandlers) config() Config {
	return Config{
		Name:         "test",
		Secrets:      StaticSecret(testSecret),
		AllowedTypes: []string{"user.update"},
		OnSubscribe: func(_ context.Context, msg Message) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.subscribes = append(r.subscribes, msg)
			return r.subscribeErr
		},
		OnNotification: func(_ context.Context, msg Message) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.notifications = append(r.notifications, msg)
			return r.notifyErr
		},
		OnUnsubscribe: func(_ context.Context, msg Message) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.unsubscribes = append(r.unsubscribes, msg)
			return errors.New("unsubscribe bookkeeping failed")
		},
		OnError: func(_ context.Context, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func newTestDispatcher(t *testing.T, handlers *recordingHandlers) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(handlers.config())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher
}

func TestDispatcher_NotificationInvokesHandlerOnce(t *testing.T) {
	handlers := &recordingHandlers{}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "notification", "user.update", map[string]any{
		"event": map[string]any{"user_id": "1337", "user_name": "Cool_User"},
	})

	response := dispatcher.Handle(context.Background(), d.headers, d.body)
	if response.Status != http.StatusOK || response.Body != ResponseOK {
		t.Fatalf("unexpected response %+v", response)
	}
	if len(handlers.notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(handlers.notifications))
	}
	event := map[string]string{}
	if err := handlers.notifications[0].DecodeEvent(&event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event["user_name"] != "Cool_User" {
		t.Fatalf("unexpected event %+v", event)
	}
	if handlers.notifications[0].Kind != KindNotification {
		t.Fatalf("unexpected kind %q", handlers.notifications[0].Kind)
	}
}

func TestDispatcher_TamperedBodyIsForbidden(t *testing.T) {
	handlers := &recordingHandlers{}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "notification", "user.update", map[string]any{
		"event": map[string]any{"user_id": "1337", "user_name": "Cool_User"},
	})

	for index := range d.body {
		tampered := append([]byte(nil), d.body...)
		tampered[index] ^= 0x01
		response := dispatcher.Handle(context.Background(), d.headers, tampered)
		if response.Status != http.StatusForbidden || response.Body != ResponseForbidden {
			t.Fatalf("byte %d: expected forbidden, got %+v", index, response)
		}
	}
	if len(handlers.notifications) != 0 {
		t.Fatalf("expected handler never invoked, got %d", len(handlers.notifications))
	}
	if len(handlers.errs) != len(d.body) {
		t.Fatalf("expected every rejection reported, got %d", len(handlers.errs))
	}
	if core.KindOf(handlers.errs[0]) != core.KindRejected {
		t.Fatalf("expected rejected kind, got %v", handlers.errs[0])
	}
}

func TestDispatcher_ChallengeEchoesExactValue(t *testing.T) {
	handlers := &recordingHandlers{}
	dispatcher := newTestDispatcher(t, handlers)
	challenge := "pogchamp-kappa-360noscope-vohiyo"
	for _, kind := range []string{"webhook_callback_verification", "challenge-verification"} {
		d := buildDelivery(t, kind, "user.update", map[string]any{"challenge": challenge})
		response := dispatcher.Handle(context.Background(), d.headers, d.body)
		if response.Status != http.StatusOK || response.Body != challenge {
			t.Fatalf("%s: unexpected response %+v", kind, response)
		}
	}
	if len(handlers.subscribes) != 2 || handlers.subscribes[0].Challenge != challenge {
		t.Fatalf("expected subscribe handler called with challenge")
	}
}

func TestDispatcher_ChallengeHandlerFailureIsServerError(t *testing.T) {
	handlers := &recordingHandlers{subscribeErr: errors.New("store unavailable")}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "webhook_callback_verification", "user.update", map[string]any{"challenge": "abc"})

	response := dispatcher.Handle(context.Background(), d.headers, d.body)
	if response.Status != http.StatusInternalServerError || response.Body != ResponseInternalError {
		t.Fatalf("unexpected response %+v", response)
	}
	if len(handlers.errs) != 1 || core.KindOf(handlers.errs[0]) != core.KindCallbackError {
		t.Fatalf("expected callback error reported, got %v", handlers.errs)
	}
}

func TestDispatcher_NotificationHandlerFailureIsServerError(t *testing.T) {
	handlers := &recordingHandlers{notifyErr: errors.New("actor unavailable")}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "notification", "user.update", map[string]any{"event": map[string]any{"user_id": "1"}})

	response := dispatcher.Handle(context.Background(), d.headers, d.body)
	if response.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestDispatcher_RevocationAlwaysAcknowledged(t *testing.T) {
	handlers := &recordingHandlers{}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "revocation", "user.update", nil)

	response := dispatcher.Handle(context.Background(), d.headers, d.body)
	if response.Status != http.StatusOK || response.Body != ResponseOK {
		t.Fatalf("unexpected response %+v", response)
	}
	if len(handlers.unsubscribes) != 1 {
		t.Fatalf("expected unsubscribe handler invoked")
	}
}

func TestDispatcher_RejectsStructuralFailures(t *testing.T) {
	names := DefaultHeaderNames()
	cases := map[string]func(d *delivery){
		"missing signature":       func(d *delivery) { d.headers.Del(names.Signature) },
		"unknown algorithm":       func(d *delivery) { d.headers.Set(names.Signature, "md5=abcdef") },
		"short signature":         func(d *delivery) { d.headers.Set(names.Signature, "sha256=") },
		"type not allowed":        func(d *delivery) { d.headers.Set(names.SubscriptionType, "stream.online") },
		"missing message id":      func(d *delivery) { d.headers.Del(names.MessageID) },
		"invalid timestamp":       func(d *delivery) { d.headers.Set(names.MessageTimestamp, "yesterday") },
		"unknown message kind":    func(d *delivery) { d.headers.Set(names.MessageKind, "ping") },
		"non json body":           func(d *delivery) { *d = signedDelivery("notification", "user.update", []byte("not json")) },
		"missing subscription":    func(d *delivery) { *d = signedDelivery("notification", "user.update", []byte(`{"event":{}}`)) },
		"notification w/o event":  func(d *delivery) { *d = signedDelivery("notification", "user.update", withoutEvent(t)) },
		"challenge w/o challenge": func(d *delivery) { d.headers.Set(names.MessageKind, "webhook_callback_verification") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			handlers := &recordingHandlers{}
			dispatcher := newTestDispatcher(t, handlers)
			d := buildDelivery(t, "notification", "user.update", map[string]any{"event": map[string]any{"user_id": "1"}})
			mutate(&d)
			response := dispatcher.Handle(context.Background(), d.headers, d.body)
			if response.Status != http.StatusForbidden || response.Body != ResponseForbidden {
				t.Fatalf("expected forbidden, got %+v", response)
			}
			if len(handlers.notifications) != 0 || len(handlers.subscribes) != 0 {
				t.Fatalf("expected no handler invocation")
			}
		})
	}
}

func withoutEvent(t *testing.T) []byte {
	t.Helper()
	d := buildDelivery(t, "notification", "user.update", nil)
	return d.body
}

func TestDispatcher_RejectsInvalidSubscriptionDescriptor(t *testing.T) {
	cases := map[string]map[string]any{
		"transport method": {"transport": map[string]any{"method": "websocket", "callback": "x"}},
		"negative cost":    {"cost": -1},
		"created at":       {"created_at": "not-a-date"},
		"missing id":       {"id": ""},
	}
	for name, override := range cases {
		t.Run(name, func(t *testing.T) {
			subscription := map[string]any{
				"id":         "abc",
				"status":     "enabled",
				"type":       "user.update",
				"version":    "1",
				"cost":       1,
				"condition":  map[string]any{},
				"transport":  map[string]any{"method": "webhook", "callback": "https://example.test"},
				"created_at": "2026-03-01T12:00:00Z",
			}
			for key, value := range override {
				subscription[key] = value
			}
			body, _ := json.Marshal(map[string]any{"subscription": subscription, "event": map[string]any{}})
			d := signedDelivery("notification", "user.update", body)

			handlers := &recordingHandlers{}
			response := newTestDispatcher(t, handlers).Handle(context.Background(), d.headers, d.body)
			if response.Status != http.StatusForbidden {
				t.Fatalf("expected forbidden, got %+v", response)
			}
		})
	}
}

func TestDispatcher_SecretResolverFailureIsForbidden(t *testing.T) {
	handlers := &recordingHandlers{}
	cfg := handlers.config()
	cfg.Secrets = func(context.Context, Subscription) (string, error) {
		return "", errors.New("unknown owner")
	}
	dispatcher, err := NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d := buildDelivery(t, "notification", "user.update", map[string]any{"event": map[string]any{}})
	if response := dispatcher.Handle(context.Background(), d.headers, d.body); response.Status != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %+v", response)
	}
}

func TestDispatcher_ServeHTTP(t *testing.T) {
	handlers := &recordingHandlers{}
	dispatcher := newTestDispatcher(t, handlers)
	d := buildDelivery(t, "webhook_callback_verification", "user.update", map[string]any{"challenge": "echo-me"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/user", bytes.NewReader(d.body))
	req.Header = d.headers
	rec := httptest.NewRecorder()
	dispatcher.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "echo-me" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestNewDispatcher_RequiresResolverAndNotificationHandler(t *testing.T) {
	if _, err := NewDispatcher(Config{OnNotification: func(context.Context, Message) error { return nil }}); err == nil {
		t.Fatalf("expected resolver requirement")
	}
	if _, err := NewDispatcher(Config{Secrets: StaticSecret("x")}); err == nil {
		t.Fatalf("expected notification handler requirement")
	}
}
