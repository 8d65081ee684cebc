package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type MessageKind string

const (
	KindChallenge    MessageKind = "challenge-verification"
	KindNotification MessageKind = "notification"
	KindRevocation   MessageKind = "revocation"
)

// ParseMessageKind accepts both the provider wire values and the
// descriptive kind names.
func ParseMessageKind(value string) (MessageKind, bool) {
	switch strings.TrimSpace(value) {
	case "webhook_callback_verification", string(KindChallenge):
		return KindChallenge, true
	case string(KindNotification):
		return KindNotification, true
	case string(KindRevocation):
		return KindRevocation, true
	default:
		return "", false
	}
}

// HeaderNames maps each delivery attribute to its request header.
type HeaderNames struct {
	Signature        string
	SubscriptionType string
	MessageID        string
	MessageTimestamp string
	MessageKind      string
}

func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Signature:        "Twitch-Eventsub-Message-Signature",
		SubscriptionType: "Twitch-Eventsub-Subscription-Type",
		MessageID:        "Twitch-Eventsub-Message-Id",
		MessageTimestamp: "Twitch-Eventsub-Message-Timestamp",
		MessageKind:      "Twitch-Eventsub-Message-Type",
	}
}

func (h HeaderNames) withDefaults() HeaderNames {
	defaults := DefaultHeaderNames()
	if strings.TrimSpace(h.Signature) == "" {
		h.Signature = defaults.Signature
	}
	if strings.TrimSpace(h.SubscriptionType) == "" {
		h.SubscriptionType = defaults.SubscriptionType
	}
	if strings.TrimSpace(h.MessageID) == "" {
		h.MessageID = defaults.MessageID
	}
	if strings.TrimSpace(h.MessageTimestamp) == "" {
		h.MessageTimestamp = defaults.MessageTimestamp
	}
	if strings.TrimSpace(h.MessageKind) == "" {
		h.MessageKind = defaults.MessageKind
	}
	return h
}

// DeliveryHeaders are the raw, validated header values of one delivery.
type DeliveryHeaders struct {
	Signature        string
	SubscriptionType string
	MessageID        string
	MessageTimestamp string
	Timestamp        time.Time
	Kind             MessageKind
}

type Transport struct {
	Method   string `json:"method" validate:"required,eq=webhook"`
	Callback string `json:"callback" validate:"required"`
}

// Subscription is the descriptor every delivery envelope carries.
type Subscription struct {
	ID        string         `json:"id" validate:"required"`
	Status    string         `json:"status" validate:"required"`
	Type      string         `json:"type" validate:"required"`
	Version   string         `json:"version" validate:"required"`
	Cost      *int64         `json:"cost" validate:"required,gte=0"`
	Condition map[string]any `json:"condition" validate:"required"`
	Transport Transport      `json:"transport" validate:"required"`
	CreatedAt string         `json:"created_at" validate:"required"`
}

type envelope struct {
	Subscription *Subscription
	Challenge    *string
	rawEvent     json.RawMessage
}

// Message is a verified delivery handed to callbacks.
type Message struct {
	ID           string
	Timestamp    time.Time
	Kind         MessageKind
	Subscription Subscription
	Event        json.RawMessage
	Challenge    string
}

// DecodeEvent unmarshals the notification payload into out.
func (m Message) DecodeEvent(out any) error {
	if len(m.Event) == 0 {
		return fmt.Errorf("webhooks: message has no event payload")
	}
	if err := json.Unmarshal(m.Event, out); err != nil {
		return fmt.Errorf("webhooks: decode event: %w", err)
	}
	return nil
}

var envelopeValidator = newEnvelopeValidator()

func newEnvelopeValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func readDeliveryHeaders(header http.Header, names HeaderNames, allowedTypes map[string]struct{}) (DeliveryHeaders, error) {
	out := DeliveryHeaders{}

	out.Signature = strings.TrimSpace(header.Get(names.Signature))
	if !strings.HasPrefix(out.Signature, SignaturePrefix) || len(out.Signature) < minSignatureLength {
		return DeliveryHeaders{}, fmt.Errorf("missing or malformed signature header")
	}

	out.SubscriptionType = strings.TrimSpace(header.Get(names.SubscriptionType))
	if out.SubscriptionType == "" {
		return DeliveryHeaders{}, fmt.Errorf("missing subscription type header")
	}
	if len(allowedTypes) > 0 {
		if _, ok := allowedTypes[out.SubscriptionType]; !ok {
			return DeliveryHeaders{}, fmt.Errorf("subscription type %q is not handled here", out.SubscriptionType)
		}
	}

	out.MessageID = strings.TrimSpace(header.Get(names.MessageID))
	if out.MessageID == "" {
		return DeliveryHeaders{}, fmt.Errorf("missing message id header")
	}

	out.MessageTimestamp = strings.TrimSpace(header.Get(names.MessageTimestamp))
	if out.MessageTimestamp == "" {
		return DeliveryHeaders{}, fmt.Errorf("missing message timestamp header")
	}
	timestamp, err := time.Parse(time.RFC3339Nano, out.MessageTimestamp)
	if err != nil {
		return DeliveryHeaders{}, fmt.Errorf("invalid message timestamp %q", out.MessageTimestamp)
	}
	out.Timestamp = timestamp.UTC()

	kind, ok := ParseMessageKind(header.Get(names.MessageKind))
	if !ok {
		return DeliveryHeaders{}, fmt.Errorf("unknown message type %q", header.Get(names.MessageKind))
	}
	out.Kind = kind
	return out, nil
}

func parseEnvelope(body []byte) (envelope, error) {
	raw := struct {
		Subscription *Subscription   `json:"subscription"`
		Event        json.RawMessage `json:"event"`
		Challenge    *string         `json:"challenge"`
	}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return envelope{}, fmt.Errorf("body is not a JSON envelope: %w", err)
	}
	if raw.Subscription == nil {
		return envelope{}, fmt.Errorf("envelope has no subscription descriptor")
	}
	if err := envelopeValidator.Struct(raw.Subscription); err != nil {
		return envelope{}, fmt.Errorf("invalid subscription descriptor: %w", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, raw.Subscription.CreatedAt); err != nil {
		return envelope{}, fmt.Errorf("invalid subscription created_at %q", raw.Subscription.CreatedAt)
	}
	return envelope{
		Subscription: raw.Subscription,
		Challenge:    raw.Challenge,
		rawEvent:     raw.Event,
	}, nil
}

// requireEvent checks that the notification payload is a JSON object.
func (e envelope) requireEvent() error {
	trimmed := strings.TrimSpace(string(e.rawEvent))
	if trimmed == "" || trimmed == "null" || !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("notification has no event object")
	}
	event := map[string]any{}
	if err := json.Unmarshal(e.rawEvent, &event); err != nil {
		return fmt.Errorf("notification event is not an object: %w", err)
	}
	return nil
}

func (e envelope) requireChallenge() (string, error) {
	if e.Challenge == nil || *e.Challenge == "" {
		return "", fmt.Errorf("verification has no challenge")
	}
	return *e.Challenge, nil
}
