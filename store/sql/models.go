package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-credentials/core"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:credential_records,alias:cr"`

	ID                string     `bun:"id,pk"`
	PrincipalID       string     `bun:"principal_id,notnull"`
	Subject           string     `bun:"subject,notnull"`
	Login             string     `bun:"login,notnull"`
	EncryptedPayload  []byte     `bun:"encrypted_payload,notnull"`
	PayloadFormat     string     `bun:"payload_format,notnull"`
	PayloadVersion    int        `bun:"payload_version,notnull"`
	EncryptionKeyID   string     `bun:"encryption_key_id,notnull"`
	EncryptionVersion int        `bun:"encryption_version,notnull"`
	Revoked           bool       `bun:"revoked,notnull"`
	ExpiresAt         *time.Time `bun:"expires_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:credential_subscriptions,alias:cs"`

	ID             string    `bun:"id,pk"`
	PrincipalID    string    `bun:"principal_id,notnull"`
	SubscriptionID string    `bun:"subscription_id,notnull"`
	Type           string    `bun:"type,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *subscriptionRecord) toDomain() core.Subscription {
	if r == nil {
		return core.Subscription{}
	}
	return core.Subscription{
		ID:        r.SubscriptionID,
		Type:      r.Type,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
