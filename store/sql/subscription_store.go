package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-credentials/core"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *SubscriptionStore) List(ctx context.Context, principalID string) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, core.NewBadInputError("principal_id", "principal id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("principal_id", "=", principalID),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Append records newly created subscriptions. Re-appending a known
// subscription id is a no-op.
func (s *SubscriptionStore) Append(ctx context.Context, principalID string, subscriptions []core.Subscription) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return core.NewBadInputError("principal_id", "principal id is required")
	}
	if len(subscriptions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]*subscriptionRecord, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		id := strings.TrimSpace(subscription.ID)
		typ := strings.TrimSpace(subscription.Type)
		if id == "" || typ == "" {
			return core.NewBadInputError("subscriptions", "subscription id and type are required")
		}
		createdAt := subscription.CreatedAt.UTC()
		if subscription.CreatedAt.IsZero() {
			createdAt = now
		}
		records = append(records, &subscriptionRecord{
			ID:             uuid.NewString(),
			PrincipalID:    principalID,
			SubscriptionID: id,
			Type:           typ,
			CreatedAt:      createdAt,
		})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, record := range records {
			if _, err := tx.NewInsert().
				Model(record).
				On("CONFLICT (principal_id, subscription_id) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
