package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-credentials/core"
)

// plaintextKeyID marks payloads stored without a secret provider.
const plaintextKeyID = "plaintext"

type keyMetadata interface {
	KeyID() string
	Version() int
}

// CredentialStore persists one credential row per principal. Tokens live in
// the encrypted payload; subject and login are kept in the clear for lookups.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*credentialRecord]
	codec   core.CredentialCodec
	secrets core.SecretProvider
	now     func() time.Time
}

func NewCredentialStore(db *bun.DB, codec core.CredentialCodec, secrets core.SecretProvider) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if codec == nil {
		codec = core.JSONCredentialCodec{}
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{
		db:      db,
		repo:    repo,
		codec:   codec,
		secrets: secrets,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *CredentialStore) Load(ctx context.Context, principalID string) (core.Credential, bool, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return core.Credential{}, false, core.NewBadInputError("principal_id", "principal id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("principal_id", "=", principalID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, false, err
	}
	if len(records) == 0 {
		return core.Credential{}, false, nil
	}
	credential, err := s.decode(ctx, records[0])
	if err != nil {
		return core.Credential{}, false, err
	}
	return credential, true, nil
}

func (s *CredentialStore) Save(ctx context.Context, credential core.Credential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	credential.PrincipalID = strings.TrimSpace(credential.PrincipalID)
	if credential.PrincipalID == "" {
		return core.NewBadInputError("principal_id", "principal id is required")
	}
	now := s.now()
	record, err := s.encode(ctx, credential, now)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.findByPrincipalTx(ctx, tx, credential.PrincipalID)
		if err != nil {
			return err
		}
		if existing == nil {
			record.ID = uuid.NewString()
			record.CreatedAt = now
			_, err := tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return err
	})
}

func (s *CredentialStore) findByPrincipalTx(ctx context.Context, tx bun.Tx, principalID string) (*credentialRecord, error) {
	record := &credentialRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.principal_id = ?", principalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (s *CredentialStore) encode(ctx context.Context, credential core.Credential, now time.Time) (*credentialRecord, error) {
	payload, err := s.codec.Encode(credential)
	if err != nil {
		return nil, err
	}
	keyID, keyVersion := plaintextKeyID, 0
	if s.secrets != nil {
		payload, err = s.secrets.Encrypt(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: encrypt credential payload: %w", err)
		}
		keyID, keyVersion = "secret-provider", 1
		if meta, ok := s.secrets.(keyMetadata); ok {
			keyID, keyVersion = meta.KeyID(), meta.Version()
		}
	}

	record := &credentialRecord{
		PrincipalID:       credential.PrincipalID,
		EncryptedPayload:  payload,
		PayloadFormat:     s.codec.Format(),
		PayloadVersion:    s.codec.Version(),
		EncryptionKeyID:   keyID,
		EncryptionVersion: keyVersion,
		Revoked:           credential.Revoked,
		UpdatedAt:         now,
	}
	if credential.Identity != nil {
		record.Subject = strings.TrimSpace(credential.Identity.Subject)
		record.Login = strings.ToLower(strings.TrimSpace(credential.Identity.Login))
	}
	if !credential.ExpiresAt.IsZero() {
		expiresAt := credential.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	return record, nil
}

func (s *CredentialStore) decode(ctx context.Context, record *credentialRecord) (core.Credential, error) {
	if record.PayloadFormat != s.codec.Format() {
		return core.Credential{}, fmt.Errorf("sqlstore: unsupported payload format %q", record.PayloadFormat)
	}
	payload := record.EncryptedPayload
	if record.EncryptionKeyID != plaintextKeyID {
		if s.secrets == nil {
			return core.Credential{}, fmt.Errorf("sqlstore: credential for %q is encrypted but no secret provider is configured", record.PrincipalID)
		}
		decrypted, err := s.secrets.Decrypt(ctx, payload)
		if err != nil {
			return core.Credential{}, fmt.Errorf("sqlstore: decrypt credential payload: %w", err)
		}
		payload = decrypted
	}
	credential, err := s.codec.Decode(payload)
	if err != nil {
		return core.Credential{}, err
	}
	credential.PrincipalID = record.PrincipalID
	credential.Revoked = record.Revoked
	credential.UpdatedAt = record.UpdatedAt.UTC()
	return credential, nil
}
