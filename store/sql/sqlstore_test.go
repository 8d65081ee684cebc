package sqlstore_test

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-credentials/core"
	credentialmigrations "github.com/goliatone/go-credentials/migrations"
	"github.com/goliatone/go-credentials/security"
	sqlstore "github.com/goliatone/go-credentials/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-credentials-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"credential_records", "credential_subscriptions"} {
		var name string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &name); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if name != table {
			t.Fatalf("expected %s table, got %q", table, name)
		}
	}
}

func TestCredentialStore_EncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	secrets, err := security.NewAppKeySecretProviderFromString("app-key-material", security.WithKeyID("primary"))
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(secrets))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.CredentialStore()

	expiresAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, core.Credential{
		PrincipalID:  "1337",
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		Identity: &core.IdentityClaims{
			Subject:     "1337",
			Login:       "Cool_User",
			DisplayName: "Cool_User",
			Extra:       map[string]any{"email_verified": true},
		},
		ExpiresAt: expiresAt,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, found, err := store.Load(ctx, "1337")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if loaded.AccessToken != "access-token-1" || loaded.RefreshToken != "refresh-token-1" {
		t.Fatalf("unexpected tokens %+v", loaded)
	}
	if !loaded.ExpiresAt.Equal(expiresAt) || loaded.Revoked {
		t.Fatalf("unexpected expiry or revoked state %+v", loaded)
	}
	if loaded.Identity == nil || loaded.Identity.Login != "Cool_User" || loaded.Identity.Extra["email_verified"] != true {
		t.Fatalf("unexpected identity %+v", loaded.Identity)
	}

	var row struct {
		Payload []byte `bun:"encrypted_payload"`
		KeyID   string `bun:"encryption_key_id"`
		Login   string `bun:"login"`
	}
	if err := client.DB().NewRaw(
		"SELECT encrypted_payload, encryption_key_id, login FROM credential_records WHERE principal_id = ?",
		"1337",
	).Scan(ctx, &row); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if bytes.Contains(row.Payload, []byte("access-token-1")) {
		t.Fatalf("expected access token to be encrypted at rest")
	}
	if row.KeyID != "primary" || row.Login != "cool_user" {
		t.Fatalf("unexpected row metadata key=%q login=%q", row.KeyID, row.Login)
	}
}

func TestCredentialStore_PlaintextAndUpsert(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewCredentialStore(client.DB(), nil, nil)
	if err != nil {
		t.Fatalf("new credential store: %v", err)
	}

	if _, found, err := store.Load(ctx, "1337"); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}
	if err := store.Save(ctx, core.Credential{PrincipalID: "1337", AccessToken: "access-1", RefreshToken: "refresh-1"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Save(ctx, core.Credential{PrincipalID: "1337", Revoked: true}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, found, err := store.Load(ctx, "1337")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if !loaded.Revoked || loaded.AccessToken != "" || loaded.RefreshToken != "" {
		t.Fatalf("expected revoked credential without tokens, got %+v", loaded)
	}

	var count int
	if err := client.DB().NewRaw("SELECT COUNT(*) FROM credential_records").Scan(ctx, &count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row per principal, got %d", count)
	}
}

func TestCredentialStore_EncryptedRowNeedsSecretProvider(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	secrets, _ := security.NewAppKeySecretProviderFromString("app-key-material")
	sealed, _ := sqlstore.NewCredentialStore(client.DB(), nil, secrets)
	if err := sealed.Save(ctx, core.Credential{PrincipalID: "1337", AccessToken: "access-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	plain, _ := sqlstore.NewCredentialStore(client.DB(), nil, nil)
	if _, _, err := plain.Load(ctx, "1337"); err == nil {
		t.Fatalf("expected encrypted row to require a secret provider")
	}
}

func TestSubscriptionStore_AppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromDB(client.DB())
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.SubscriptionStore()

	first := []core.Subscription{
		{ID: "sub-1", Type: "user.update", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "sub-2", Type: "stream.online", CreatedAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)},
	}
	if err := store.Append(ctx, "1337", first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "1337", append(first, core.Subscription{ID: "sub-3", Type: "stream.offline"})); err != nil {
		t.Fatalf("append again: %v", err)
	}
	if err := store.Append(ctx, "42", []core.Subscription{{ID: "sub-1", Type: "user.update"}}); err != nil {
		t.Fatalf("append other principal: %v", err)
	}

	listed, err := store.List(ctx, "1337")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected three subscriptions, got %+v", listed)
	}
	if listed[0].ID != "sub-1" || listed[1].ID != "sub-2" || listed[2].Type != "stream.offline" {
		t.Fatalf("unexpected order %+v", listed)
	}

	if err := store.Append(ctx, "1337", []core.Subscription{{ID: "", Type: "user.update"}}); core.KindOf(err) != core.KindBadInput {
		t.Fatalf("expected bad input for blank subscription id, got %v", err)
	}
}

func TestRepositoryFactory_CachedCredentialStoreAndServiceWiring(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory := sqlstore.NewRepositoryFactory(sqlstore.WithCacheService(cacheService))

	svc, err := core.NewService(core.Config{ServiceName: "credentials-test"},
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(factory),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close(ctx) }()

	if _, ok := factory.CredentialStore().(*sqlstore.CachedCredentialStore); !ok {
		t.Fatalf("expected cached credential store, got %T", factory.CredentialStore())
	}

	if err := svc.Login(ctx, "1337", core.LoginInput{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		ExpiresIn:    3600,
	}); err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.WaitBackground()

	token, err := svc.GetAccessToken(ctx, "1337", false)
	if err != nil {
		t.Fatalf("get access token: %v", err)
	}
	if token.AccessToken != "access-token-1" {
		t.Fatalf("unexpected token %+v", token)
	}

	if err := svc.Revoke(ctx, "1337"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.GetAccessToken(ctx, "1337", false); !core.IsRevoked(err) {
		t.Fatalf("expected revoked after revoke through cached store, got %v", err)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:credentials-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = credentialmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != credentialmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, credentialmigrations.WithValidationTargets(credentialmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
