package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-credentials/core"
)

func TestLoadDaemonConfig_DefaultsAndEnvironment(t *testing.T) {
	t.Setenv("CREDENTIALS_SECURITY_APP_KEY", "app-key-material")
	t.Setenv("CREDENTIALS_SERVER_API_TOKEN", "api-token-value")
	t.Setenv("CREDENTIALS_DATABASE_DRIVER", "postgres")
	t.Setenv("CREDENTIALS_DATABASE_DSN", "postgres://localhost/credentials?sslmode=disable")
	t.Setenv("CREDENTIALS_PROVIDER_CLIENT_ID", "client-123")
	t.Setenv("CREDENTIALS_PROVIDER_SCOPES", "openid,moderator:read:followers")
	t.Setenv("CREDENTIALS_SERVER_ADDR", ":9090")

	v, err := newViper("")
	require.NoError(t, err)
	cfg, err := loadDaemonConfig(v)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "api-token-value", cfg.Server.APIToken)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "client-123", cfg.Provider.ClientID)
	assert.Equal(t, []string{"openid", "moderator:read:followers"}, cfg.Provider.Scopes)
	assert.Equal(t, 10*time.Second, cfg.Provider.RequestTimeout)
	assert.Equal(t, "app-key", cfg.Security.KeyID)
	assert.Equal(t, 1, cfg.Security.KeyVersion)
}

func TestLoadDaemonConfig_Validation(t *testing.T) {
	v, err := newViper("")
	require.NoError(t, err)
	_, err = loadDaemonConfig(v)
	assert.ErrorContains(t, err, "security.app_key")

	t.Setenv("CREDENTIALS_SECURITY_APP_KEY", "app-key-material")
	v, err = newViper("")
	require.NoError(t, err)
	_, err = loadDaemonConfig(v)
	assert.ErrorContains(t, err, "server.api_token")

	t.Setenv("CREDENTIALS_SERVER_API_TOKEN", "api-token-value")
	t.Setenv("CREDENTIALS_DATABASE_DRIVER", "mysql")
	v, err = newViper("")
	require.NoError(t, err)
	_, err = loadDaemonConfig(v)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestViperConfigLoader_FeedsCoreConfig(t *testing.T) {
	t.Setenv("CREDENTIALS_SECURITY_APP_KEY", "app-key-material")
	t.Setenv("CREDENTIALS_SERVER_API_TOKEN", "api-token-value")
	t.Setenv("CREDENTIALS_CREDENTIALS_TOKEN_SAFETY_MARGIN_SECONDS", "45")
	t.Setenv("CREDENTIALS_CREDENTIALS_SUBSCRIPTIONS_CALLBACK_BASE_URL", "https://app.example/webhooks")
	t.Setenv("CREDENTIALS_CREDENTIALS_SUBSCRIPTIONS_REQUIRED_TYPES", "user.update stream.online")

	v, err := newViper("")
	require.NoError(t, err)
	cfg, err := loadDaemonConfig(v)
	require.NoError(t, err)

	loaded, err := core.NewCfgxConfigProvider(viperConfigLoader{cfg: cfg.Credentials}).Load(context.Background(), core.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 45, loaded.Token.SafetyMarginSeconds)
	assert.Equal(t, "https://app.example/webhooks", loaded.Subscriptions.CallbackBaseURL)
	assert.Equal(t, []string{"user.update", "stream.online"}, loaded.Subscriptions.RequiredTypes)
	assert.Equal(t, core.DefaultAppPrincipalID, loaded.AppPrincipalID)
	assert.Equal(t, core.DefaultRequiredLoginScopes, loaded.Login.RequiredScopes)
}

func TestViperConfigLoader_ZeroSafetyMarginReachesService(t *testing.T) {
	t.Setenv("CREDENTIALS_SECURITY_APP_KEY", "app-key-material")
	t.Setenv("CREDENTIALS_SERVER_API_TOKEN", "api-token-value")
	t.Setenv("CREDENTIALS_CREDENTIALS_TOKEN_SAFETY_MARGIN_SECONDS", "0")

	v, err := newViper("")
	require.NoError(t, err)
	cfg, err := loadDaemonConfig(v)
	require.NoError(t, err)

	svc, err := core.NewService(cfg.Credentials, core.WithConfigProvider(core.NewCfgxConfigProvider(viperConfigLoader{cfg: cfg.Credentials})))
	require.NoError(t, err)
	defer svc.Close(context.Background())
	assert.Equal(t, 0, svc.Config().Token.SafetyMarginSeconds)
}

func TestNewViper_ReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security:\n  app_key: from-file\nserver:\n  addr: \":7070\"\n  api_token: file-token\n"), 0o600))

	v, err := newViper(path)
	require.NoError(t, err)
	cfg, err := loadDaemonConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Security.AppKey)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "file-token", cfg.Server.APIToken)

	_, err = newViper(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", " c "}))
	assert.Empty(t, splitList(nil))
}
