// Copyright 2025 TenantGrid
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgresql-db", cfg.Tenants.OfferingName)
	assert.Equal(t, "standard", cfg.Tenants.PlanName)
	assert.Equal(t, "postgres", cfg.Tenants.Engine)
	assert.Equal(t, 30*time.Second, cfg.Tenants.PollInterval)
	assert.Equal(t, 10, cfg.Tenants.PollAttempts)
	assert.Equal(t, "client_credentials", cfg.Platform.GrantType)
	assert.Equal(t, "none", cfg.Secrets.Source)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
platform:
  api_url: https://api.platform.example.com
  token_url: https://auth.platform.example.com/oauth/token
  client_id: tenant-manager
tenants:
  offering_name: mysql-db
  engine: mysql
  hostname_routed: true
  app_domain: apps.example.com
redis:
  sentinels:
    - sentinel-1:26379
    - sentinel-2:26379
  master_name: mymaster
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://api.platform.example.com", cfg.Platform.APIURL)
	assert.Equal(t, "mysql-db", cfg.Tenants.OfferingName)
	assert.Equal(t, "mysql", cfg.Tenants.Engine)
	assert.True(t, cfg.Tenants.HostnameRouted)
	assert.Equal(t, []string{"sentinel-1:26379", "sentinel-2:26379"}, cfg.Redis.Sentinels)
	assert.Equal(t, "mymaster", cfg.Redis.MasterName)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform:
  client_id: from-file
`), 0o644))

	t.Setenv("PLATFORM_CLIENT_ID", "from-env")
	t.Setenv("PORT", "7070")
	t.Setenv("REDIS_SENTINELS", "s1:26379, s2:26379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Platform.ClientID)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, cfg.Redis.Sentinels)
}

func TestLoad_InvalidEngine(t *testing.T) {
	t.Setenv("TENANT_DB_ENGINE", "oracle")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_InvalidSecretsSource(t *testing.T) {
	t.Setenv("SECRETS_SOURCE", "vault")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestApplySecrets(t *testing.T) {
	source := NewLocalSecretsSource()
	source.SetSecret("platform-creds", map[string]string{
		"client_id":     "secret-client",
		"client_secret": "secret-value",
	})

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Secrets.SecretID = "platform-creds"
	cfg.Platform.TokenURL = "https://auth.example.com/token"

	require.NoError(t, ApplySecrets(context.Background(), cfg, source))

	assert.Equal(t, "secret-client", cfg.Platform.ClientID)
	assert.Equal(t, "secret-value", cfg.Platform.ClientSecret)
	// Keys absent from the secret leave the config value untouched.
	assert.Equal(t, "https://auth.example.com/token", cfg.Platform.TokenURL)
}

func TestApplySecrets_NoSourceIsNoop(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.NoError(t, ApplySecrets(context.Background(), cfg, nil))
}

func TestEnvSecretsSource(t *testing.T) {
	t.Setenv("PLATFORM_CLIENT_ID", "env-client")
	t.Setenv("PLATFORM_CLIENT_SECRET", "env-secret")

	source := NewEnvSecretsSource()
	secret, err := source.GetSecret(context.Background(), "PLATFORM")
	require.NoError(t, err)

	assert.Equal(t, "env-client", secret["client_id"])
	assert.Equal(t, "env-secret", secret["client_secret"])
}

func TestEnvSecretsSource_NoCredentials(t *testing.T) {
	source := NewEnvSecretsSource()
	_, err := source.GetSecret(context.Background(), "NO_SUCH_PREFIX")
	assert.Error(t, err)
}
