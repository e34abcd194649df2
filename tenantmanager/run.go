// Copyright 2025 TenantGrid
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tenantmanager is the control-plane service for tenant lifecycle.
// It exposes the subscription callback the provisioning platform invokes,
// warm-starts connection pools for every onboarded tenant, and serves the
// tenant-scoped data plane.
package tenantmanager

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"tenantgrid/platform/config"
	"tenantgrid/platform/configserver"
	"tenantgrid/platform/lifecycle"
	"tenantgrid/platform/pools"
	"tenantgrid/platform/provider"
	"tenantgrid/platform/registry"
	"tenantgrid/platform/retry"
	"tenantgrid/platform/shared/types"
	"tenantgrid/platform/tenantdb"
)

// Run boots the tenant manager and blocks until SIGINT or SIGTERM.
func Run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()

	secrets, err := buildSecretsSource(ctx, cfg)
	if err != nil {
		return err
	}
	if err := config.ApplySecrets(ctx, cfg, secrets); err != nil {
		return err
	}

	tokens := provider.NewTokenSource(provider.TokenConfig{
		TokenURL:     cfg.Platform.TokenURL,
		GrantType:    cfg.Platform.GrantType,
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		Username:     cfg.Platform.Username,
		Password:     cfg.Platform.Password,
	})
	platform := provider.NewClient(cfg.Platform.APIURL, tokens)

	cache, err := configserver.New(configserver.Config{
		URL:        cfg.Redis.URL,
		Sentinels:  cfg.Redis.Sentinels,
		MasterName: cfg.Redis.MasterName,
		Password:   cfg.Redis.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to connect credential cache: %w", err)
	}
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		return err
	}

	store, err := registry.Open(ctx, cfg.Registry.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	poolRegistry := pools.NewRegistry(cfg.Tenants.Engine, pools.PoolConfig{})
	defer poolRegistry.Close()

	deployer := lifecycle.NewSQLDeployer(cfg.Tenants.ContentDir, cfg.Tenants.Engine, tenantDSN(cfg.Tenants.Engine))

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		OfferingName:   cfg.Tenants.OfferingName,
		PlanName:       cfg.Tenants.PlanName,
		InstanceParams: cfg.Tenants.InstanceParams,
		AppID:          cfg.Tenants.AppID,
		AppDomain:      cfg.Tenants.AppDomain,
		HostnameRouted: cfg.Tenants.HostnameRouted,
		Poll: retry.Options{
			FixedDelay:  true,
			Delay:       cfg.Tenants.PollInterval,
			MaxAttempts: cfg.Tenants.PollAttempts,
		},
	}, platform, cache, store, deployer, poolRegistry)

	// Warm start before accepting traffic so data plane requests never race
	// pool initialization for already-onboarded tenants.
	if err := manager.WarmStart(ctx); err != nil {
		return err
	}

	records, err := tenantdb.ForEngine(cfg.Tenants.Engine)
	if err != nil {
		return err
	}

	resolver := lifecycle.NewResolver(poolRegistry, cache)
	server := NewServer(manager, resolver, records, cfg.Tenants.AppDomain)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Tenant-ID"},
	}).Handler(server.Routes())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Tenant manager listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Println("✅ Shutdown complete")
	return nil
}

func buildSecretsSource(ctx context.Context, cfg *config.Config) (config.SecretsSource, error) {
	switch cfg.Secrets.Source {
	case "aws":
		source, err := config.NewAWSSecretsSource(ctx, cfg.Secrets.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize secrets manager: %w", err)
		}
		return source, nil
	case "env":
		return config.NewEnvSecretsSource(), nil
	default:
		return nil, nil
	}
}

// tenantDSN builds the deployer's DSN function for the configured engine.
func tenantDSN(engine string) func(creds *types.Credentials) string {
	return func(creds *types.Credentials) string {
		if engine == "mysql" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
				creds.Username, creds.Password, creds.Host, creds.Port, creds.Database, 5*time.Second)
		}
		if creds.URI != "" {
			return creds.URI
		}
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s connect_timeout=5 sslmode=disable",
			creds.Host, creds.Port, creds.Database, creds.Username, creds.Password)
	}
}
