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

// Package configserver caches tenant credentials in Redis so pool
// initialization and warm starts never have to round-trip to the
// provisioning platform. Entries live until offboarding removes them; there
// is no TTL-based eviction.
package configserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-redis/redis/v8"

	"tenantgrid/platform/shared/types"
)

// ErrNotCached is returned when no credentials are stored for a tenant. It
// usually means the tenant was never onboarded or has been offboarded.
var ErrNotCached = errors.New("credentials not cached")

// Config selects the Redis deployment. When Sentinels is non-empty the cache
// connects through Sentinel failover using MasterName; otherwise URL is
// parsed as a standalone redis:// address.
type Config struct {
	URL        string
	Sentinels  []string
	MasterName string
	Password   string
}

// Cache stores per-tenant credentials keyed by tenant id.
type Cache struct {
	client redis.UniversalClient
	logger *log.Logger
}

// New connects to Redis per cfg. The connection is verified lazily; call
// Ping to verify it eagerly.
func New(cfg Config) (*Cache, error) {
	var client redis.UniversalClient
	if len(cfg.Sentinels) > 0 {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Sentinels,
			Password:      cfg.Password,
		})
	} else {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		client = redis.NewClient(opts)
	}

	return &Cache{
		client: client,
		logger: log.New(os.Stdout, "[CREDENTIAL_CACHE] ", log.LstdFlags),
	}, nil
}

// NewWithClient wraps an existing Redis client, mainly for tests.
func NewWithClient(client redis.UniversalClient) *Cache {
	return &Cache{
		client: client,
		logger: log.New(os.Stdout, "[CREDENTIAL_CACHE] ", log.LstdFlags),
	}
}

// Ping verifies connectivity to the Redis deployment.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Get returns the cached credentials for a tenant, or ErrNotCached.
func (c *Cache) Get(ctx context.Context, tenantID string) (*types.Credentials, error) {
	raw, err := c.client.Get(ctx, tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotCached)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials for tenant %s: %w", tenantID, err)
	}

	var creds types.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("corrupt credential entry for tenant %s: %w", tenantID, err)
	}
	return &creds, nil
}

// Set stores credentials for a tenant, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, tenantID string, creds *types.Credentials) error {
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials for tenant %s: %w", tenantID, err)
	}
	if err := c.client.Set(ctx, tenantID, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credentials for tenant %s: %w", tenantID, err)
	}
	c.logger.Printf("Credentials cached for tenant %s", tenantID)
	return nil
}

// Delete removes a tenant's cached credentials. Deleting a missing entry is
// not an error.
func (c *Cache) Delete(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, tenantID).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
