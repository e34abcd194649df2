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

package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tenantgrid/platform/configserver"
	"tenantgrid/platform/shared/logger"
)

// ErrTenantNotOnboarded is wrapped when a request names a tenant that has no
// cached credentials, meaning it was never onboarded or has been offboarded.
var ErrTenantNotOnboarded = errors.New("tenant not onboarded")

// Resolver maps an incoming tenant id to a live connection pool, lazily
// initializing the pool from cached credentials on first use after a cold
// start.
type Resolver struct {
	pools lazyPools
	cache CredentialCache
	log   *logger.Logger
}

// lazyPools narrows the pool registry to what PoolFor needs.
type lazyPools interface {
	Has(tenantID string) bool
	GetPool(tenantID string) (*sql.DB, error)
	PoolRegistry
}

// NewResolver wires a resolver over the pool registry and credential cache.
func NewResolver(pools lazyPools, cache CredentialCache) *Resolver {
	return &Resolver{
		pools: pools,
		cache: cache,
		log:   logger.New("resolver"),
	}
}

// PoolFor returns the tenant's connection pool, initializing it from cached
// credentials when it does not exist yet.
func (r *Resolver) PoolFor(ctx context.Context, tenantID string) (*sql.DB, error) {
	if r.pools.Has(tenantID) {
		return r.pools.GetPool(tenantID)
	}

	creds, err := r.cache.Get(ctx, tenantID)
	if errors.Is(err, configserver.ErrNotCached) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotOnboarded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials for tenant %s: %w", tenantID, err)
	}

	if err := r.pools.Initialize(ctx, tenantID, *creds); err != nil {
		return nil, fmt.Errorf("failed to initialize pool for tenant %s: %w", tenantID, err)
	}
	r.log.Info(tenantID, "", "Pool initialized on demand", nil)
	return r.pools.GetPool(tenantID)
}
