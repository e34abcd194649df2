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
	"sync"

	"tenantgrid/platform/shared/types"
)

// StateCache is the in-process view of tenant lifecycle state. It is updated
// before the durable registry on every transition, so concurrent lifecycle
// requests observe transient states (ONBOARDING, OFFBOARDING) immediately.
type StateCache struct {
	mu      sync.RWMutex
	tenants map[string]*types.Tenant
}

// NewStateCache returns an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{tenants: make(map[string]*types.Tenant)}
}

// Get returns a copy of the cached tenant, or nil when unknown.
func (c *StateCache) Get(tenantID string) *types.Tenant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tenants[tenantID]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Set stores a copy of the tenant, replacing any existing entry.
func (c *StateCache) Set(t *types.Tenant) {
	cp := *t
	c.mu.Lock()
	c.tenants[cp.ID] = &cp
	c.mu.Unlock()
}

// State returns the cached lifecycle state, or StateUnknown for tenants the
// cache has never seen.
func (c *StateCache) State(tenantID string) types.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tenants[tenantID]
	if !ok {
		return types.StateUnknown
	}
	return t.State
}

// BeginOnboarding atomically claims a tenant for onboarding. It returns the
// previous state and false when the tenant is already ONBOARDING or
// ONBOARDED; otherwise it stores a fresh ONBOARDING entry and returns true.
// Check and claim happen under one lock so two concurrent subscription
// callbacks can never both start provisioning.
func (c *StateCache) BeginOnboarding(tenantID, subdomain string) (types.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := types.StateUnknown
	if t, ok := c.tenants[tenantID]; ok {
		state = t.State
	}
	if state == types.StateOnboarding || state == types.StateOnboarded {
		return state, false
	}

	c.tenants[tenantID] = &types.Tenant{ID: tenantID, Subdomain: subdomain, State: types.StateOnboarding}
	return state, true
}

// SetState updates just the lifecycle state, creating a minimal entry when
// the tenant is not cached yet.
func (c *StateCache) SetState(tenantID string, state types.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tenants[tenantID]; ok {
		t.State = state
		return
	}
	c.tenants[tenantID] = &types.Tenant{ID: tenantID, State: state}
}

// Delete removes a tenant from the cache.
func (c *StateCache) Delete(tenantID string) {
	c.mu.Lock()
	delete(c.tenants, tenantID)
	c.mu.Unlock()
}

// All returns a snapshot of every cached tenant.
func (c *StateCache) All() []*types.Tenant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Tenant, 0, len(c.tenants))
	for _, t := range c.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out
}
