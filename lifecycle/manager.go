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

// Package lifecycle orchestrates tenant onboarding and offboarding. The
// manager drives the provisioning platform through the full sequence
// (resolve, create instance, poll, create credential, deploy content,
// commit) and keeps the credential cache, metadata registry, and in-process
// state cache consistent with each other.
//
// Failures never roll a tenant back. A tenant that fails mid-onboarding
// stays in ONBOARDING with whatever platform resources were already created,
// so an operator can remediate and re-trigger the flow.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenantgrid/platform/provider"
	"tenantgrid/platform/registry"
	"tenantgrid/platform/retry"
	"tenantgrid/platform/shared/logger"
	"tenantgrid/platform/shared/types"
)

// PlatformAPI is the slice of the provisioning platform the manager needs.
type PlatformAPI interface {
	ResolveServiceOffering(ctx context.Context, name string) (string, error)
	ResolvePlan(ctx context.Context, offeringID, name string) (string, error)
	CreateInstance(ctx context.Context, name, planID string, params map[string]interface{}) (string, error)
	GetInstanceStatus(ctx context.Context, instanceID string) (provider.InstanceStatus, error)
	CreateCredential(ctx context.Context, instanceID, name string) (provider.Credential, error)
	DeleteCredential(ctx context.Context, credentialID string) error
	DeleteInstance(ctx context.Context, instanceID string) error
	ResolveDomain(ctx context.Context, name string) (string, error)
	EnsureRoute(ctx context.Context, host, domainID string) (string, error)
	FindRoute(ctx context.Context, host, domainID string) (string, error)
	MapRoute(ctx context.Context, routeID, appID string) error
	UnmapRoute(ctx context.Context, routeID, appID string) error
	DeleteRoute(ctx context.Context, routeID string) error
}

// CredentialCache stores tenant credentials for warm starts and pool
// initialization.
type CredentialCache interface {
	Get(ctx context.Context, tenantID string) (*types.Credentials, error)
	Set(ctx context.Context, tenantID string, creds *types.Credentials) error
	Delete(ctx context.Context, tenantID string) error
}

// MetadataStore is the durable subscription registry.
type MetadataStore interface {
	FetchByTenantID(ctx context.Context, tenantID string) (*types.Tenant, error)
	FetchAll(ctx context.Context, state types.State) ([]*types.Tenant, error)
	InsertOrUpdate(ctx context.Context, t *types.Tenant) error
	UpdateState(ctx context.Context, tenantID string, state types.State) error
	DeleteByTenantID(ctx context.Context, tenantID string) error
}

// ContentDeployer loads initial content into a tenant's fresh instance.
type ContentDeployer interface {
	Deploy(ctx context.Context, tenantID string, creds *types.Credentials) error
}

// PoolRegistry manages per-tenant connection pools.
type PoolRegistry interface {
	Initialize(ctx context.Context, tenantID string, creds types.Credentials) error
	InitializeMany(ctx context.Context, creds map[string]types.Credentials) int
	Evict(tenantID string) error
}

// ManagerConfig carries the provisioning parameters shared by all tenants.
type ManagerConfig struct {
	// OfferingName and PlanName select the marketplace service to provision
	// per tenant.
	OfferingName string
	PlanName     string
	// InstanceParams is passed verbatim as provisioning parameters.
	InstanceParams map[string]interface{}
	// AppID and AppDomain describe the application that tenant hostnames
	// are routed to when HostnameRouted is set.
	AppID          string
	AppDomain      string
	HostnameRouted bool
	// Poll controls how instance provisioning is awaited.
	Poll retry.Options
}

// Manager runs the tenant lifecycle.
type Manager struct {
	cfg      ManagerConfig
	platform PlatformAPI
	cache    CredentialCache
	store    MetadataStore
	deployer ContentDeployer
	pools    PoolRegistry
	states   *StateCache
	log      *logger.Logger
}

// NewManager wires the lifecycle orchestrator.
func NewManager(cfg ManagerConfig, platform PlatformAPI, cache CredentialCache, store MetadataStore, deployer ContentDeployer, pools PoolRegistry) *Manager {
	if cfg.Poll.MaxAttempts == 0 {
		cfg.Poll = retry.Options{FixedDelay: true, Delay: 30 * time.Second, MaxAttempts: 10}
	}
	return &Manager{
		cfg:      cfg,
		platform: platform,
		cache:    cache,
		store:    store,
		deployer: deployer,
		pools:    pools,
		states:   NewStateCache(),
		log:      logger.New("lifecycle"),
	}
}

// States exposes the in-process state cache.
func (m *Manager) States() *StateCache {
	return m.states
}

// Onboard provisions a tenant end to end: resolve the marketplace offering
// and plan, create the instance, wait for provisioning to settle, create a
// credential, deploy initial content, then commit the tenant as ONBOARDED in
// the credential cache and registry. A repeated call for a tenant that is
// already ONBOARDING or ONBOARDED is a no-op.
func (m *Manager) Onboard(ctx context.Context, tenantID, subdomain string) error {
	if prev, ok := m.states.BeginOnboarding(tenantID, subdomain); !ok {
		m.log.Info(tenantID, "", "Onboarding skipped, tenant already in progress or complete", map[string]interface{}{
			"state": string(prev),
		})
		return nil
	}

	start := time.Now()
	m.log.Info(tenantID, "", "Onboarding started", map[string]interface{}{"subdomain": subdomain})

	offeringID, err := m.platform.ResolveServiceOffering(ctx, m.cfg.OfferingName)
	if err != nil {
		return m.onboardFailed(tenantID, "resolve service offering", err)
	}
	planID, err := m.platform.ResolvePlan(ctx, offeringID, m.cfg.PlanName)
	if err != nil {
		return m.onboardFailed(tenantID, "resolve service plan", err)
	}

	instanceID, err := m.platform.CreateInstance(ctx, "tenant-"+tenantID, planID, m.cfg.InstanceParams)
	if err != nil {
		return m.onboardFailed(tenantID, "create instance", err)
	}

	// Record the instance id before polling. If polling fails, offboarding
	// and manual remediation still know which instance belongs to the
	// tenant.
	if t := m.states.Get(tenantID); t != nil {
		t.InstanceID = instanceID
		m.states.Set(t)
	}

	if err := m.awaitInstance(ctx, tenantID, instanceID); err != nil {
		return m.onboardFailed(tenantID, "await instance", err)
	}

	cred, err := m.platform.CreateCredential(ctx, instanceID, "tenant-key")
	if err != nil {
		return m.onboardFailed(tenantID, "create credential", err)
	}

	tenant := &types.Tenant{
		ID:           tenantID,
		Subdomain:    subdomain,
		InstanceID:   instanceID,
		CredentialID: cred.ID,
		State:        types.StateOnboarding,
		Credentials:  &cred.Credentials,
	}
	m.states.Set(tenant)

	if err := m.deployer.Deploy(ctx, tenantID, &cred.Credentials); err != nil {
		return m.onboardFailed(tenantID, "deploy content", err)
	}

	// Commit: credential cache and registry row are written together, then
	// the in-process state flips. From here the tenant is onboarded.
	if err := m.cache.Set(ctx, tenantID, &cred.Credentials); err != nil {
		return m.onboardFailed(tenantID, "cache credentials", err)
	}
	tenant.State = types.StateOnboarded
	if err := m.store.InsertOrUpdate(ctx, tenant); err != nil {
		return m.onboardFailed(tenantID, "persist subscription", err)
	}
	m.states.Set(tenant)

	if m.cfg.HostnameRouted {
		if err := m.mapTenantRoute(ctx, tenantID, subdomain); err != nil {
			return err
		}
	}

	m.log.InfoWithDuration(tenantID, "", "Onboarding completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"subdomain":   subdomain,
		"instance_id": instanceID,
	})
	return nil
}

// awaitInstance polls the instance's last operation until it succeeds, fails,
// or the poll budget runs out.
func (m *Manager) awaitInstance(ctx context.Context, tenantID, instanceID string) error {
	_, err := retry.Do(ctx, func(ctx context.Context, attempt int) (struct{}, error) {
		status, err := m.platform.GetInstanceStatus(ctx, instanceID)
		if err != nil {
			return struct{}{}, err
		}
		if status.InProgress() {
			m.log.Debug(tenantID, "", "Instance provisioning in progress", map[string]interface{}{
				"instance_id": instanceID,
				"attempt":     attempt,
			})
			return struct{}{}, retry.Continuef("instance %s %s still %s", instanceID, status.OperationType, status.OperationState)
		}
		if !status.Succeeded() {
			return struct{}{}, fmt.Errorf("instance %s %s operation ended in state %q", instanceID, status.OperationType, status.OperationState)
		}
		return struct{}{}, nil
	}, m.cfg.Poll)
	return err
}

func (m *Manager) mapTenantRoute(ctx context.Context, tenantID, subdomain string) error {
	domainID, err := m.platform.ResolveDomain(ctx, m.cfg.AppDomain)
	if err != nil {
		return fmt.Errorf("failed to resolve domain %s: %w", m.cfg.AppDomain, err)
	}
	routeID, err := m.platform.EnsureRoute(ctx, subdomain, domainID)
	if err != nil {
		return fmt.Errorf("failed to ensure route for %s: %w", subdomain, err)
	}
	if err := m.platform.MapRoute(ctx, routeID, m.cfg.AppID); err != nil {
		return fmt.Errorf("failed to map route %s: %w", routeID, err)
	}
	m.log.Info(tenantID, "", "Tenant route mapped", map[string]interface{}{
		"host":   subdomain,
		"domain": m.cfg.AppDomain,
	})
	return nil
}

func (m *Manager) onboardFailed(tenantID, step string, err error) error {
	// The tenant stays in ONBOARDING for remediation; nothing provisioned so
	// far is torn down.
	m.log.ErrorWithErr(tenantID, "", "Onboarding failed", err, map[string]interface{}{"step": step})
	return fmt.Errorf("onboarding tenant %s failed at %s: %w", tenantID, step, err)
}

// Offboard tears a tenant down: unmap and delete its route, delete the
// credential and instance, remove the registry row and cached credentials,
// and evict the connection pool. Credential and instance deletion are
// fire-and-forget; a failure there is logged and offboarding continues so
// the tenant never gets stuck on a half-deleted platform resource. A tenant
// with no registry row fails with ErrTenantNotFound before any platform
// call is made.
func (m *Manager) Offboard(ctx context.Context, tenantID string) error {
	tenant, err := m.store.FetchByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, registry.ErrTenantNotFound) {
			m.log.Warn(tenantID, "", "Offboarding requested for unregistered tenant", nil)
		}
		return fmt.Errorf("offboarding tenant %s failed: %w", tenantID, err)
	}

	if m.states.State(tenantID) == types.StateOffboarding {
		m.log.Info(tenantID, "", "Offboarding skipped, already in progress", nil)
		return nil
	}

	start := time.Now()
	m.states.SetState(tenantID, types.StateOffboarding)
	if err := m.store.UpdateState(ctx, tenantID, types.StateOffboarding); err != nil {
		return fmt.Errorf("offboarding tenant %s failed: %w", tenantID, err)
	}
	m.log.Info(tenantID, "", "Offboarding started", map[string]interface{}{"subdomain": tenant.Subdomain})

	if m.cfg.HostnameRouted {
		if err := m.unmapTenantRoute(ctx, tenantID, tenant.Subdomain); err != nil {
			return fmt.Errorf("offboarding tenant %s failed: %w", tenantID, err)
		}
	}

	if tenant.CredentialID != "" {
		if err := m.platform.DeleteCredential(ctx, tenant.CredentialID); err != nil {
			m.log.ErrorWithErr(tenantID, "", "Credential deletion failed, continuing", err, map[string]interface{}{
				"credential_id": tenant.CredentialID,
			})
		}
	}
	if tenant.InstanceID != "" {
		if err := m.platform.DeleteInstance(ctx, tenant.InstanceID); err != nil {
			m.log.ErrorWithErr(tenantID, "", "Instance deletion failed, continuing", err, map[string]interface{}{
				"instance_id": tenant.InstanceID,
			})
		}
	}

	// The registry row and the cached credentials go together. Removing only
	// one of them would leave a tenant that is half present.
	if err := m.store.DeleteByTenantID(ctx, tenantID); err != nil {
		return fmt.Errorf("offboarding tenant %s failed: %w", tenantID, err)
	}
	if err := m.cache.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("offboarding tenant %s failed: %w", tenantID, err)
	}

	m.states.SetState(tenantID, types.StateOffboarded)

	if err := m.pools.Evict(tenantID); err != nil {
		m.log.ErrorWithErr(tenantID, "", "Pool eviction failed", err, nil)
	}

	m.log.InfoWithDuration(tenantID, "", "Offboarding completed", float64(time.Since(start).Milliseconds()), nil)
	return nil
}

func (m *Manager) unmapTenantRoute(ctx context.Context, tenantID, subdomain string) error {
	domainID, err := m.platform.ResolveDomain(ctx, m.cfg.AppDomain)
	if err != nil {
		return fmt.Errorf("failed to resolve domain %s: %w", m.cfg.AppDomain, err)
	}
	routeID, err := m.platform.FindRoute(ctx, subdomain, domainID)
	if errors.Is(err, provider.ErrNotFound) {
		m.log.Warn(tenantID, "", "Tenant route already gone", map[string]interface{}{"host": subdomain})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find route for %s: %w", subdomain, err)
	}
	if err := m.platform.UnmapRoute(ctx, routeID, m.cfg.AppID); err != nil {
		return fmt.Errorf("failed to unmap route %s: %w", routeID, err)
	}
	if err := m.platform.DeleteRoute(ctx, routeID); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", routeID, err)
	}
	return nil
}

// LoadAllOnboardedTenants hydrates the in-process state cache from the
// registry and credential cache and returns the credentials of every
// ONBOARDED tenant. Tenants whose credentials are missing from the cache are
// logged and skipped.
func (m *Manager) LoadAllOnboardedTenants(ctx context.Context) (map[string]types.Credentials, error) {
	tenants, err := m.store.FetchAll(ctx, types.StateOnboarded)
	if err != nil {
		return nil, fmt.Errorf("failed to load onboarded tenants: %w", err)
	}

	creds := make(map[string]types.Credentials, len(tenants))
	for _, t := range tenants {
		c, err := m.cache.Get(ctx, t.ID)
		if err != nil {
			m.log.ErrorWithErr(t.ID, "", "Credentials missing for onboarded tenant, skipping", err, nil)
			continue
		}
		t.Credentials = c
		m.states.Set(t)
		creds[t.ID] = *c
	}
	return creds, nil
}

// WarmStart hydrates the state cache and opens a connection pool for every
// onboarded tenant. It is called once before the server starts accepting
// traffic.
func (m *Manager) WarmStart(ctx context.Context) error {
	creds, err := m.LoadAllOnboardedTenants(ctx)
	if err != nil {
		return err
	}

	opened := m.pools.InitializeMany(ctx, creds)

	m.log.Info("", "", "Warm start complete", map[string]interface{}{
		"tenants": len(creds),
		"pools":   opened,
	})
	return nil
}
