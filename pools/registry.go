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

// Package pools maintains one database connection pool per onboarded tenant.
// Initialization is idempotent and single-flight: concurrent requests for
// the same tenant share one pool-open, and the first pool wins.
package pools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"tenantgrid/platform/shared/types"
)

// ErrNotInitialized is wrapped by GetPool when no pool exists for a tenant.
var ErrNotInitialized = errors.New("tenant pool not initialized")

// Supported database engines.
const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// PoolConfig sizes each per-tenant pool.
type PoolConfig struct {
	Max            int
	Min            int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Min <= 0 {
		c.Min = 4
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

type entry struct {
	credentials types.Credentials
	db          *sql.DB
}

// opener abstracts sql.Open so tests can substitute a fake driver.
type opener func(engine string, creds types.Credentials, cfg PoolConfig) (*sql.DB, error)

// Registry maps tenant ids to live connection pools.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
	cfg     PoolConfig
	engine  string
	open    opener
	logger  *log.Logger
}

// NewRegistry creates an empty registry for the given engine
// (EnginePostgres or EngineMySQL).
func NewRegistry(engine string, cfg PoolConfig) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg.withDefaults(),
		engine:  engine,
		open:    openPool,
		logger:  log.New(os.Stdout, "[POOL_REGISTRY] ", log.LstdFlags),
	}
}

// Has reports whether a pool exists for the tenant.
func (r *Registry) Has(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[tenantID]
	return ok
}

// Count returns the number of live pools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetPool returns the pool for a tenant, or an error wrapping
// ErrNotInitialized.
func (r *Registry) GetPool(tenantID string) (*sql.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotInitialized)
	}
	return e.db, nil
}

// Initialize opens a pool for the tenant unless one already exists.
// Concurrent callers for the same tenant share a single open; the pool that
// lands first stays, later credentials for the same tenant are ignored.
func (r *Registry) Initialize(ctx context.Context, tenantID string, creds types.Credentials) error {
	if r.Has(tenantID) {
		return nil
	}

	_, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		// Recheck under the flight: another caller may have finished while
		// this one was queued.
		if r.Has(tenantID) {
			return nil, nil
		}

		db, err := r.open(r.engine, creds, r.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open pool for tenant %s: %w", tenantID, err)
		}

		r.mu.Lock()
		if _, exists := r.entries[tenantID]; exists {
			r.mu.Unlock()
			db.Close()
			return nil, nil
		}
		r.entries[tenantID] = &entry{credentials: creds, db: db}
		r.mu.Unlock()

		r.logger.Printf("Pool initialized for tenant %s (%s)", tenantID, r.engine)
		return nil, nil
	})
	return err
}

// InitializeMany opens pools for a batch of tenants, typically at warm
// start. A failing tenant is logged and skipped so one bad credential set
// cannot block the rest; the number of successfully initialized pools is
// returned.
func (r *Registry) InitializeMany(ctx context.Context, creds map[string]types.Credentials) int {
	ok := 0
	for tenantID, c := range creds {
		if err := r.Initialize(ctx, tenantID, c); err != nil {
			r.logger.Printf("Skipping pool for tenant %s: %v", tenantID, err)
			continue
		}
		ok++
	}
	return ok
}

// Evict closes and removes a tenant's pool. Evicting a missing tenant is a
// no-op.
func (r *Registry) Evict(tenantID string) error {
	r.mu.Lock()
	e, ok := r.entries[tenantID]
	delete(r.entries, tenantID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close pool for tenant %s: %w", tenantID, err)
	}
	r.logger.Printf("Pool evicted for tenant %s", tenantID)
	return nil
}

// Close closes every pool and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for tenantID, e := range entries {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close pool for tenant %s: %w", tenantID, err)
		}
	}
	return firstErr
}

// openPool opens and configures a database/sql pool for the engine.
func openPool(engine string, creds types.Credentials, cfg PoolConfig) (*sql.DB, error) {
	var dsn string
	switch engine {
	case EnginePostgres:
		dsn = postgresDSN(creds, cfg)
	case EngineMySQL:
		dsn = mysqlDSN(creds, cfg)
	default:
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}

	db, err := sql.Open(engine, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Max)
	db.SetMaxIdleConns(cfg.Min)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	return db, nil
}

func postgresDSN(creds types.Credentials, cfg PoolConfig) string {
	timeout := int(cfg.ConnectTimeout.Seconds())
	if creds.URI != "" {
		u, err := url.Parse(creds.URI)
		if err != nil {
			return creds.URI
		}
		q := u.Query()
		if q.Get("connect_timeout") == "" {
			q.Set("connect_timeout", strconv.Itoa(timeout))
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s connect_timeout=%d sslmode=disable",
		creds.Host, creds.Port, creds.Database,
		creds.Username, creds.Password,
		timeout)
}

func mysqlDSN(creds types.Credentials, cfg PoolConfig) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	mc.DBName = creds.Database
	mc.User = creds.Username
	mc.Passwd = creds.Password
	mc.Timeout = cfg.ConnectTimeout
	mc.ParseTime = true
	return mc.FormatDSN()
}
