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

// Package registry persists tenant subscription metadata in PostgreSQL. The
// subscriptions table is the durable source of truth for which tenants exist
// and what lifecycle state they are in; the credential cache and in-process
// state cache are derived views.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"tenantgrid/platform/shared/types"
)

// ErrTenantNotFound is returned when no subscription row exists for a
// tenant id.
var ErrTenantNotFound = errors.New("tenant not found")

const subscriptionsTable = "subscriptions"

// Store reads and writes subscription rows.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// NewStore wraps an open database handle. The caller owns the handle's
// lifecycle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
	}
}

// Open connects to PostgreSQL with the given DSN and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping registry database: %w", err)
	}
	return NewStore(db), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the subscriptions table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS subscriptions (
		tenant_id TEXT PRIMARY KEY,
		subdomain TEXT NOT NULL,
		instance_id TEXT NOT NULL DEFAULT '',
		credential_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure subscriptions schema: %w", err)
	}
	return nil
}

const selectColumns = "tenant_id, subdomain, instance_id, credential_id, state"

func scanTenant(row interface{ Scan(...interface{}) error }) (*types.Tenant, error) {
	var t types.Tenant
	if err := row.Scan(&t.ID, &t.Subdomain, &t.InstanceID, &t.CredentialID, &t.State); err != nil {
		return nil, err
	}
	return &t, nil
}

// FetchByTenantID loads one subscription row, or ErrTenantNotFound.
func (s *Store) FetchByTenantID(ctx context.Context, tenantID string) (*types.Tenant, error) {
	query := "SELECT " + selectColumns + " FROM " + subscriptionsTable + " WHERE tenant_id = $1"

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// FetchAll returns every subscription row, optionally filtered to one state.
func (s *Store) FetchAll(ctx context.Context, state types.State) ([]*types.Tenant, error) {
	query := "SELECT " + selectColumns + " FROM " + subscriptionsTable
	var args []interface{}
	if state != "" {
		query += " WHERE state = $1"
		args = append(args, string(state))
	}
	query += " ORDER BY tenant_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var tenants []*types.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return tenants, nil
}

// InsertOrUpdate upserts the full subscription row keyed by tenant id.
func (s *Store) InsertOrUpdate(ctx context.Context, t *types.Tenant) error {
	const query = `INSERT INTO subscriptions (tenant_id, subdomain, instance_id, credential_id, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			subdomain = EXCLUDED.subdomain,
			instance_id = EXCLUDED.instance_id,
			credential_id = EXCLUDED.credential_id,
			state = EXCLUDED.state,
			updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, t.ID, t.Subdomain, t.InstanceID, t.CredentialID, string(t.State)); err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", t.ID, err)
	}
	s.logger.Printf("Subscription upserted: tenant=%s state=%s", t.ID, t.State)
	return nil
}

// Update applies arbitrary column updates to rows matching wheres. The
// updated_at column is always refreshed. Matching zero rows yields
// ErrTenantNotFound.
func (s *Store) Update(ctx context.Context, sets, wheres map[string]interface{}) error {
	withTimestamp := make(map[string]interface{}, len(sets)+1)
	for k, v := range sets {
		withTimestamp[k] = v
	}
	withTimestamp["updated_at"] = time.Now().UTC()

	query, args := updateQuery(subscriptionsTable, withTimestamp, wheres)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update subscriptions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// UpdateState sets the lifecycle state for one tenant.
func (s *Store) UpdateState(ctx context.Context, tenantID string, state types.State) error {
	return s.Update(ctx,
		map[string]interface{}{"state": string(state)},
		map[string]interface{}{"tenant_id": tenantID},
	)
}

// DeleteByTenantID removes a subscription row. Deleting a missing row is not
// an error.
func (s *Store) DeleteByTenantID(ctx context.Context, tenantID string) error {
	const query = "DELETE FROM subscriptions WHERE tenant_id = $1"
	if _, err := s.db.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", tenantID, err)
	}
	s.logger.Printf("Subscription deleted: tenant=%s", tenantID)
	return nil
}
