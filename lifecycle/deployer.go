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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"tenantgrid/platform/shared/types"
)

// DeploymentError reports a failed content deployment into a tenant's fresh
// instance. The tenant stays in ONBOARDING when this is returned.
type DeploymentError struct {
	TenantID string
	Cause    error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("content deployment for tenant %s failed: %v", e.TenantID, e.Cause)
}

func (e *DeploymentError) Unwrap() error {
	return e.Cause
}

// SQLDeployer applies the SQL files of a content directory to a tenant's
// newly provisioned database. Files run in lexical order and each applied
// file is recorded in schema_migrations, so re-running a partially deployed
// tenant resumes where it stopped.
type SQLDeployer struct {
	dir    string
	driver string
	// open is swappable for tests.
	open   func(driver, dsn string) (*sql.DB, error)
	dsnFor func(creds *types.Credentials) string
	logger *log.Logger
}

// NewSQLDeployer creates a deployer that reads *.sql files from dir and
// applies them over the given driver ("postgres" or "mysql").
func NewSQLDeployer(dir, driver string, dsnFor func(creds *types.Credentials) string) *SQLDeployer {
	return &SQLDeployer{
		dir:    dir,
		driver: driver,
		open:   sql.Open,
		dsnFor: dsnFor,
		logger: log.New(os.Stdout, "[DEPLOYER] ", log.LstdFlags),
	}
}

// Deploy connects with the tenant's own credentials and applies all pending
// SQL files.
func (d *SQLDeployer) Deploy(ctx context.Context, tenantID string, creds *types.Credentials) error {
	files, err := d.contentFiles()
	if err != nil {
		return &DeploymentError{TenantID: tenantID, Cause: err}
	}
	if len(files) == 0 {
		d.logger.Printf("No content files in %s, nothing to deploy for tenant %s", d.dir, tenantID)
		return nil
	}

	db, err := d.open(d.driver, d.dsnFor(creds))
	if err != nil {
		return &DeploymentError{TenantID: tenantID, Cause: err}
	}
	defer db.Close()

	if err := d.ensureBookkeeping(ctx, db); err != nil {
		return &DeploymentError{TenantID: tenantID, Cause: err}
	}

	applied, err := d.appliedSet(ctx, db)
	if err != nil {
		return &DeploymentError{TenantID: tenantID, Cause: err}
	}

	for _, file := range files {
		name := filepath.Base(file)
		if applied[name] {
			continue
		}
		if err := d.applyFile(ctx, db, file, name); err != nil {
			return &DeploymentError{TenantID: tenantID, Cause: err}
		}
		d.logger.Printf("Applied %s for tenant %s", name, tenantID)
	}
	return nil
}

func (d *SQLDeployer) contentFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(d.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list content directory %s: %w", d.dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (d *SQLDeployer) ensureBookkeeping(ctx context.Context, db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}
	return nil
}

func (d *SQLDeployer) appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema_migrations row: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (d *SQLDeployer) applyFile(ctx context.Context, db *sql.DB, path, name string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to apply %s: %w", name, err)
	}

	record := "INSERT INTO schema_migrations (name) VALUES ($1)"
	if d.driver == "mysql" {
		record = "INSERT INTO schema_migrations (name) VALUES (?)"
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record %s: %w", name, err)
	}
	return tx.Commit()
}
