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

// Package tenantdb reads and writes application data inside a tenant's own
// database. Every query runs on the pool the resolver hands out for the
// request's tenant, so isolation comes from the connection, not from WHERE
// clauses.
package tenantdb

import (
	"context"
	"database/sql"
	"fmt"
)

// Record is one product row in a tenant's database.
type Record struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Supplier    string  `json:"supplier"`
	Price       float64 `json:"price"`
	Available   bool    `json:"available"`
	Quantity    int     `json:"quantity"`
	TenantID    string  `json:"tenant_id"`
}

// TenantRecords is the engine-specific data access surface.
type TenantRecords interface {
	SelectTenantRecords(ctx context.Context, db *sql.DB, tenantID string) ([]Record, error)
	InsertTenantRecord(ctx context.Context, db *sql.DB, rec Record) error
}

// ForEngine returns the data access implementation for a database engine.
func ForEngine(engine string) (TenantRecords, error) {
	switch engine {
	case "postgres":
		return postgresRecords{}, nil
	case "mysql":
		return mysqlRecords{}, nil
	default:
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}
}

const selectQuery = "SELECT id, name, description, supplier, price, available, quantity FROM products ORDER BY id"

func scanRecords(rows *sql.Rows, tenantID string) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Supplier, &r.Price, &r.Available, &r.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		r.TenantID = tenantID
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return records, nil
}

type postgresRecords struct{}

func (postgresRecords) SelectTenantRecords(ctx context.Context, db *sql.DB, tenantID string) ([]Record, error) {
	rows, err := db.QueryContext(ctx, selectQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return scanRecords(rows, tenantID)
}

func (postgresRecords) InsertTenantRecord(ctx context.Context, db *sql.DB, rec Record) error {
	const query = `INSERT INTO products (name, description, supplier, price, available, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := db.ExecContext(ctx, query, rec.Name, rec.Description, rec.Supplier, rec.Price, rec.Available, rec.Quantity); err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

type mysqlRecords struct{}

func (mysqlRecords) SelectTenantRecords(ctx context.Context, db *sql.DB, tenantID string) ([]Record, error) {
	rows, err := db.QueryContext(ctx, selectQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return scanRecords(rows, tenantID)
}

func (mysqlRecords) InsertTenantRecord(ctx context.Context, db *sql.DB, rec Record) error {
	const query = `INSERT INTO products (name, description, supplier, price, available, quantity)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query, rec.Name, rec.Description, rec.Supplier, rec.Price, rec.Available, rec.Quantity); err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}
