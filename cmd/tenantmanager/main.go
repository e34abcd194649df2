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

// Package main is the entry point for the tenant manager service.
//
// The tenant manager is the multi-tenant control plane that:
// - Handles subscription callbacks from the provisioning platform
// - Provisions one database instance and credential per tenant
// - Maintains per-tenant connection pools and the tenant registry
// - Serves tenant-scoped application data
//
// Usage:
//
//	./tenantmanager
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	CONFIG_FILE - Path to the YAML configuration file
//	PLATFORM_API_URL - Provisioning platform API root
//	PLATFORM_TOKEN_URL - OAuth token endpoint
//	REGISTRY_DSN - PostgreSQL connection string for the tenant registry
//	REDIS_URL - Redis URL for the credential cache
package main

import (
	"log"

	"tenantgrid/platform/tenantmanager"
)

func main() {
	if err := tenantmanager.Run(); err != nil {
		log.Fatalf("tenant manager failed: %v", err)
	}
}
