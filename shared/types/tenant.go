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

package types

// State is the lifecycle state of a tenant.
//
// Transitions are strictly ordered:
//
//	UNKNOWN -> ONBOARDING -> ONBOARDED -> OFFBOARDING -> OFFBOARDED
//
// ONBOARDING and OFFBOARDING are transient states; a failure while in a
// transient state leaves the tenant there for operator remediation, it never
// rolls the tenant back automatically.
type State string

const (
	StateUnknown     State = "UNKNOWN"
	StateOnboarding  State = "ONBOARDING"
	StateOnboarded   State = "ONBOARDED"
	StateOffboarding State = "OFFBOARDING"
	StateOffboarded  State = "OFFBOARDED"
)

// Credentials holds the connection parameters for one tenant's backing-store
// instance, as issued by the provisioning platform when a service key is
// created.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	URI      string `json:"uri,omitempty"`
	// Extensions carries engine-specific routing or session variables
	// (for example a logical-database hint) without widening the struct.
	Extensions map[string]string `json:"extensions,omitempty"`
}

// Tenant is the control-plane view of one subscribed tenant. The registry row
// is the durable source of truth; the in-process state cache holds a copy for
// immediate consistency ahead of the database.
type Tenant struct {
	ID           string       `json:"tenant_id"`
	Subdomain    string       `json:"subdomain"`
	InstanceID   string       `json:"instance_id,omitempty"`
	CredentialID string       `json:"credential_id,omitempty"`
	State        State        `json:"state"`
	Credentials  *Credentials `json:"credentials,omitempty"`
}

// TerminalOnboarded reports whether the tenant has fully completed onboarding.
func (t *Tenant) TerminalOnboarded() bool {
	return t.State == StateOnboarded
}
