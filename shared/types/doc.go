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

/*
Package types provides shared type definitions used across the tenant
control-plane components.

# Overview

This package contains the tenant model shared between the lifecycle
orchestrator, the credential cache, the tenant registry and the connection
pool registry. It provides a single source of truth for the lifecycle state
enum and the credential shape, so that what the registry persists and what
the cache serves are always the same structure.

# Lifecycle States

A tenant moves through the states strictly in order:

	UNKNOWN -> ONBOARDING -> ONBOARDED -> OFFBOARDING -> OFFBOARDED

Credentials are only ever attached to a tenant while it is ONBOARDING
(transiently, before commit) or ONBOARDED.

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
