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

package tenantmanager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promOnboardingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgrid_onboardings_total",
			Help: "Total number of tenant onboarding requests by outcome",
		},
		[]string{"status"},
	)
	promOffboardingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgrid_offboardings_total",
			Help: "Total number of tenant offboarding requests by outcome",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantgrid_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 120000},
		},
		[]string{"handler"},
	)
	promTenantQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgrid_tenant_queries_total",
			Help: "Total number of tenant data plane queries by outcome",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(promOnboardingsTotal)
	prometheus.MustRegister(promOffboardingsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promTenantQueries)
}
