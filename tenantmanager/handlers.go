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
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenantgrid/platform/lifecycle"
	"tenantgrid/platform/shared/logger"
	"tenantgrid/platform/tenantdb"
)

// TenantLifecycle is the slice of the lifecycle manager the HTTP layer uses.
type TenantLifecycle interface {
	Onboard(ctx context.Context, tenantID, subdomain string) error
	Offboard(ctx context.Context, tenantID string) error
}

// PoolResolver hands out the connection pool for a request's tenant.
type PoolResolver interface {
	PoolFor(ctx context.Context, tenantID string) (*sql.DB, error)
}

// Server is the tenant manager's HTTP surface: the subscription callback the
// platform invokes on tenant subscribe/unsubscribe, plus a small data plane
// that serves tenant-scoped product records.
type Server struct {
	lifecycle TenantLifecycle
	resolver  PoolResolver
	records   tenantdb.TenantRecords
	appDomain string
	log       *logger.Logger
}

// NewServer wires the HTTP layer.
func NewServer(lc TenantLifecycle, resolver PoolResolver, records tenantdb.TenantRecords, appDomain string) *Server {
	return &Server{
		lifecycle: lc,
		resolver:  resolver,
		records:   records,
		appDomain: appDomain,
		log:       logger.New("tenant-manager"),
	}
}

// Routes builds the router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthcheck", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/callback/v1.0/tenants/{tenantId}", s.subscribeHandler).Methods("PUT")
	r.HandleFunc("/callback/v1.0/tenants/{tenantId}", s.unsubscribeHandler).Methods("DELETE")

	r.HandleFunc("/v1/products", s.listProductsHandler).Methods("GET")
	r.HandleFunc("/v1/products", s.createProductHandler).Methods("POST")

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   "tenant-manager",
		"timestamp": time.Now().UTC(),
	}); err != nil {
		s.log.ErrorWithErr("", "", "Error encoding health response", err, nil)
	}
}

type subscriptionPayload struct {
	SubscribedSubdomain string `json:"subscribedSubdomain"`
}

// subscribeHandler is invoked by the platform when a tenant subscribes. It
// onboards the tenant synchronously and answers with the tenant's URL, which
// the platform wires into the tenant's launchpad.
func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	tenantID := mux.Vars(r)["tenantId"]

	var payload subscriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SubscribedSubdomain == "" {
		s.log.Error(tenantID, requestID, "Subscription callback with invalid payload", nil)
		promOnboardingsTotal.WithLabelValues("bad_request").Inc()
		s.writeError(w, http.StatusBadRequest, "subscribedSubdomain is required")
		return
	}

	s.log.Info(tenantID, requestID, "Subscription callback received", map[string]interface{}{
		"subdomain": payload.SubscribedSubdomain,
	})

	if err := s.lifecycle.Onboard(r.Context(), tenantID, payload.SubscribedSubdomain); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Onboarding failed", err, nil)
		promOnboardingsTotal.WithLabelValues("error").Inc()
		promRequestDuration.WithLabelValues("subscribe").Observe(float64(time.Since(start).Milliseconds()))
		s.writeError(w, http.StatusInternalServerError, "tenant onboarding failed")
		return
	}

	promOnboardingsTotal.WithLabelValues("success").Inc()
	promRequestDuration.WithLabelValues("subscribe").Observe(float64(time.Since(start).Milliseconds()))

	tenantURL := fmt.Sprintf("https://%s.%s", payload.SubscribedSubdomain, s.appDomain)
	s.log.InfoWithDuration(tenantID, requestID, "Subscription completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"tenant_url": tenantURL,
	})

	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(tenantURL)); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Error writing subscription response", err, nil)
	}
}

// unsubscribeHandler is invoked when a tenant unsubscribes. Offboarding runs
// in the background; the callback acknowledges immediately so the platform
// does not time out waiting for instance deletion.
func (s *Server) unsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	tenantID := mux.Vars(r)["tenantId"]

	s.log.Info(tenantID, requestID, "Unsubscription callback received", nil)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := s.lifecycle.Offboard(ctx, tenantID); err != nil {
			s.log.ErrorWithErr(tenantID, requestID, "Offboarding failed", err, nil)
			promOffboardingsTotal.WithLabelValues("error").Inc()
			return
		}
		promOffboardingsTotal.WithLabelValues("success").Inc()
	}()

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte("{}")); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Error writing unsubscription response", err, nil)
	}
}

// tenantPool resolves the request's tenant header to a pool, writing the
// error response itself when resolution fails.
func (s *Server) tenantPool(w http.ResponseWriter, r *http.Request, requestID string) (string, *sql.DB, bool) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		promTenantQueries.WithLabelValues("bad_request").Inc()
		s.writeError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
		return "", nil, false
	}

	db, err := s.resolver.PoolFor(r.Context(), tenantID)
	if errors.Is(err, lifecycle.ErrTenantNotOnboarded) {
		promTenantQueries.WithLabelValues("unknown_tenant").Inc()
		s.writeError(w, http.StatusNotFound, "tenant is not onboarded")
		return "", nil, false
	}
	if err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Pool resolution failed", err, nil)
		promTenantQueries.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusInternalServerError, "failed to reach tenant database")
		return "", nil, false
	}
	return tenantID, db, true
}

func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	tenantID, db, ok := s.tenantPool(w, r, requestID)
	if !ok {
		return
	}

	records, err := s.records.SelectTenantRecords(r.Context(), db, tenantID)
	if err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Product query failed", err, nil)
		promTenantQueries.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusInternalServerError, "failed to query products")
		return
	}
	if records == nil {
		records = []tenantdb.Record{}
	}

	promTenantQueries.WithLabelValues("success").Inc()
	promRequestDuration.WithLabelValues("list_products").Observe(float64(time.Since(start).Milliseconds()))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Error encoding products response", err, nil)
	}
}

func (s *Server) createProductHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()

	tenantID, db, ok := s.tenantPool(w, r, requestID)
	if !ok {
		return
	}

	var rec tenantdb.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		promTenantQueries.WithLabelValues("bad_request").Inc()
		s.writeError(w, http.StatusBadRequest, "invalid product payload")
		return
	}
	if rec.Name == "" {
		promTenantQueries.WithLabelValues("bad_request").Inc()
		s.writeError(w, http.StatusBadRequest, "product name is required")
		return
	}

	if err := s.records.InsertTenantRecord(r.Context(), db, rec); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Product insert failed", err, nil)
		promTenantQueries.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusInternalServerError, "failed to insert product")
		return
	}

	promTenantQueries.WithLabelValues("success").Inc()
	promRequestDuration.WithLabelValues("create_product").Observe(float64(time.Since(start).Milliseconds()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "created"}); err != nil {
		s.log.ErrorWithErr(tenantID, requestID, "Error encoding create response", err, nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.log.ErrorWithErr("", "", "Error encoding error response", err, nil)
	}
}
