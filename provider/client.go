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

// Package provider is the HTTP client for the provisioning platform. It
// covers the service marketplace (offerings, plans, instances, keys), route
// management, and the OAuth token endpoint that authenticates every call.
//
// The client translates wire shapes into domain types and classifies
// failures; it never retries or polls on its own.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"tenantgrid/platform/shared/types"
)

// Asynchronous operation types and states reported by the platform for
// service instances.
const (
	OpTypeCreate = "create"
	OpTypeUpdate = "update"
	OpTypeDelete = "delete"

	OpStateInProgress = "in progress"
	OpStateSucceeded  = "succeeded"
	OpStateFailed     = "failed"
)

// Client talks to the provisioning platform's REST API.
type Client struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *log.Logger
}

// InstanceStatus is the last-operation snapshot of a service instance.
type InstanceStatus struct {
	OperationType  string
	OperationState string
}

// InProgress reports whether the instance's last operation is still running.
func (s InstanceStatus) InProgress() bool {
	return s.OperationState == OpStateInProgress
}

// Succeeded reports whether the instance's last operation completed.
func (s InstanceStatus) Succeeded() bool {
	return s.OperationState == OpStateSucceeded
}

// Credential is a provisioned service key and the connection material it
// carries.
type Credential struct {
	ID          string
	Name        string
	Credentials types.Credentials
}

// NewClient creates a platform client. baseURL is the API root without a
// trailing slash, for example "https://api.platform.example.com".
func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.New(os.Stdout, "[PLATFORM] ", log.LstdFlags),
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// doJSON performs one authenticated request and decodes the response into
// out when it is non-nil. Any status other than expect becomes a
// PlatformError carrying the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, expect int, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain platform token: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request %s %s failed: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode != expect {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return &PlatformError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}
	return nil
}

type listResponse struct {
	Items []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"items"`
}

// resolveExactlyOne runs a filtered list query and returns the single
// matching id. Zero matches or an ambiguous result both yield a
// NotFoundError.
func (c *Client) resolveExactlyOne(ctx context.Context, path, resource, name string, query url.Values) (string, error) {
	var list listResponse
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, http.StatusOK, &list); err != nil {
		return "", err
	}
	if len(list.Items) != 1 {
		c.logger.Printf("Lookup for %s %q returned %d matches", resource, name, len(list.Items))
		return "", &NotFoundError{Resource: resource, Name: name}
	}
	return list.Items[0].ID, nil
}

// ResolveServiceOffering resolves an offering name to its id.
func (c *Client) ResolveServiceOffering(ctx context.Context, name string) (string, error) {
	q := url.Values{}
	q.Set("name", name)
	return c.resolveExactlyOne(ctx, "/v1/service_offerings", "service offering", name, q)
}

// ResolvePlan resolves a plan name within an offering to its id.
func (c *Client) ResolvePlan(ctx context.Context, offeringID, name string) (string, error) {
	q := url.Values{}
	q.Set("name", name)
	path := fmt.Sprintf("/v1/service_offerings/%s/plans", offeringID)
	return c.resolveExactlyOne(ctx, path, "service plan", name, q)
}

// CreateInstance requests an asynchronous service instance provisioning and
// returns the new instance id. The instance is not ready until
// GetInstanceStatus reports the create operation succeeded.
func (c *Client) CreateInstance(ctx context.Context, name, planID string, params map[string]interface{}) (string, error) {
	q := url.Values{}
	q.Set("accepts_incomplete", "true")

	body := map[string]interface{}{
		"name":            name,
		"service_plan_id": planID,
	}
	if len(params) > 0 {
		body["parameters"] = params
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/service_instances", q, body, http.StatusAccepted, &created); err != nil {
		return "", err
	}
	c.logger.Printf("Instance provisioning accepted: %s (%s)", name, created.ID)
	return created.ID, nil
}

// GetInstanceStatus fetches the last-operation state of a service instance.
func (c *Client) GetInstanceStatus(ctx context.Context, instanceID string) (InstanceStatus, error) {
	var entity struct {
		LastOperation struct {
			Type  string `json:"type"`
			State string `json:"state"`
		} `json:"last_operation"`
	}
	path := "/v1/service_instances/" + instanceID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &entity); err != nil {
		return InstanceStatus{}, err
	}
	return InstanceStatus{
		OperationType:  entity.LastOperation.Type,
		OperationState: entity.LastOperation.State,
	}, nil
}

type credentialEntity struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Credentials types.Credentials `json:"credentials"`
}

func (e credentialEntity) toCredential() Credential {
	return Credential{ID: e.ID, Name: e.Name, Credentials: e.Credentials}
}

// CreateCredential provisions a service key against an instance and returns
// it with the connection material the platform generated.
func (c *Client) CreateCredential(ctx context.Context, instanceID, name string) (Credential, error) {
	body := map[string]interface{}{
		"name":                name,
		"service_instance_id": instanceID,
	}

	var entity credentialEntity
	if err := c.doJSON(ctx, http.MethodPost, "/v1/service_keys", nil, body, http.StatusCreated, &entity); err != nil {
		return Credential{}, err
	}
	c.logger.Printf("Service key created: %s (%s)", name, entity.ID)
	return entity.toCredential(), nil
}

// ListCredentials returns the service keys bound to an instance.
func (c *Client) ListCredentials(ctx context.Context, instanceID string) ([]Credential, error) {
	var list struct {
		Items []credentialEntity `json:"items"`
	}
	path := fmt.Sprintf("/v1/service_instances/%s/service_keys", instanceID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}

	creds := make([]Credential, 0, len(list.Items))
	for _, item := range list.Items {
		creds = append(creds, item.toCredential())
	}
	return creds, nil
}

// DeleteCredential removes a service key.
func (c *Client) DeleteCredential(ctx context.Context, credentialID string) error {
	path := "/v1/service_keys/" + credentialID
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent, nil)
}

// DeleteInstance requests asynchronous deprovisioning of a service instance.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	q := url.Values{}
	q.Set("accepts_incomplete", "true")
	path := "/v1/service_instances/" + instanceID
	return c.doJSON(ctx, http.MethodDelete, path, q, nil, http.StatusAccepted, nil)
}
