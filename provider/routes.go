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

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ResolveDomain resolves a shared domain name to its id.
func (c *Client) ResolveDomain(ctx context.Context, name string) (string, error) {
	q := url.Values{}
	q.Set("name", name)
	return c.resolveExactlyOne(ctx, "/v1/domains", "domain", name, q)
}

// EnsureRoute returns the id of the route for host under domainID, creating
// the route when it does not exist yet.
func (c *Client) EnsureRoute(ctx context.Context, host, domainID string) (string, error) {
	q := url.Values{}
	q.Set("host", host)
	q.Set("domain_id", domainID)

	var list listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/routes", q, nil, http.StatusOK, &list); err != nil {
		return "", err
	}
	if len(list.Items) > 0 {
		return list.Items[0].ID, nil
	}

	body := map[string]interface{}{
		"host":      host,
		"domain_id": domainID,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/routes", nil, body, http.StatusCreated, &created); err != nil {
		return "", err
	}
	c.logger.Printf("Route created: %s (%s)", host, created.ID)
	return created.ID, nil
}

// MapRoute binds a route to an application so the platform router forwards
// traffic for the route's hostname to it.
func (c *Client) MapRoute(ctx context.Context, routeID, appID string) error {
	path := fmt.Sprintf("/v1/routes/%s/apps/%s", routeID, appID)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil, http.StatusCreated, nil)
}

// UnmapRoute unbinds a route from an application.
func (c *Client) UnmapRoute(ctx context.Context, routeID, appID string) error {
	path := fmt.Sprintf("/v1/routes/%s/apps/%s", routeID, appID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent, nil)
}

// DeleteRoute removes a route. The route must be unmapped first.
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/routes/"+routeID, nil, nil, http.StatusNoContent, nil)
}

// FindRoute looks up an existing route by host and domain without creating
// it. Missing routes yield a NotFoundError.
func (c *Client) FindRoute(ctx context.Context, host, domainID string) (string, error) {
	q := url.Values{}
	q.Set("host", host)
	q.Set("domain_id", domainID)

	var list listResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/routes", q, nil, http.StatusOK, &list); err != nil {
		return "", err
	}
	if len(list.Items) == 0 {
		return "", &NotFoundError{Resource: "route", Name: host}
	}
	return list.Items[0].ID, nil
}
