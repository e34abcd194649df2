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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Grant types supported by the platform's token endpoint.
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
)

// refreshWindow is how close to expiry a token may get before it is
// proactively refreshed instead of reused.
const refreshWindow = 15 * time.Second

// TokenProvider supplies a valid bearer token for platform calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenConfig configures the OAuth token source.
type TokenConfig struct {
	TokenURL     string
	GrantType    string // GrantClientCredentials or GrantPassword
	ClientID     string
	ClientSecret string
	Username     string // password grant only
	Password     string // password grant only
}

// TokenSource fetches bearer tokens from the platform's OAuth endpoint and
// caches them in-process. The token is refreshed proactively when its
// remaining lifetime drops below refreshWindow, never per call.
type TokenSource struct {
	cfg        TokenConfig
	httpClient *http.Client
	logger     *log.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// NewTokenSource creates a token source for the given endpoint and grant.
func NewTokenSource(cfg TokenConfig) *TokenSource {
	if cfg.GrantType == "" {
		cfg.GrantType = GrantClientCredentials
	}
	return &TokenSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     log.New(os.Stdout, "[PLATFORM_AUTH] ", log.LstdFlags),
	}
}

// Token returns the cached bearer token, fetching a fresh one when the cache
// is empty or the token expires soon.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > refreshWindow {
		return s.token, nil
	}

	token, expiresAt, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expiresAt = expiresAt
	return s.token, nil
}

func (s *TokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", s.cfg.GrantType)
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.GrantType == GrantPassword {
		form.Set("username", s.cfg.Username)
		form.Set("password", s.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to request token: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Printf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, &PlatformError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned empty access_token")
	}

	expiresAt := tokenExpiry(tr, s.logger)
	s.logger.Printf("Access token obtained, valid until %s", expiresAt.UTC().Format(time.RFC3339))
	return tr.AccessToken, expiresAt, nil
}

// tokenExpiry prefers the exp claim embedded in the JWT over the advertised
// expires_in, since the claim reflects the issuer's clock.
func tokenExpiry(tr tokenResponse, logger *log.Logger) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	} else {
		logger.Printf("Token is not a parsable JWT, falling back to expires_in: %v", err)
	}
	return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
}
