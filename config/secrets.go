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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsSource resolves a named secret into key-value credentials. It backs
// the platform client id and secret so they never have to live in the config
// file.
type SecretsSource interface {
	GetSecret(ctx context.Context, secretID string) (map[string]string, error)
}

// AWSSecretsSource reads secrets from AWS Secrets Manager with a short
// in-process cache.
type AWSSecretsSource struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// NewAWSSecretsSource creates a Secrets Manager client in the given region
// (empty means the SDK default chain decides).
func NewAWSSecretsSource(ctx context.Context, region string) (*AWSSecretsSource, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSecretsSource{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    5 * time.Minute,
		logger: log.New(os.Stdout, "[SECRETS] ", log.LstdFlags),
	}, nil
}

// GetSecret fetches a JSON secret and parses it as a string map. A secret
// that is not JSON is returned under the "value" key.
func (s *AWSSecretsSource) GetSecret(ctx context.Context, secretID string) (map[string]string, error) {
	s.mu.RLock()
	entry, ok := s.cache[secretID]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s", maskSecretID(secretID))
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskSecretID(secretID), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskSecretID(secretID))
	}

	var credentials map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &credentials); err != nil {
		credentials = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretID] = &secretCacheEntry{value: credentials, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return credentials, nil
}

// Invalidate drops a cached secret.
func (s *AWSSecretsSource) Invalidate(secretID string) {
	s.mu.Lock()
	delete(s.cache, secretID)
	s.mu.Unlock()
}

// EnvSecretsSource reads credentials from environment variables using the
// secret id as a prefix: secret id "PLATFORM" resolves PLATFORM_CLIENT_ID,
// PLATFORM_CLIENT_SECRET, and so on.
type EnvSecretsSource struct {
	logger *log.Logger
}

// NewEnvSecretsSource creates an environment-backed secrets source.
func NewEnvSecretsSource() *EnvSecretsSource {
	return &EnvSecretsSource{
		logger: log.New(os.Stdout, "[ENV_SECRETS] ", log.LstdFlags),
	}
}

// GetSecret resolves the known credential fields under the prefix.
func (s *EnvSecretsSource) GetSecret(ctx context.Context, prefix string) (map[string]string, error) {
	fields := map[string]string{
		"CLIENT_ID":     "client_id",
		"CLIENT_SECRET": "client_secret",
		"USERNAME":      "username",
		"PASSWORD":      "password",
		"TOKEN_URL":     "token_url",
	}

	credentials := make(map[string]string)
	for env, key := range fields {
		if v := os.Getenv(prefix + "_" + env); v != "" {
			credentials[key] = v
		}
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}

	s.logger.Printf("Loaded %d credentials from environment for %s", len(credentials), prefix)
	return credentials, nil
}

// LocalSecretsSource holds secrets in memory, for tests and local runs.
type LocalSecretsSource struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewLocalSecretsSource creates an empty in-memory secrets source.
func NewLocalSecretsSource() *LocalSecretsSource {
	return &LocalSecretsSource{secrets: make(map[string]map[string]string)}
}

// GetSecret returns a stored secret.
func (s *LocalSecretsSource) GetSecret(ctx context.Context, secretID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.secrets[secretID]; ok {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found", secretID)
}

// SetSecret stores a secret.
func (s *LocalSecretsSource) SetSecret(secretID string, value map[string]string) {
	s.mu.Lock()
	s.secrets[secretID] = value
	s.mu.Unlock()
}

// ApplySecrets overlays platform credentials from the configured secrets
// source onto cfg. Keys absent from the secret leave the config value
// untouched.
func ApplySecrets(ctx context.Context, cfg *Config, source SecretsSource) error {
	if source == nil || cfg.Secrets.SecretID == "" {
		return nil
	}

	secret, err := source.GetSecret(ctx, cfg.Secrets.SecretID)
	if err != nil {
		return fmt.Errorf("failed to resolve platform credentials: %w", err)
	}

	overlay := map[string]*string{
		"client_id":     &cfg.Platform.ClientID,
		"client_secret": &cfg.Platform.ClientSecret,
		"username":      &cfg.Platform.Username,
		"password":      &cfg.Platform.Password,
		"token_url":     &cfg.Platform.TokenURL,
	}
	for key, dst := range overlay {
		if v, ok := secret[key]; ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// maskSecretID hides all but the tail of a secret id in logs.
func maskSecretID(id string) string {
	if len(id) <= 12 {
		return "***"
	}
	return "..." + id[len(id)-8:]
}
