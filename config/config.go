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

// Package config loads the tenant manager's configuration from a YAML file
// with environment variable overrides. Environment variables win over the
// file, the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tenant manager configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Platform PlatformConfig `yaml:"platform"`
	Registry RegistryConfig `yaml:"registry"`
	Redis    RedisConfig    `yaml:"redis"`
	Tenants  TenantsConfig  `yaml:"tenants"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PlatformConfig points at the provisioning platform and its OAuth endpoint.
type PlatformConfig struct {
	APIURL       string `yaml:"api_url"`
	TokenURL     string `yaml:"token_url"`
	GrantType    string `yaml:"grant_type"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

// RegistryConfig is the subscription registry database.
type RegistryConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig selects the credential cache deployment.
type RedisConfig struct {
	URL        string   `yaml:"url"`
	Sentinels  []string `yaml:"sentinels"`
	MasterName string   `yaml:"master_name"`
	Password   string   `yaml:"password"`
}

// TenantsConfig carries the per-tenant provisioning parameters.
type TenantsConfig struct {
	OfferingName   string                 `yaml:"offering_name"`
	PlanName       string                 `yaml:"plan_name"`
	InstanceParams map[string]interface{} `yaml:"instance_params"`
	Engine         string                 `yaml:"engine"`
	ContentDir     string                 `yaml:"content_dir"`
	AppID          string                 `yaml:"app_id"`
	AppDomain      string                 `yaml:"app_domain"`
	HostnameRouted bool                   `yaml:"hostname_routed"`
	PollInterval   time.Duration          `yaml:"poll_interval"`
	PollAttempts   int                    `yaml:"poll_attempts"`
}

// SecretsConfig selects where platform credentials are loaded from.
type SecretsConfig struct {
	// Source is "aws", "env", or "none".
	Source string `yaml:"source"`
	// SecretID names the AWS secret holding the platform client
	// credentials when Source is "aws", or the env var prefix for "env".
	SecretID string `yaml:"secret_id"`
	Region   string `yaml:"region"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Platform: PlatformConfig{
			GrantType: "client_credentials",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		Tenants: TenantsConfig{
			OfferingName: "postgresql-db",
			PlanName:     "standard",
			Engine:       "postgres",
			ContentDir:   "content",
			PollInterval: 30 * time.Second,
			PollAttempts: 10,
		},
		Secrets: SecretsConfig{
			Source: "none",
		},
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Platform.APIURL, "PLATFORM_API_URL")
	setString(&cfg.Platform.TokenURL, "PLATFORM_TOKEN_URL")
	setString(&cfg.Platform.GrantType, "PLATFORM_GRANT_TYPE")
	setString(&cfg.Platform.ClientID, "PLATFORM_CLIENT_ID")
	setString(&cfg.Platform.ClientSecret, "PLATFORM_CLIENT_SECRET")
	setString(&cfg.Platform.Username, "PLATFORM_USERNAME")
	setString(&cfg.Platform.Password, "PLATFORM_PASSWORD")

	setString(&cfg.Registry.DSN, "REGISTRY_DSN")

	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.MasterName, "REDIS_MASTER_NAME")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_SENTINELS"); v != "" {
		cfg.Redis.Sentinels = splitAndTrim(v)
	}

	setString(&cfg.Tenants.OfferingName, "TENANT_OFFERING_NAME")
	setString(&cfg.Tenants.PlanName, "TENANT_PLAN_NAME")
	setString(&cfg.Tenants.Engine, "TENANT_DB_ENGINE")
	setString(&cfg.Tenants.ContentDir, "TENANT_CONTENT_DIR")
	setString(&cfg.Tenants.AppID, "TENANT_APP_ID")
	setString(&cfg.Tenants.AppDomain, "TENANT_APP_DOMAIN")
	if v := os.Getenv("TENANT_HOSTNAME_ROUTED"); v != "" {
		cfg.Tenants.HostnameRouted = v == "true" || v == "1"
	}

	setString(&cfg.Secrets.Source, "SECRETS_SOURCE")
	setString(&cfg.Secrets.SecretID, "SECRETS_SECRET_ID")
	setString(&cfg.Secrets.Region, "AWS_REGION")

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func (c *Config) validate() error {
	switch c.Tenants.Engine {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported tenant database engine %q", c.Tenants.Engine)
	}
	switch c.Secrets.Source {
	case "aws", "env", "none":
	default:
		return fmt.Errorf("unsupported secrets source %q", c.Secrets.Source)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
