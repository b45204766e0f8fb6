// Package config assembles the gateway's runtime configuration from an
// optional YAML file overlaid with environment variables. Secrets are never
// part of the YAML file; they are always pulled from the environment so the
// file can be committed and the keys rotated independently.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientCredentialName is the credential-store entry holding the key that
// the application's own frontend server uses against /auth routes.
const ClientCredentialName = "auth"

// Upstream describes one forwarding target. KeyEnv names the environment
// variable that carries its API key.
type Upstream struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	KeyEnv  string `yaml:"key_env"`
}

// PolicyConfig is one rate-limit quota in YAML-friendly units.
type PolicyConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

func (p PolicyConfig) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// LimitsConfig holds the three concurrent admission policies.
type LimitsConfig struct {
	Global PolicyConfig `yaml:"global"`
	Proxy  PolicyConfig `yaml:"proxy"`
	Auth   PolicyConfig `yaml:"auth"`
}

// StoreConfig selects the TTL-store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	Path    string `yaml:"path"`
}

// TokenConfig fixes token claims and lifetimes. The signing secret comes
// from GATEWAY_TOKEN_SECRET, never from the file.
type TokenConfig struct {
	Issuer            string `yaml:"issuer"`
	Audience          string `yaml:"audience"`
	AccessTTLSeconds  int    `yaml:"access_ttl_seconds"`
	RefreshTTLSeconds int    `yaml:"refresh_ttl_seconds"`
	Secret            []byte `yaml:"-"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type Config struct {
	Listen                 string       `yaml:"listen"`
	Production             bool         `yaml:"-"`
	ProductionOrigin       string       `yaml:"-"`
	DevOrigins             []string     `yaml:"dev_origins"`
	Maintenance            bool         `yaml:"-"`
	UpstreamTimeoutSeconds int          `yaml:"upstream_timeout_seconds"`
	MaxBodyBytes           int64        `yaml:"max_body_bytes"`
	SecretsFile            string       `yaml:"-"`
	TrustedProxies         []string     `yaml:"trusted_proxies"`
	ClientKeyEnv           string       `yaml:"client_key_env"`
	Upstreams              []Upstream   `yaml:"upstreams"`
	Limits                 LimitsConfig `yaml:"limits"`
	Store                  StoreConfig  `yaml:"store"`
	Token                  TokenConfig  `yaml:"token"`
	Log                    LogConfig    `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Listen: ":8787",
		DevOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		UpstreamTimeoutSeconds: 30,
		MaxBodyBytes:           1 << 20,
		ClientKeyEnv:           "GATEWAY_CLIENT_KEY",
		Upstreams: []Upstream{
			{Name: "completions", BaseURL: "https://api.openai.com/v1", KeyEnv: "LLM_API_KEY"},
			{Name: "market", BaseURL: "https://api.coingecko.com/api/v3", KeyEnv: "MARKET_API_KEY"},
		},
		Limits: LimitsConfig{
			Global: PolicyConfig{WindowSeconds: 15 * 60, MaxRequests: 100},
			Proxy:  PolicyConfig{WindowSeconds: 5 * 60, MaxRequests: 30},
			Auth:   PolicyConfig{WindowSeconds: 60 * 60, MaxRequests: 5},
		},
		Store: StoreConfig{Backend: "memory"},
		Token: TokenConfig{
			Issuer:            "tickertalk-gateway",
			Audience:          "tickertalk",
			AccessTTLSeconds:  60 * 60,
			RefreshTTLSeconds: 7 * 24 * 60 * 60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// GATEWAY_CONFIG (if set), then environment overrides. Missing required
// environment variables are an error; the caller is expected to treat that
// as fatal at startup.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("couldn't read config file '%s': %v", path, err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("couldn't parse config file '%s': %v", path, err)
		}
	}

	if listen := os.Getenv("GATEWAY_LISTEN"); listen != "" {
		cfg.Listen = listen
	}

	cfg.Production = os.Getenv("GATEWAY_ENV") == "production"
	if cfg.Production {
		origin := os.Getenv("PRODUCTION_ORIGIN")
		if origin == "" {
			return nil, fmt.Errorf("PRODUCTION_ORIGIN is required when GATEWAY_ENV=production")
		}
		cfg.ProductionOrigin = origin
	}

	cfg.Maintenance = envBool("MAINTENANCE_MODE")
	cfg.SecretsFile = os.Getenv("GATEWAY_SECRETS_FILE")

	if proxies := os.Getenv("GATEWAY_TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = strings.Split(proxies, ",")
	}
	if _, err := cfg.TrustedProxyNets(); err != nil {
		return nil, err
	}

	if backend := os.Getenv("GATEWAY_STORE"); backend != "" {
		cfg.Store.Backend = backend
	}
	if path := os.Getenv("GATEWAY_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "sqlite" {
		return nil, fmt.Errorf("unknown store backend '%s'", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		return nil, fmt.Errorf("GATEWAY_STORE_PATH is required for the sqlite store backend")
	}

	secret := os.Getenv("GATEWAY_TOKEN_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("GATEWAY_TOKEN_SECRET is required")
	}
	cfg.Token.Secret = []byte(secret)

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	return cfg, nil
}

func envBool(name string) bool {
	value := os.Getenv(name)
	if value == "" {
		return false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}

// AllowedOrigins returns the origin allow-list for internal requests: the
// production origin in production mode, the development origins otherwise.
func (c *Config) AllowedOrigins() []string {
	if c.Production {
		return []string{c.ProductionOrigin}
	}
	return c.DevOrigins
}

// TrustedProxyNets parses the trusted-proxy list into CIDR networks. Only
// connections from these peers may speak for a client via X-Forwarded-For;
// with an empty list the forwarded header is never honored.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, value := range c.TrustedProxies {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy '%s' is not a valid CIDR", value)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

// UpstreamTimeout is the per-forward deadline.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

// FindUpstream looks a forwarding target up by name.
func (c *Config) FindUpstream(name string) (Upstream, bool) {
	for _, u := range c.Upstreams {
		if u.Name == name {
			return u, true
		}
	}
	return Upstream{}, false
}

// Secrets reads the current plaintext API keys from the environment: one per
// upstream plus the frontend client key. A missing variable is an error
// naming the upstream, not the value.
func (c *Config) Secrets() (map[string]string, error) {
	secrets := make(map[string]string, len(c.Upstreams)+1)
	for _, upstream := range c.Upstreams {
		value := os.Getenv(upstream.KeyEnv)
		if value == "" {
			return nil, fmt.Errorf("missing secret for upstream '%s' (%s)", upstream.Name, upstream.KeyEnv)
		}
		secrets[upstream.Name] = value
	}

	clientKey := os.Getenv(c.ClientKeyEnv)
	if clientKey == "" {
		return nil, fmt.Errorf("missing client key (%s)", c.ClientKeyEnv)
	}
	secrets[ClientCredentialName] = clientKey

	return secrets, nil
}
