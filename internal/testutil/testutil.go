// Package testutil provides test environment setup and utilities for
// internal package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tickertalk/gateway/internal/admission"
	"github.com/tickertalk/gateway/internal/api"
	"github.com/tickertalk/gateway/internal/config"
	"github.com/tickertalk/gateway/internal/credential"
	"github.com/tickertalk/gateway/internal/ratelimit"
	"github.com/tickertalk/gateway/internal/store"
	"github.com/tickertalk/gateway/internal/token"
)

// Fixed credentials used across the test environment.
const (
	UpstreamName   = "llm"
	UpstreamKey    = "test-upstream-key"
	ClientKey      = "test-client-key"
	AllowedOrigin  = "http://localhost:3000"
	TestSubject    = "analyst-bot"
	maxBodyBytes   = 1 << 20
	upstreamWindow = 2 * time.Second
)

// TestParams are fast argon2 parameters for tests only.
func TestParams() credential.Params {
	return credential.Params{Time: 1, Memory: 1024, Threads: 1}
}

// TestEnv provides all dependencies needed for testing.
type TestEnv struct {
	Config      *config.Config
	Store       store.TTLStore
	Credentials *credential.Store
	Tokens      *token.Issuer
	Controller  *admission.Controller
	Router      http.Handler
	Upstream    *httptest.Server
}

// generous default quotas so only rate-limit tests trip them
func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		Global: config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
		Proxy:  config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
		Auth:   config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
	}
}

// SetupTestEnv creates an isolated gateway wired to a stub upstream that
// echoes the request body back under "echo".
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return SetupTestEnvWithLimits(t, defaultLimits())
}

// SetupTestEnvWithLimits is SetupTestEnv with explicit rate-limit policies.
func SetupTestEnvWithLimits(
	t *testing.T,
	limits config.LimitsConfig,
) *TestEnv {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "41")
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": body})
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		DevOrigins:   []string{AllowedOrigin},
		MaxBodyBytes: maxBodyBytes,
		Upstreams: []config.Upstream{
			{Name: UpstreamName, BaseURL: upstream.URL},
		},
		Limits: limits,
		Token: config.TokenConfig{
			Issuer:            "test-gateway",
			Audience:          "test",
			AccessTTLSeconds:  3600,
			RefreshTTLSeconds: 72 * 3600,
			Secret:            []byte("test-signing-secret"),
		},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	memStore := store.NewMemoryStore()

	unit := credential.NewUnit(TestParams(), 2)
	credentials := credential.NewStore(unit, func() (map[string]string, error) {
		return map[string]string{
			UpstreamName:                UpstreamKey,
			config.ClientCredentialName: ClientKey,
		}, nil
	}, logger)
	if err := credentials.Bootstrap(); err != nil {
		t.Fatalf("failed to bootstrap credentials: %v", err)
	}

	tokens := token.NewIssuer(token.Config{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  time.Duration(cfg.Token.AccessTTLSeconds) * time.Second,
		RefreshTTL: time.Duration(cfg.Token.RefreshTTLSeconds) * time.Second,
	}, memStore)

	controller := admission.NewController(
		admission.Limits{
			Global: ratelimit.NewLimiter(ratelimit.Policy{
				Window:      limits.Global.Window(),
				MaxRequests: limits.Global.MaxRequests,
			}),
			Proxy: ratelimit.NewLimiter(ratelimit.Policy{
				Window:      limits.Proxy.Window(),
				MaxRequests: limits.Proxy.MaxRequests,
			}),
			Auth: ratelimit.NewLimiter(ratelimit.Policy{
				Window:      limits.Auth.Window(),
				MaxRequests: limits.Auth.MaxRequests,
			}),
		},
		credentials,
		tokens,
		cfg.AllowedOrigins(),
		nil, // no trusted proxies: forwarded headers must not be honored
		cfg.MaxBodyBytes,
		logger,
	)
	forwarder := admission.NewForwarder(upstreamWindow)

	a := api.New(cfg, controller, forwarder, tokens, credentials, logger)

	return &TestEnv{
		Config:      cfg,
		Store:       memStore,
		Credentials: credentials,
		Tokens:      tokens,
		Controller:  controller,
		Router:      a.Router(),
		Upstream:    upstream,
	}
}

// IssueTestPair issues a token pair for a subject.
func (env *TestEnv) IssueTestPair(
	t *testing.T,
	subject string,
) *token.Pair {
	t.Helper()
	pair, err := env.Tokens.Issue(subject)
	if err != nil {
		t.Fatalf("failed to issue test tokens: %v", err)
	}
	return pair
}
