package api_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/tickertalk/gateway/internal/config"
	"github.com/tickertalk/gateway/internal/testutil"
	"github.com/tickertalk/gateway/internal/token"
)

func TestHealth(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	var health struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	result := testutil.Get(env.Router, "/health", &health)

	testutil.ExpectStatus(t, http.StatusOK, result)
	if health.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", health.Status)
	}
	if health.Timestamp == "" {
		t.Error("expected a timestamp in the health response")
	}
}

func TestMaintenanceMode(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	env.Config.Maintenance = true

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.APIKey(testutil.UpstreamKey))
	testutil.ExpectStatus(t, http.StatusServiceUnavailable, result)
	testutil.ExpectErrorKind(t, "unavailable", result)

	// health stays reachable during maintenance
	result = testutil.Get(env.Router, "/health", nil)
	testutil.ExpectStatus(t, http.StatusOK, result)
}

func TestProxy_MissingKey(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "unauthorized", result)
}

func TestProxy_WrongKey(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.APIKey("not-the-key"))
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "unauthorized", result)
}

func TestProxy_Success(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	var response struct {
		Echo map[string]any `json:"echo"`
	}
	result := testutil.PostJSON(env.Router, "/api/llm/v1/chat/completions",
		`{"model":"gpt-4"}`, &response,
		testutil.APIKey(testutil.UpstreamKey))

	testutil.ExpectStatus(t, http.StatusOK, result)
	if response.Echo["model"] != "gpt-4" {
		t.Errorf("expected the upstream to receive the payload, got %v", response.Echo)
	}
	if cc := result.Headers.Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("expected a no-store Cache-Control header, got %q", cc)
	}
	if result.Headers.Get("X-Request-ID") == "" {
		t.Error("expected an X-Request-ID header")
	}
	if remaining := result.Headers.Get("X-RateLimit-Remaining"); remaining != "41" {
		t.Errorf("expected the upstream quota header to be echoed, got %q", remaining)
	}
}

func TestProxy_SanitizesForwardedPayload(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	var response struct {
		Echo map[string]any `json:"echo"`
	}
	result := testutil.PostJSON(env.Router, "/api/llm/chat",
		`{"text":"hello <script>alert(1)</script> world"}`, &response,
		testutil.APIKey(testutil.UpstreamKey))

	testutil.ExpectStatus(t, http.StatusOK, result)
	forwarded, _ := response.Echo["text"].(string)
	if strings.Contains(strings.ToLower(forwarded), "<script") {
		t.Errorf("expected script tags stripped before forwarding, got %q", forwarded)
	}
	if !strings.Contains(forwarded, "hello") || !strings.Contains(forwarded, "world") {
		t.Errorf("expected benign content preserved, got %q", forwarded)
	}
}

func TestProxy_UnknownUpstream(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/api/nonsense/chat", `{"q":1}`, nil,
		testutil.APIKey(testutil.UpstreamKey))
	testutil.ExpectStatus(t, http.StatusNotFound, result)
	testutil.ExpectErrorKind(t, "upstream_error", result)
}

func TestProxy_InternalRequest(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	pair := env.IssueTestPair(t, testutil.TestSubject)

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.Internal(),
		testutil.Origin(testutil.AllowedOrigin),
		testutil.Referer(testutil.AllowedOrigin+"/chat"),
		testutil.Bearer(pair.AccessToken))
	testutil.ExpectStatus(t, http.StatusOK, result)
}

func TestProxy_InternalBadOrigin(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	pair := env.IssueTestPair(t, testutil.TestSubject)

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.Internal(),
		testutil.Origin("https://evil.example"),
		testutil.Referer("https://evil.example/chat"),
		testutil.Bearer(pair.AccessToken))
	testutil.ExpectStatus(t, http.StatusForbidden, result)
	testutil.ExpectErrorKind(t, "origin_mismatch", result)
}

func TestProxy_InternalWithoutToken(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.Internal(),
		testutil.Origin(testutil.AllowedOrigin),
		testutil.Referer(testutil.AllowedOrigin+"/chat"))
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "unauthorized", result)
}

func TestProxy_OversizedBody(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	big := `{"data":"` + strings.Repeat("a", 1<<20) + `"}`
	result := testutil.PostJSON(env.Router, "/api/llm/chat", big, nil,
		testutil.APIKey(testutil.UpstreamKey))
	testutil.ExpectStatus(t, http.StatusRequestEntityTooLarge, result)
	testutil.ExpectErrorKind(t, "payload_invalid", result)
}

func TestProxy_WrongContentType(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.Post(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.APIKey(testutil.UpstreamKey),
		testutil.Header{Key: "Content-Type", Value: "text/plain"})
	testutil.ExpectStatus(t, http.StatusUnsupportedMediaType, result)
}

func TestProxy_RateLimited(t *testing.T) {
	limits := config.LimitsConfig{
		Global: config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
		Proxy:  config.PolicyConfig{WindowSeconds: 60, MaxRequests: 2},
		Auth:   config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
	}
	env := testutil.SetupTestEnvWithLimits(t, limits)

	for i := 0; i < 2; i++ {
		result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
			testutil.APIKey(testutil.UpstreamKey))
		testutil.ExpectStatus(t, http.StatusOK, result)
	}

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.APIKey(testutil.UpstreamKey))
	testutil.ExpectStatus(t, http.StatusTooManyRequests, result)
	testutil.ExpectErrorKind(t, "rate_limited", result)
	if result.Headers.Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on a rate-limited response")
	}
}

func TestProxy_RateLimitSurvivesForwardedForRotation(t *testing.T) {
	limits := config.LimitsConfig{
		Global: config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
		Proxy:  config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1},
		Auth:   config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
	}
	env := testutil.SetupTestEnvWithLimits(t, limits)

	// a direct caller rotating X-Forwarded-For stays one client; only the
	// first request clears the max=1 policy
	allowed := 0
	for i := 0; i < 20; i++ {
		result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
			testutil.APIKey(testutil.UpstreamKey),
			testutil.Header{Key: "X-Forwarded-For", Value: fmt.Sprintf("203.0.113.%d", i)})
		if result.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("expected exactly 1 request admitted under a max=1 policy, got %d", allowed)
	}
}

func TestProxy_RejectedRequestsBurnQuota(t *testing.T) {
	limits := config.LimitsConfig{
		Global: config.PolicyConfig{WindowSeconds: 60, MaxRequests: 2},
		Proxy:  config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
		Auth:   config.PolicyConfig{WindowSeconds: 60, MaxRequests: 1000},
	}
	env := testutil.SetupTestEnvWithLimits(t, limits)

	// two unauthorized attempts exhaust the global quota for this caller
	for i := 0; i < 2; i++ {
		result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
			testutil.APIKey("not-the-key"))
		testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	}

	result := testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.APIKey("not-the-key"))
	testutil.ExpectStatus(t, http.StatusTooManyRequests, result)
}

func TestToken_Issue(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	var pair token.Pair
	result := testutil.PostJSON(env.Router, "/auth/token",
		`{"subject":"analyst-bot"}`, &pair,
		testutil.APIKey(testutil.ClientKey))

	testutil.ExpectStatus(t, http.StatusOK, result)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens in the issued pair")
	}

	identity, err := env.Tokens.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("issued access token failed verification: %v", err)
	}
	if identity.Subject != "analyst-bot" {
		t.Errorf("expected subject 'analyst-bot', got %q", identity.Subject)
	}
}

func TestToken_MissingClientKey(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/auth/token",
		`{"subject":"analyst-bot"}`, nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "unauthorized", result)
}

func TestToken_MissingSubject(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/auth/token", `{}`, nil,
		testutil.APIKey(testutil.ClientKey))
	testutil.ExpectStatus(t, http.StatusBadRequest, result)
	testutil.ExpectErrorKind(t, "payload_invalid", result)
}

func TestRefresh_Flow(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	pair := env.IssueTestPair(t, testutil.TestSubject)

	var next token.Pair
	result := testutil.PostJSON(env.Router, "/auth/refresh",
		`{"subject":"`+testutil.TestSubject+`","refreshToken":"`+pair.RefreshToken+`"}`,
		&next)
	testutil.ExpectStatus(t, http.StatusOK, result)
	if next.AccessToken == "" || next.RefreshToken == "" {
		t.Fatal("expected a fresh pair from refresh")
	}

	// the presented refresh token was replaced and must not work twice
	result = testutil.PostJSON(env.Router, "/auth/refresh",
		`{"subject":"`+testutil.TestSubject+`","refreshToken":"`+pair.RefreshToken+`"}`,
		nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "token_invalid", result)
}

func TestRefresh_UnknownSubject(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	pair := env.IssueTestPair(t, testutil.TestSubject)

	result := testutil.PostJSON(env.Router, "/auth/refresh",
		`{"subject":"someone-else","refreshToken":"`+pair.RefreshToken+`"}`,
		nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
}

func TestRevoke_Flow(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	pair := env.IssueTestPair(t, testutil.TestSubject)

	var revoked struct {
		Status string `json:"status"`
	}
	result := testutil.PostJSON(env.Router, "/auth/revoke",
		`{"accessToken":"`+pair.AccessToken+`"}`, &revoked)
	testutil.ExpectStatus(t, http.StatusOK, result)
	if revoked.Status != "revoked" {
		t.Errorf("expected status 'revoked', got %q", revoked.Status)
	}

	// a revoked token is refused on the internal trust path
	result = testutil.PostJSON(env.Router, "/api/llm/chat", `{"q":1}`, nil,
		testutil.Internal(),
		testutil.Origin(testutil.AllowedOrigin),
		testutil.Referer(testutil.AllowedOrigin+"/chat"),
		testutil.Bearer(pair.AccessToken))
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "token_revoked", result)
}

func TestRevoke_GarbageToken(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	result := testutil.PostJSON(env.Router, "/auth/revoke",
		`{"accessToken":"not-a-jwt"}`, nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
	testutil.ExpectErrorKind(t, "token_invalid", result)
}
