// Package admission decides, per inbound request, whether the gateway may
// forward it upstream: rate-limit accounting, origin checks for
// browser-internal requests, API-key verification for external ones, and
// payload validation. The first failing check wins; nothing past it runs.
package admission

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tickertalk/gateway/internal/credential"
	"github.com/tickertalk/gateway/internal/ratelimit"
	"github.com/tickertalk/gateway/internal/token"
)

// Kind is the stable machine-readable error taxonomy exposed to callers.
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindOriginMismatch  Kind = "origin_mismatch"
	KindUnauthorized    Kind = "unauthorized"
	KindTokenExpired    Kind = "token_expired"
	KindTokenInvalid    Kind = "token_invalid"
	KindTokenRevoked    Kind = "token_revoked"
	KindPayloadInvalid  Kind = "payload_invalid"
	KindInternal        Kind = "internal_error"
	KindUpstreamError   Kind = "upstream_error"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUnavailable     Kind = "unavailable"
)

// Rejection is a typed refusal. Message is safe to show to the caller; it
// never carries key material, token contents, or internal state.
type Rejection struct {
	Status     int
	Kind       Kind
	Message    string
	RetryAfter time.Duration
}

// HeaderInternal flags a request as originating from the application's own
// frontend; HeaderAPIKey carries an external caller's credential.
const (
	HeaderInternal = "X-Internal-Request"
	HeaderAPIKey   = "x-api-key"
)

// RouteClass selects which rate-limit policies apply to a request.
type RouteClass int

const (
	// ProxyRoute covers the /api/ forwarding surface.
	ProxyRoute RouteClass = iota
	// AuthRoute covers token issuance/refresh/revocation, which get a much
	// stricter quota.
	AuthRoute
)

// Limits bundles the three concurrently applied rate-limit policies.
type Limits struct {
	Global *ratelimit.Limiter
	Proxy  *ratelimit.Limiter
	Auth   *ratelimit.Limiter
}

// Controller runs the per-request admission pipeline.
type Controller struct {
	limits         Limits
	credentials    *credential.Store
	tokens         *token.Issuer
	origins        []string
	trustedProxies []*net.IPNet
	maxBodyBytes   int64
	log            *logrus.Logger
}

func NewController(
	limits Limits,
	credentials *credential.Store,
	tokens *token.Issuer,
	allowedOrigins []string,
	trustedProxies []*net.IPNet,
	maxBodyBytes int64,
	log *logrus.Logger,
) *Controller {
	return &Controller{
		limits:         limits,
		credentials:    credentials,
		tokens:         tokens,
		origins:        allowedOrigins,
		trustedProxies: trustedProxies,
		maxBodyBytes:   maxBodyBytes,
		log:            log,
	}
}

// Fingerprint derives the rate-limit key for a request.
func (c *Controller) Fingerprint(r *http.Request) string {
	return ratelimit.Fingerprint(
		c.clientIP(r),
		r.UserAgent(),
		r.Header.Get(HeaderAPIKey),
	)
}

// clientIP identifies the caller for rate-limit accounting. X-Forwarded-For
// is attacker-controlled on a direct connection, so it only speaks for the
// client when the connecting peer is a trusted proxy; otherwise the peer
// address itself is the client, and rotating the header changes nothing.
func (c *Controller) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" || !c.trustedPeer(host) {
		return host
	}

	// first hop in the chain is the original client
	if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
		forwarded = forwarded[:idx]
	}
	return strings.TrimSpace(forwarded)
}

func (c *Controller) trustedPeer(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range c.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// RateLimit counts the request against every policy applicable to its route
// class. All must allow; the first rejection determines the retry-after.
// Rejected requests have already been counted, so failed attempts burn quota.
func (c *Controller) RateLimit(
	fingerprint string,
	class RouteClass,
) *Rejection {
	limiters := []*ratelimit.Limiter{c.limits.Global}
	switch class {
	case AuthRoute:
		limiters = append(limiters, c.limits.Auth)
	default:
		limiters = append(limiters, c.limits.Proxy)
	}

	for _, l := range limiters {
		if l == nil {
			continue
		}
		if decision := l.Admit(fingerprint); !decision.Allowed {
			return &Rejection{
				Status:     http.StatusTooManyRequests,
				Kind:       KindRateLimited,
				Message:    "rate limit exceeded",
				RetryAfter: decision.RetryAfter,
			}
		}
	}
	return nil
}

// Authenticate applies the request's trust path. Internal-flagged requests
// must present an allow-listed Origin and Referer pair and a verifiable
// bearer token; an Origin match alone is not treated as sufficient, since
// any non-browser client can forge those headers. External requests must
// present an API key matching the named credential.
func (c *Controller) Authenticate(
	r *http.Request,
	credentialName string,
) (
	internal bool,
	rej *Rejection,
) {
	if strings.EqualFold(r.Header.Get(HeaderInternal), "true") {
		if rej := c.checkOrigin(r); rej != nil {
			return true, rej
		}
		if rej := c.checkBearer(r); rej != nil {
			return true, rej
		}
		return true, nil
	}

	apiKey := r.Header.Get(HeaderAPIKey)
	if apiKey == "" {
		return false, &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindUnauthorized,
			Message: "missing API key",
		}
	}

	ok, err := c.credentials.Verify(credentialName, apiKey)
	if err != nil {
		// format/derivation faults in stored credentials are server-side
		// inconsistencies; deny without leaking detail
		if errors.Is(err, credential.ErrCredentialFormat) ||
			errors.Is(err, credential.ErrCredentialDerivation) {
			c.log.WithError(err).Error("credential verification fault")
			return false, &Rejection{
				Status:  http.StatusInternalServerError,
				Kind:    KindInternal,
				Message: "internal error",
			}
		}
		return false, &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindUnauthorized,
			Message: "invalid API key",
		}
	}
	if !ok {
		return false, &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindUnauthorized,
			Message: "invalid API key",
		}
	}
	return false, nil
}

func (c *Controller) checkOrigin(r *http.Request) *Rejection {
	origin := r.Header.Get("Origin")
	referer := r.Header.Get("Referer")
	if !c.originAllowed(origin) || !c.refererAllowed(referer) {
		return &Rejection{
			Status:  http.StatusForbidden,
			Kind:    KindOriginMismatch,
			Message: "origin not allowed",
		}
	}
	return nil
}

func (c *Controller) originAllowed(origin string) bool {
	for _, allowed := range c.origins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (c *Controller) refererAllowed(referer string) bool {
	for _, allowed := range c.origins {
		if strings.HasPrefix(referer, allowed) {
			return true
		}
	}
	return false
}

func (c *Controller) checkBearer(r *http.Request) *Rejection {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindUnauthorized,
			Message: "missing bearer token",
		}
	}

	_, err := c.tokens.VerifyAccess(parts[1])
	if err != nil {
		return rejectionForTokenError(err)
	}
	return nil
}

func rejectionForTokenError(err error) *Rejection {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindTokenExpired,
			Message: "token expired",
		}
	case errors.Is(err, token.ErrTokenRevoked):
		return &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindTokenRevoked,
			Message: "token revoked",
		}
	case errors.Is(err, token.ErrInternal):
		return &Rejection{
			Status:  http.StatusInternalServerError,
			Kind:    KindInternal,
			Message: "internal error",
		}
	default:
		return &Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    KindTokenInvalid,
			Message: "token invalid",
		}
	}
}

// LogRejection records a refusal with enough context for abuse analysis.
// Raw keys and tokens never appear here; the fingerprint stands in for them.
func (c *Controller) LogRejection(
	route string,
	fingerprint string,
	rej *Rejection,
) {
	c.log.WithFields(logrus.Fields{
		"route":       route,
		"fingerprint": fingerprint,
		"kind":        rej.Kind,
		"status":      rej.Status,
	}).Info(fmt.Sprintf("request rejected: %s", rej.Message))
}
