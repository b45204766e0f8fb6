// Package token issues and verifies the gateway's signed access and refresh
// tokens. Access tokens are short-lived JWTs checked on every request;
// refresh tokens are their longer-lived siblings, held server-side keyed by
// subject so that issuing a new pair invalidates the old refresh token.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tickertalk/gateway/internal/store"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenRevoked = errors.New("token revoked")
	ErrInternal     = errors.New("internal error")
)

const (
	refreshNamespace = "refresh"
	revokedNamespace = "revoked"
)

// Identity is what a verified access token asserts about its bearer.
type Identity struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
}

// Pair bundles a freshly issued access token with its refresh token.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Config fixes the claims and lifetimes for every token this issuer mints.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer mints HS256 tokens and verifies them against the revocation set and
// the server-side refresh store.
type Issuer struct {
	config Config
	store  store.TTLStore
	now    func() time.Time
}

func NewIssuer(
	config Config,
	s store.TTLStore,
) *Issuer {
	return &Issuer{
		config: config,
		store:  s,
		now:    time.Now,
	}
}

func (i *Issuer) claims(
	subject string,
	lifetime time.Duration,
) jwt.RegisteredClaims {
	now := i.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.config.Issuer,
		Audience:  jwt.ClaimStrings{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		ID:        uuid.NewString(),
	}
}

func (i *Issuer) sign(claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Secret)
}

// Issue mints a new token pair for the subject. The refresh token replaces
// any previously stored one for the same subject, so only the newest refresh
// token is ever honored.
func (i *Issuer) Issue(
	subject string,
) (
	*Pair,
	error,
) {
	accessToken, err := i.sign(i.claims(subject, i.config.AccessTTL))
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't sign access token: %v", ErrInternal, err)
	}

	refreshClaims := i.claims(subject, i.config.RefreshTTL)
	refreshToken, err := i.sign(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't sign refresh token: %v", ErrInternal, err)
	}

	err = i.store.SetWithExpiry(
		refreshNamespace,
		subject,
		[]byte(refreshToken),
		refreshClaims.ExpiresAt.Time,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't store refresh token: %v", ErrInternal, err)
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (i *Issuer) parse(
	tokenStr string,
	options ...jwt.ParserOption,
) (
	*jwt.RegisteredClaims,
	error,
) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.config.Secret, nil
		},
		append([]jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(i.config.Issuer),
			jwt.WithAudience(i.config.Audience),
			jwt.WithTimeFunc(i.now),
		}, options...)...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyAccess checks signature, issuer/audience, and expiry, then looks the
// token's id up in the revocation set. The distinct error values let callers
// decide whether a refresh attempt makes sense (only for ErrTokenExpired).
func (i *Issuer) VerifyAccess(
	tokenStr string,
) (
	*Identity,
	error,
) {
	claims, err := i.parse(tokenStr)
	if err != nil {
		return nil, err
	}

	_, revoked, err := i.store.Get(revokedNamespace, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't check revocation set: %v", ErrInternal, err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return &Identity{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifyRefresh reports whether the presented refresh token is the one
// currently stored for the subject. Absent, expired, or mismatched tokens
// all fail closed.
func (i *Issuer) VerifyRefresh(
	subject string,
	tokenStr string,
) bool {
	claims, err := i.parse(tokenStr)
	if err != nil {
		return false
	}
	if claims.Subject != subject {
		return false
	}

	stored, found, err := i.store.Get(refreshNamespace, subject)
	if err != nil || !found {
		return false
	}

	return subtle.ConstantTimeCompare(stored, []byte(tokenStr)) == 1
}

// Revoke adds the token's id to the revocation set until the token's own
// expiry, after which the entry self-evicts; an entry never outlives the
// token it revokes. Revoking an already-expired token is a no-op.
func (i *Issuer) Revoke(tokenStr string) error {
	claims, err := i.parse(tokenStr, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(i.now()) {
		return nil
	}

	err = i.store.SetWithExpiry(revokedNamespace, claims.ID, []byte{1}, claims.ExpiresAt.Time)
	if err != nil {
		return fmt.Errorf("%w: couldn't store revocation: %v", ErrInternal, err)
	}
	return nil
}
