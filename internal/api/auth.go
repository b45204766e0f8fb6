package api

import (
	"errors"
	"net/http"

	"github.com/tickertalk/gateway/internal/admission"
	"github.com/tickertalk/gateway/internal/config"
	"github.com/tickertalk/gateway/internal/token"
)

type tokenRequest struct {
	Subject string `json:"subject"`
}

type refreshRequest struct {
	Subject      string `json:"subject"`
	RefreshToken string `json:"refreshToken"`
}

type revokeRequest struct {
	AccessToken string `json:"accessToken"`
}

type revokeResponse struct {
	Status string `json:"status"`
}

// Token exchanges the frontend's client key for a fresh token pair. The key
// is verified against the derived credential record, never compared as
// plaintext.
func (a *API) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const route = "/auth/token"
		fingerprint := a.controller.Fingerprint(r)

		if rej := a.controller.RateLimit(fingerprint, admission.AuthRoute); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		if _, rej := a.controller.Authenticate(r, config.ClientCredentialName); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		req := tokenRequest{}
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}
		if req.Subject == "" {
			a.reject(w, route, fingerprint, &admission.Rejection{
				Status:  http.StatusBadRequest,
				Kind:    admission.KindPayloadInvalid,
				Message: "subject is required",
			})
			return
		}

		pair, err := a.tokens.Issue(req.Subject)
		if err != nil {
			a.reject(w, route, fingerprint, &admission.Rejection{
				Status:  http.StatusInternalServerError,
				Kind:    admission.KindInternal,
				Message: "couldn't issue tokens",
			})
			return
		}

		returnJson(pair, w)
	}
}

// Refresh exchanges a stored refresh token for a new pair. The new issuance
// replaces the stored refresh token, so the presented one is single-use.
func (a *API) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const route = "/auth/refresh"
		fingerprint := a.controller.Fingerprint(r)

		if rej := a.controller.RateLimit(fingerprint, admission.AuthRoute); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		req := refreshRequest{}
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		if !a.tokens.VerifyRefresh(req.Subject, req.RefreshToken) {
			a.reject(w, route, fingerprint, &admission.Rejection{
				Status:  http.StatusUnauthorized,
				Kind:    admission.KindTokenInvalid,
				Message: "refresh token not accepted",
			})
			return
		}

		pair, err := a.tokens.Issue(req.Subject)
		if err != nil {
			a.reject(w, route, fingerprint, &admission.Rejection{
				Status:  http.StatusInternalServerError,
				Kind:    admission.KindInternal,
				Message: "couldn't issue tokens",
			})
			return
		}

		returnJson(pair, w)
	}
}

// Revoke invalidates an access token ahead of its expiry. Possession of the
// signed token is the credential here; revoking it can only shrink what the
// bearer is able to do.
func (a *API) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const route = "/auth/revoke"
		fingerprint := a.controller.Fingerprint(r)

		if rej := a.controller.RateLimit(fingerprint, admission.AuthRoute); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		req := revokeRequest{}
		if ok := decodeRequest(&req, w, r); !ok {
			return
		}

		if err := a.tokens.Revoke(req.AccessToken); err != nil {
			rej := rejectionForRevokeError(err)
			a.reject(w, route, fingerprint, rej)
			return
		}

		returnJson(&revokeResponse{Status: "revoked"}, w)
	}
}

func rejectionForRevokeError(err error) *admission.Rejection {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, token.ErrInternal):
		return &admission.Rejection{
			Status:  http.StatusInternalServerError,
			Kind:    admission.KindInternal,
			Message: "couldn't revoke token",
		}
	default:
		return &admission.Rejection{
			Status:  http.StatusUnauthorized,
			Kind:    admission.KindTokenInvalid,
			Message: "token invalid",
		}
	}
}
