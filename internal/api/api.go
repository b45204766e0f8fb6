// Package api exposes the gateway's HTTP surface: the forwarding proxy
// routes, the token endpoints, and the health check. Handlers stay thin;
// every admission decision lives in the admission package.
package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tickertalk/gateway/internal/admission"
	"github.com/tickertalk/gateway/internal/config"
	"github.com/tickertalk/gateway/internal/credential"
	"github.com/tickertalk/gateway/internal/token"
)

type API struct {
	cfg         *config.Config
	controller  *admission.Controller
	forwarder   *admission.Forwarder
	tokens      *token.Issuer
	credentials *credential.Store
	log         *logrus.Logger
	started     time.Time
}

func New(
	cfg *config.Config,
	controller *admission.Controller,
	forwarder *admission.Forwarder,
	tokens *token.Issuer,
	credentials *credential.Store,
	log *logrus.Logger,
) *API {
	return &API{
		cfg:         cfg,
		controller:  controller,
		forwarder:   forwarder,
		tokens:      tokens,
		credentials: credentials,
		log:         log,
		started:     time.Now(),
	}
}

// errorResponse is the envelope for every locally generated failure. Error
// is a stable machine-readable kind; Message is for humans.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *API) reject(
	w http.ResponseWriter,
	route string,
	fingerprint string,
	rej *admission.Rejection,
) {
	a.controller.LogRejection(route, fingerprint, rej)
	if rej.RetryAfter > 0 {
		seconds := int(math.Ceil(rej.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(&errorResponse{
		Error:   string(rej.Kind),
		Message: rej.Message,
	})
}

func decodeRequest[T any](req *T, w http.ResponseWriter, r *http.Request) bool {
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(&errorResponse{
			Error:   string(admission.KindPayloadInvalid),
			Message: "bad json request",
		})
		return false
	}
	return true
}

func returnJson(data any, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
}
