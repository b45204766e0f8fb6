package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tickertalk/gateway/internal/admission"
)

// headers echoed back from the upstream when it supplies them, so callers
// see the upstream's own quota state alongside the gateway's.
var echoedHeaders = []string{
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
}

// Proxy runs the full admission pipeline and relays the request to its
// upstream: rate limits, trust path, payload validation, sanitization,
// forward, relay. The first failing step answers the request.
func (a *API) Proxy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		upstreamName := vars["upstream"]
		resource := vars["resource"]
		route := "/api/" + upstreamName

		fingerprint := a.controller.Fingerprint(r)

		if rej := a.controller.RateLimit(fingerprint, admission.ProxyRoute); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		upstream, ok := a.cfg.FindUpstream(upstreamName)
		if !ok {
			a.reject(w, route, fingerprint, &admission.Rejection{
				Status:  http.StatusNotFound,
				Kind:    admission.KindUpstreamError,
				Message: "unknown upstream",
			})
			return
		}

		if _, rej := a.controller.Authenticate(r, upstreamName); rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		body, rej := a.controller.ReadPayload(r)
		if rej != nil {
			a.reject(w, route, fingerprint, rej)
			return
		}

		requestID := uuid.NewString()
		res, rej := a.forwarder.Forward(
			r.Context(),
			admission.Upstream{Name: upstream.Name, BaseURL: upstream.BaseURL},
			resource,
			body,
			nil,
		)
		if rej != nil {
			w.Header().Set("X-Request-ID", requestID)
			a.reject(w, route, fingerprint, rej)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("X-Request-ID", requestID)
		for _, name := range echoedHeaders {
			if value := res.Header.Get(name); value != "" {
				w.Header().Set(name, value)
			}
		}
		if contentType := res.Header.Get("Content-Type"); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(res.StatusCode)
		_, _ = w.Write(res.Body)
	}
}
