package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tickertalk/gateway/internal/admission"
)

func (a *API) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.Health()).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").
		Methods(http.MethodPost).
		Subrouter()
	auth.HandleFunc("/token", a.Token())
	auth.HandleFunc("/refresh", a.Refresh())
	auth.HandleFunc("/revoke", a.Revoke())

	r.HandleFunc("/api/{upstream}/{resource:.*}", a.Proxy()).
		Methods(http.MethodPost)

	r.Use(a.maintenance)

	return r
}

// maintenance short-circuits every non-health route with a fixed 503 while
// the maintenance toggle is set. The admission pipeline does not run at all.
func (a *API) maintenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Maintenance && r.URL.Path != "/health" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(&errorResponse{
				Error:   string(admission.KindUnavailable),
				Message: "gateway is down for maintenance",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
