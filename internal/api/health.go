package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
}

// Health is the liveness endpoint. It requires no auth, skips the admission
// pipeline entirely, and stays up during maintenance mode.
func (a *API) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		returnJson(&healthResponse{
			Status:    "ok",
			Timestamp: now.UTC().Format(time.RFC3339),
			Uptime:    int64(now.Sub(a.started).Seconds()),
		}, w)
	}
}
