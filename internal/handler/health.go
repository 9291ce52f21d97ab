package handler

import (
	"net/http"
	"time"
)

// HealthReporter is the slice of the backend client /health looks at.
type HealthReporter interface {
	IsHealthy() bool
	EWMATime() time.Duration
}

type healthResponse struct {
	Status  string        `json:"status"`
	Backend backendHealth `json:"backend"`
}

type backendHealth struct {
	URL           string  `json:"url"`
	Healthy       bool    `json:"healthy"`
	AvgResponseMS float64 `json:"avg_response_ms"`
}

// Health reports the gateway as up, along with what the prober last saw of
// the analytics backend. It always answers 200.
func Health(reporter HealthReporter, backendURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Backend: backendHealth{
				URL:           backendURL,
				Healthy:       reporter.IsHealthy(),
				AvgResponseMS: float64(reporter.EWMATime()) / float64(time.Millisecond),
			},
		})
	}
}
