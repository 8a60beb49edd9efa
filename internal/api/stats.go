package api

import (
	"net/http"
)

// StatsResponse exposes engine counters for operators.
type StatsResponse struct {
	Alerting map[string]int64 `json:"alerting"`
	Webhooks map[string]int64 `json:"webhooks"`
}

// handleStats returns a snapshot of engine statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	OK(w, StatsResponse{
		Alerting: s.alertEngine.Stats(),
		Webhooks: s.webhookEngine.Stats(),
	})
}
