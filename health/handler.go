package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated health of m as JSON. It answers 200 when the
// system is healthy or degraded and 503 when it is unhealthy.
func Handler(m *Monitor, systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
