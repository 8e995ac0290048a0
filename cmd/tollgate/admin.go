package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const (
	emergencyPath   = "/admin/emergency"
	tokenLimitsPath = "/admin/token-limits"
)

// adminServer exposes metrics, health probes and a few operator endpoints.
type adminServer struct {
	limiter   *limits.RateLimiter
	store     storage.Store
	collector *metrics.Collector
	logger    *slog.Logger
}

// emergencyState is the body of GET and PUT /admin/emergency.
type emergencyState struct {
	Enabled bool `json:"enabled"`
}

// newAdminMux mounts every admin route. metricsPath may be empty to skip
// the metrics endpoint.
func newAdminMux(a *adminServer, gatherer prometheus.Gatherer, metricsPath string, checker *health.Checker, info health.VersionInfo) *http.ServeMux {
	mux := http.NewServeMux()
	if metricsPath != "" {
		mux.Handle(metricsPath, metrics.Handler(gatherer, a.logger))
	}
	health.Mount(mux, checker, info)
	mux.HandleFunc(emergencyPath, a.handleEmergency)
	mux.HandleFunc(tokenLimitsPath, a.handleTokenLimits)
	return mux
}

func (a *adminServer) handleEmergency(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var body emergencyState
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		a.limiter.SetEmergencyMode(body.Enabled)
		a.collector.SetEmergencyMode(body.Enabled)
		a.logger.Warn("emergency mode changed", "enabled", body.Enabled, "remote", r.RemoteAddr)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, emergencyState{Enabled: a.limiter.EmergencyMode()})
}

func (a *adminServer) handleTokenLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := a.store.ListTokenLimits(r.Context())
	if err != nil {
		a.logger.Error("failed to list token limits", "error", err)
		http.Error(w, "failed to list token limits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newTokenLimitRows(list))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
