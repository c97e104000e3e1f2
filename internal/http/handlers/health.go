package handlers

import (
	"net/http"
)

// Health is a liveness check: the process is up, whatever the model state.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ping is the readiness check polled by the hosting platform. It only
// succeeds once the model has loaded and warmed up.
func (a *App) Ping(w http.ResponseWriter, r *http.Request) {
	if a.Readiness == nil || !a.Readiness.Ready() {
		state := "uninitialized"
		if a.Readiness != nil {
			state = string(a.Readiness.State())
		}
		a.json(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"service": "inference",
			"state":   state,
		})
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "inference",
		"device":  a.Readiness.Device().String(),
	})
}
