package opshttp

import (
	"net/http"

	"github.com/dydhzo/wastream/internal/probe"
)

// probeHandler answers 200 with okBody while the probe passes and 503
// with the failure reason once it does not. A nil probe always passes.
func probeHandler(p probe.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}

// HealthzHandler reports process liveness.
func HealthzHandler(p probe.Probe) http.HandlerFunc {
	return probeHandler(p, "ok\n")
}

// ReadyzHandler reports readiness to take traffic; the shutdown gate
// flips it during drain.
func ReadyzHandler(p probe.Probe) http.HandlerFunc {
	return probeHandler(p, "ready\n")
}
