// control/admin.go
// Author: momentics <momentics@gmail.com>
//
// Admin HTTP surface: liveness plus JSON dumps of metrics, probes and config.

package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// State is the /debug/state document.
type State struct {
	Metrics   map[string]any `json:"metrics"`
	Probes    map[string]any `json:"probes"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AdminHandler builds the admin router. Any argument may be nil; the
// matching endpoint then serves an empty document.
func AdminHandler(metrics *MetricsRegistry, probes *DebugProbes, cfg *ConfigStore, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ALIVE"))
	})

	r.Route("/debug", func(d chi.Router) {
		d.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
			st := State{Metrics: map[string]any{}, Probes: map[string]any{}}
			if metrics != nil {
				st.Metrics = metrics.GetSnapshot()
				st.UpdatedAt = metrics.UpdatedAt()
			}
			if probes != nil {
				st.Probes = probes.DumpState()
			}
			writeJSON(w, log, st)
		})
		d.Get("/state/{probe}", func(w http.ResponseWriter, req *http.Request) {
			if probes == nil {
				http.NotFound(w, req)
				return
			}
			name := chi.URLParam(req, "probe")
			v, ok := probes.DumpState()[name]
			if !ok {
				http.NotFound(w, req)
				return
			}
			writeJSON(w, log, map[string]any{name: v})
		})
		d.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
			snap := map[string]any{}
			if cfg != nil {
				snap = cfg.GetSnapshot()
			}
			writeJSON(w, log, snap)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Warn("admin response encode failed", "error", err)
	}
}
