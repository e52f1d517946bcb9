package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"solana-wallet-monitor/internal/observability"
	"solana-wallet-monitor/internal/rotator"
)

// newMux serves metrics, health and the rotator control surface.
func newMux(rot *rotator.Rotator, ready func() bool, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/rotator/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, rot.Stats())
	})

	toggle := func(enable bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if enable {
				rot.Enable()
			} else {
				rot.Disable()
			}
			logger.Info("rotation toggled", "component", "http", "enabled", enable)
			writeJSON(w, map[string]bool{"enabled": rot.Enabled()})
		}
	}
	mux.HandleFunc("/rotator/enable", toggle(true))
	mux.HandleFunc("/rotator/disable", toggle(false))

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
