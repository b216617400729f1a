// Package ctlapi is the small HTTP control surface eswapd exposes
// alongside its Prometheus /metrics endpoint, and that cmd/eswapctl
// drives: the operator knob surface of spec §6.6 (master/reclaim-in/
// watchdog enable, log level) plus a read-only status snapshot.
//
// No library in the example pack offers an RPC framework, and the
// knob surface is three booleans and an enum — a bare net/http+
// encoding/json pair is the idiomatic Go choice here rather than
// reaching for gRPC or JSON-RPC machinery the corpus never uses.
package ctlapi

import (
	"encoding/json"
	"net/http"
	"time"

	"eswap/internal/esconfig"
	"eswap/internal/estat"
)

// StatusResponse is the read-only snapshot returned by GET /status.
type StatusResponse struct {
	Enabled          bool          `json:"enabled"`
	ReclaimInEnabled bool          `json:"reclaim_in_enabled"`
	WatchdogEnabled  bool          `json:"watchdog_enabled"`
	WatchdogExpire   time.Duration `json:"watchdog_expire_ns"`
	LogLevel         string        `json:"log_level"`

	ReclaimInCount int64 `json:"reclaim_in_count"`
	FaultOutCount  int64 `json:"fault_out_count"`
	StoredPages    int64 `json:"stored_pages"`
}

// ToggleRequest is the body of every POST /enable, /reclaim-in,
// /watchdog request.
type ToggleRequest struct {
	Enable bool `json:"enable"`
}

// LogLevelRequest is the body of POST /log-level.
type LogLevelRequest struct {
	Level string `json:"level"`
}

// NewHandler builds the control mux wired to cfg and stats.
func NewHandler(cfg *esconfig.Config, stats *estat.Stats) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, StatusResponse{
			Enabled:          cfg.Enabled(),
			ReclaimInEnabled: cfg.ReclaimInEnabled(),
			WatchdogEnabled:  cfg.WatchdogEnabled(),
			WatchdogExpire:   cfg.WatchdogExpire(),
			LogLevel:         cfg.LogLevel().String(),
			ReclaimInCount:   stats.ReclaimInCount.Load(),
			FaultOutCount:    stats.FaultOutCount.Load(),
			StoredPages:      stats.StoredPages.Load(),
		})
	})

	mux.HandleFunc("/enable", toggleHandler(cfg.SetEnable))
	mux.HandleFunc("/reclaim-in", toggleHandler(cfg.SetReclaimInEnable))
	mux.HandleFunc("/watchdog", toggleHandler(cfg.SetWatchdogEnable))

	mux.HandleFunc("/log-level", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req LogLevelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lvl, ok := parseLogLevel(req.Level)
		if !ok {
			http.Error(w, "unknown log level: "+req.Level, http.StatusBadRequest)
			return
		}
		cfg.SetLogLevel(lvl)
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func toggleHandler(set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		set(req.Enable)
		w.WriteHeader(http.StatusNoContent)
	}
}

func parseLogLevel(s string) (esconfig.LogLevel, bool) {
	switch s {
	case "debug":
		return esconfig.LevelDebug, true
	case "info":
		return esconfig.LevelInfo, true
	case "warn":
		return esconfig.LevelWarn, true
	case "error":
		return esconfig.LevelError, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
