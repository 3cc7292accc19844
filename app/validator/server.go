package validator

import (
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/metrics"
	"github.com/gather-network/gatherx/pkg/utils"
)

// Status is the document served on /v1/status.
type Status struct {
	Hotkey          string     `json:"hotkey"`
	UID             int        `json:"uid"`
	UptimeSecs      int64      `json:"uptime_secs"`
	TrackedMiners   int64      `json:"tracked_miners"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	DataboxEnabled  bool       `json:"databox_enabled"`
	EventsEnabled   bool       `json:"events_enabled"`
}

// SetupServer sets up the ops HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/metrics", metrics.Handler(a.Registry)).Methods("GET")
	r.HandleFunc("/v1/status", a.HandleStatus).Methods("GET")
	r.HandleFunc("/v1/scraping-config", a.HandleScrapingConfig).Methods("GET")

	a.Server = &http.Server{Addr: addr, Handler: r}
	a.Logger.Info("Starting ops server", zap.String("addr", addr))
}

// HandleStatus reports process identity, uptime, and evaluation progress.
func (a *App) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{
		Hotkey:         a.Hotkey,
		UID:            a.OwnUID,
		UptimeSecs:     int64(time.Since(a.startedAt).Seconds()),
		TrackedMiners:  a.population.Load(),
		DataboxEnabled: a.StatsDB != nil,
		EventsEnabled:  a.Redis != nil,
	}
	if at, ok := a.lastEval.Load().(time.Time); ok {
		status.LastEvaluatedAt = &at
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

// HandleScrapingConfig serves the deployed scraping schedule so fleet
// tooling can confirm what this validator expects miners to collect.
func (a *App) HandleScrapingConfig(w http.ResponseWriter, _ *http.Request) {
	if a.ScrapingConfig == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no scraping config mounted"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(a.ScrapingConfig)
}
