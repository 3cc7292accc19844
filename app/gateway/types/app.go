package types

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/db/stats"
	"github.com/gather-network/gatherx/pkg/metrics"
	"github.com/gather-network/gatherx/pkg/redis"
)

type App struct {
	// StatsDB serves the read API from the snapshot tables the validator
	// pushes on its reporting cadence.
	StatsDB *stats.DB
	// RedisClient feeds the websocket relay and the recent-evaluations
	// endpoint. Nil when the broker is disabled; those endpoints answer 503.
	RedisClient *redis.Client
	// Clients tracks connected websocket clients by remote address.
	Clients  *xsync.Map[string, time.Time]
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// User is an operator account allowed through the session guard.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if err := a.StatsDB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
