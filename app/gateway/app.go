// Package gateway hosts the network's read side: a JSON API over the
// snapshot tables the validator maintains, plus a websocket relay for live
// evaluation events. It holds no scoring state of its own and can be scaled
// or restarted independently of the validator.
package gateway

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/app/gateway/types"
	"github.com/gather-network/gatherx/pkg/db/stats"
	"github.com/gather-network/gatherx/pkg/logging"
	"github.com/gather-network/gatherx/pkg/metrics"
	"github.com/gather-network/gatherx/pkg/redis"
	"github.com/gather-network/gatherx/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	statsDb, statsErr := stats.New(ctx, logger)
	if statsErr != nil {
		logger.Fatal("Unable to initialize stats database", zap.Error(statsErr))
	}

	// Initialize Redis client for real-time WebSocket events (optional)
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for WebSocket real-time events")
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	registry := metrics.NewRegistry()

	app := &types.App{
		StatsDB:     statsDb,
		RedisClient: redisClient,
		Clients:     xsync.NewMap[string, time.Time](),
		Metrics:     metrics.New(registry),
		Registry:    registry,
		Logger:      logger,
	}

	return app
}
