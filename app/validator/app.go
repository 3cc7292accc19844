// Package validator wires the evaluation engine together: registry sync on a
// cron cadence, the rolling audit loop, score snapshots, and the databox
// reporting job that feeds the stats database.
package validator

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/app/validator/evaluation"
	"github.com/gather-network/gatherx/pkg/db/stats"
	"github.com/gather-network/gatherx/pkg/logging"
	"github.com/gather-network/gatherx/pkg/metrics"
	"github.com/gather-network/gatherx/pkg/redis"
	"github.com/gather-network/gatherx/pkg/registry"
	"github.com/gather-network/gatherx/pkg/rewards"
	"github.com/gather-network/gatherx/pkg/rpc"
	"github.com/gather-network/gatherx/pkg/scorer"
	"github.com/gather-network/gatherx/pkg/scraping"
	"github.com/gather-network/gatherx/pkg/storage"
	"github.com/gather-network/gatherx/pkg/utils"
	"github.com/gather-network/gatherx/pkg/verifier"
)

// App owns every long-lived component of the validator process.
type App struct {
	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Store is the local miner index database.
	Store *storage.Store

	// StatsDB is the databox sink; nil when DATABOX_ENABLED=false.
	StatsDB *stats.DB

	// Redis publishes evaluation events; nil when the broker is unreachable.
	Redis *redis.Client

	Client    *rpc.HTTPClient
	Syncer    *registry.Syncer
	Scorer    *scorer.MinerScorer
	Evaluator *evaluation.Evaluator

	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Cron drives registry sync, databox pushes, and score snapshots.
	Cron *cron.Cron

	// Server is the ops HTTP server.
	Server *http.Server

	// ScrapingConfig is the deployed scraping schedule, when one is mounted.
	ScrapingConfig *scraping.Config

	OwnUID          int
	Hotkey          string
	ScorerStatePath string

	databoxCadence time.Duration
	databoxWarmup  time.Duration
	startedAt      time.Time
	lastEval       atomic.Value // time.Time
	population     atomic.Int64
}

// Initialize builds the validator from environment configuration and performs
// the first registry sync. It fails fast on anything the process cannot run
// without.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	store, err := storage.New(utils.Env("STORAGE_PATH", "gatherx.db"), logger)
	if err != nil {
		logger.Fatal("Unable to open the miner index store", zap.Error(err))
	}

	client := rpc.NewHTTPWithOpts(rpc.Opts{
		Timeout: utils.EnvDuration("RPC_TIMEOUT", 15*time.Second),
		RPS:     utils.EnvInt("RPC_RPS", 20),
		Burst:   utils.EnvInt("RPC_BURST", 40),
	})

	syncer := registry.NewSyncer(client, utils.Env("CHAIN_GATEWAY_ADDR", "http://localhost:9090"), logger)
	if err := syncer.Sync(ctx); err != nil {
		logger.Fatal("Initial registry sync failed", zap.Error(err))
	}
	snapshot := syncer.Get()

	hotkey := utils.Env("VALIDATOR_HOTKEY", "")
	if hotkey == "" {
		logger.Fatal("VALIDATOR_HOTKEY is required")
	}
	ownUID, ok := snapshot.UIDForHotkey(hotkey)
	if !ok {
		logger.Fatal("Validator hotkey is not registered", zap.String("hotkey", hotkey))
	}

	calculator, err := rewards.NewValueCalculator(rewards.DefaultDistribution())
	if err != nil {
		return nil, err
	}
	minerScorer := scorer.NewMinerScorer(snapshot.Size(), calculator, logger)

	statePath := utils.Env("SCORER_STATE_PATH", "scorer_state.json")
	if err := minerScorer.LoadState(statePath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("No scorer snapshot found, starting fresh", zap.String("path", statePath))
		} else {
			logger.Warn("Could not restore scorer snapshot", zap.String("path", statePath), zap.Error(err))
		}
	} else {
		logger.Info("Restored scorer snapshot", zap.String("path", statePath))
	}
	// The snapshot may predate a registry resize.
	minerScorer.Resize(snapshot.Size())

	reg := metrics.NewRegistry()
	mtr := metrics.New(reg)

	app := &App{
		Logger:          logger,
		Store:           store,
		Client:          client,
		Syncer:          syncer,
		Scorer:          minerScorer,
		Metrics:         mtr,
		Registry:        reg,
		OwnUID:          ownUID,
		Hotkey:          hotkey,
		ScorerStatePath: statePath,
		databoxCadence:  utils.EnvDuration("DATABOX_CADENCE", 45*time.Minute),
		databoxWarmup:   utils.EnvDuration("DATABOX_WARMUP", 90*time.Minute),
		startedAt:       time.Now().UTC(),
	}

	if utils.Env("DATABOX_ENABLED", "true") == "true" {
		statsDB, err := stats.New(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to initialize the stats database", zap.Error(err))
		}
		app.StatsDB = statsDB
	} else {
		logger.Info("Databox reporting disabled")
	}

	sinks := eventFanout{&telemetrySink{app: app}}
	if utils.Env("EVENTS_ENABLED", "true") == "true" {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			// Event publication is best-effort, so a missing broker only
			// costs the live feed.
			logger.Warn("Redis unavailable, evaluation events will not be published", zap.Error(err))
		} else {
			app.Redis = redisClient
			sinks = append(sinks, evaluation.NewRedisEventSink(redisClient, logger))
		}
	}

	app.Evaluator = evaluation.New(logger, evaluation.Opts{
		OwnUID:              ownUID,
		Snapshot:            snapshot,
		Transport:           client,
		Store:               store,
		Scorer:              minerScorer,
		Verifiers:           buildVerifiers(logger),
		Events:              sinks,
		MinEvaluationPeriod: utils.EnvDuration("MIN_EVALUATION_PERIOD", evaluation.DefaultMinEvaluationPeriod),
		MinerTimeout:        utils.EnvDuration("MINER_TIMEOUT", evaluation.DefaultMinerTimeout),
		BatchSize:           utils.EnvInt("EVAL_BATCH_SIZE", evaluation.DefaultBatchSize),
		BatchDeadline:       utils.EnvDuration("EVAL_BATCH_DEADLINE", evaluation.DefaultBatchDeadline),
	})

	syncer.RegisterListener(app.Evaluator.OnRegistryUpdated)
	syncer.RegisterListener(func(snapshot *registry.Snapshot) {
		app.trackPopulation(snapshot)
	})
	app.trackPopulation(snapshot)

	if path := utils.Env("SCRAPING_CONFIG_PATH", ""); path != "" {
		cfg, err := scraping.Load(path)
		if err != nil {
			logger.Fatal("Invalid scraping config", zap.String("path", path), zap.Error(err))
		}
		app.ScrapingConfig = cfg
		logger.Info("Loaded scraping config", zap.String("path", path), zap.Int("sources", len(cfg.SourceConfigs)))
	}

	if err := app.SetupScheduler(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

// buildVerifiers assembles the content verifiers from environment
// configuration. The X verifier needs an Apify token; without one, X buckets
// cannot be verified and fail evaluation.
func buildVerifiers(logger *zap.Logger) *verifier.Provider {
	verifiers := []verifier.Verifier{
		verifier.NewRedditLiteVerifier(logger, verifier.RedditOpts{
			UserAgent: utils.Env("REDDIT_USER_AGENT", ""),
		}),
	}

	if token := utils.Env("APIFY_TOKEN", ""); token != "" {
		runner := verifier.NewApifyRunner(logger, verifier.ApifyOpts{Token: token})
		verifiers = append(verifiers, verifier.NewXApifyVerifier(logger, runner, verifier.XOpts{
			ActorID: utils.Env("APIFY_X_ACTOR_ID", "apidojo/tweet-scraper"),
		}))
	} else {
		logger.Warn("APIFY_TOKEN not set, X content verification is disabled")
	}

	return verifier.NewProvider(verifiers...)
}

func (a *App) trackPopulation(snapshot *registry.Snapshot) {
	miners := len(snapshot.MinerUIDs(a.OwnUID))
	a.population.Store(int64(miners))
	a.Metrics.TrackedMiners.Set(float64(miners))
}

// SetupScheduler registers the cron jobs: registry sync, databox pushes, and
// scorer snapshots.
func (a *App) SetupScheduler(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	syncSpec := utils.Env("REGISTRY_SYNC_CRON", "0 */20 * * * *")
	if _, err := a.Cron.AddFunc(syncSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		err := a.Syncer.Sync(rctx)
		a.Metrics.RecordRegistrySync(err)
		if err != nil {
			a.Logger.Warn("[validator] registry sync failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if a.StatsDB != nil {
		if _, err := a.Cron.AddFunc("@every "+a.databoxCadence.String(), func() {
			// A fresh validator has not evaluated enough miners for its
			// snapshot to mean anything.
			if time.Since(a.startedAt) < a.databoxWarmup {
				a.Logger.Debug("[validator] databox still warming up")
				return
			}
			rctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			err := a.PushDatabox(rctx)
			a.Metrics.RecordSnapshotPush(err)
			if err != nil {
				a.Logger.Warn("[validator] databox push failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	snapshotCadence := utils.EnvDuration("SCORER_SNAPSHOT_CADENCE", 5*time.Minute)
	if _, err := a.Cron.AddFunc("@every "+snapshotCadence.String(), func() {
		if err := a.Scorer.SaveState(a.ScorerStatePath); err != nil {
			a.Logger.Warn("[validator] scorer snapshot failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	return nil
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[validator] Cron started")
}

// StopCron stops the cron scheduler and waits for running jobs.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// PushDatabox snapshots the local index aggregates into the stats database.
// The three inserts share one snapshot timestamp.
func (a *App) PushDatabox(ctx context.Context) error {
	at := time.Now().UTC()

	miners, err := a.Store.ReadDataboxMiners(ctx)
	if err != nil {
		return err
	}
	minerRows := make([]stats.MinerStat, 0, len(miners))
	for _, m := range miners {
		minerRows = append(minerRows, stats.MinerStat{
			Hotkey:           m.Hotkey,
			Credibility:      m.Credibility,
			BucketCount:      m.BucketCount,
			ContentSizeBytes: m.ContentSizeBytes,
			LastUpdated:      m.LastUpdated,
		})
	}
	if err := a.StatsDB.InsertMinerSnapshots(ctx, at, minerRows); err != nil {
		return err
	}

	ages, err := a.Store.ReadDataboxAgeSizes(ctx)
	if err != nil {
		return err
	}
	ageRows := make([]stats.AgeStat, 0, len(ages))
	for _, row := range ages {
		ageRows = append(ageRows, stats.AgeStat{
			Source:           int32(row.Source),
			TimeBucketID:     row.TimeBucketID,
			ContentSizeBytes: row.ContentSizeBytes,
		})
	}
	if err := a.StatsDB.InsertAgeSizeSnapshots(ctx, at, ageRows); err != nil {
		return err
	}

	labels, err := a.Store.ReadDataboxLabelSizes(ctx)
	if err != nil {
		return err
	}
	labelRows := make([]stats.LabelStat, 0, len(labels))
	for _, row := range labels {
		labelRows = append(labelRows, stats.LabelStat{
			Source:           int32(row.Source),
			Label:            row.Label,
			ContentSizeBytes: row.ContentSizeBytes,
		})
	}
	if err := a.StatsDB.InsertLabelSizeSnapshots(ctx, at, labelRows); err != nil {
		return err
	}

	a.Logger.Info("[validator] databox snapshot pushed",
		zap.Time("snapshot_at", at),
		zap.Int("miners", len(minerRows)),
		zap.Int("age_rows", len(ageRows)),
		zap.Int("label_rows", len(labelRows)))
	return nil
}

// Ready indicates whether the application is ready to handle operations.
func (a *App) Ready() bool {
	if a.Store.Health() != nil {
		return false
	}
	return a.Syncer.Get() != nil
}

// Alive indicates whether the application is alive.
func (a *App) Alive() bool { return true }

// Start runs the evaluation loop and the ops server until ctx is cancelled
// or the loop dies, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = a.Server.ListenAndServe() }()
	a.StartCron()

	go func() {
		if err := a.Evaluator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("[validator] evaluation loop stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	_ = a.Server.Close()
	a.Logger.Info("[validator] shutting down…")
	a.StopCron()
	a.Evaluator.Close()

	if err := a.Scorer.SaveState(a.ScorerStatePath); err != nil {
		a.Logger.Warn("Could not save final scorer snapshot", zap.Error(err))
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.StatsDB != nil {
		_ = a.StatsDB.Close()
	}
	_ = a.Store.Close()

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// telemetrySink feeds evaluation outcomes into the process metrics and the
// ops status endpoint.
type telemetrySink struct {
	app *App
}

func (s *telemetrySink) PublishEvaluation(_ context.Context, event evaluation.Event) {
	s.app.Metrics.ObserveEvaluation(event.Valid, event.ValidatedBytes, time.Duration(event.DurationMs)*time.Millisecond)
	s.app.lastEval.Store(event.EvaluatedAt)
}

// eventFanout delivers each event to every sink in order.
type eventFanout []evaluation.EventSink

func (f eventFanout) PublishEvaluation(ctx context.Context, event evaluation.Event) {
	for _, sink := range f {
		sink.PublishEvaluation(ctx, event)
	}
}
