// Package evaluation drives the validator's audit loop: walk the registered
// miners on a rotation, refresh each miner's advertised index, spot-check one
// advertised bucket against the source platform, and feed the outcome to the
// scorer. Every evaluation ends in exactly one scorer report; the credibility
// model depends on failures being counted, not skipped.
package evaluation

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/protocol"
	"github.com/gather-network/gatherx/pkg/registry"
	"github.com/gather-network/gatherx/pkg/sampling"
	"github.com/gather-network/gatherx/pkg/validation"
	"github.com/gather-network/gatherx/pkg/verifier"
)

// Default tuning. Each value can be overridden through Opts.
const (
	// DefaultMinEvaluationPeriod is how long one evaluation stays fresh. The
	// scheduler skips miners evaluated more recently than this.
	DefaultMinEvaluationPeriod = 60 * time.Minute

	// DefaultMinerTimeout bounds each network call to a miner.
	DefaultMinerTimeout = 120 * time.Second

	// DefaultBatchSize is how many distinct miners one scheduling pass
	// evaluates concurrently.
	DefaultBatchSize = 10

	// DefaultBatchDeadline bounds one whole batch. A batch that overruns is
	// cancelled rather than allowed to stall the rotation.
	DefaultBatchDeadline = 5 * time.Minute
)

// Failure reasons reported to the scorer when an evaluation ends before
// content verification produces per-entity verdicts. Miners see these in
// their logs, so the wording stays stable across releases.
const (
	ReasonNoIndex             = "No available miner index."
	ReasonBadBucketResponse   = "Response failed or is invalid."
	ReasonDuplicateEntities   = "Duplicate entities found."
	ReasonNoScorableData      = "No scorable data to verify."
	ReasonNoEntitiesToVerify  = "No entities to verify."
	ReasonVerifierUnavailable = "Content verification was unable to run."
)

// Transport performs the two miner-facing protocol calls.
type Transport interface {
	GetMinerIndex(ctx context.Context, endpoint string) (*protocol.GetMinerIndexResponse, error)
	GetDataEntityBucket(ctx context.Context, endpoint string, id data.DataEntityBucketID) (*protocol.GetDataEntityBucketResponse, error)
}

// IndexStore is the slice of the validator store the evaluator touches.
type IndexStore interface {
	UpsertMinerIndex(ctx context.Context, index *data.MinerIndex, credibility float64) error
	ReadMinerIndex(ctx context.Context, hotkey string) (*data.ScorableMinerIndex, error)
	ReadMinerLastUpdated(ctx context.Context, hotkey string) (time.Time, bool, error)
	DeleteMiner(ctx context.Context, hotkey string) error
}

// Scorer consumes evaluation outcomes and tracks per-miner standing.
type Scorer interface {
	OnMinerEvaluated(uid int, index *data.ScorableMinerIndex, results []verifier.ValidationResult)
	Credibility(uid int) float64
	Reset(uid int)
	Resize(size int)
}

// Opts configures an Evaluator. Transport, Store, Scorer, Verifiers and
// Snapshot are required; Events is optional.
type Opts struct {
	OwnUID   int
	Snapshot *registry.Snapshot

	Transport Transport
	Store     IndexStore
	Scorer    Scorer
	Verifiers *verifier.Provider
	Events    EventSink

	MinEvaluationPeriod time.Duration
	MinerTimeout        time.Duration
	BatchSize           int
	BatchDeadline       time.Duration
}

// Evaluator owns the audit rotation over the miner population.
type Evaluator struct {
	ownUID    int
	transport Transport
	store     IndexStore
	scorer    Scorer
	verifiers *verifier.Provider
	events    EventSink
	logger    *zap.Logger

	minEvalPeriod time.Duration
	minerTimeout  time.Duration
	batchSize     int
	batchDeadline time.Duration

	pool pond.Pool

	mu       sync.Mutex
	snapshot *registry.Snapshot
	iterator *MinerIterator
}

// New builds an Evaluator over the given registry snapshot. The scorer is
// resized to the snapshot before the first evaluation so every registered
// uid has a slot.
func New(logger *zap.Logger, o Opts) *Evaluator {
	if o.MinEvaluationPeriod <= 0 {
		o.MinEvaluationPeriod = DefaultMinEvaluationPeriod
	}
	if o.MinerTimeout <= 0 {
		o.MinerTimeout = DefaultMinerTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDeadline <= 0 {
		o.BatchDeadline = DefaultBatchDeadline
	}

	queueSize := o.BatchSize * 2
	if queueSize < 16 {
		queueSize = 16
	}

	snapshot := o.Snapshot.Clone()
	e := &Evaluator{
		ownUID:        o.OwnUID,
		transport:     o.Transport,
		store:         o.Store,
		scorer:        o.Scorer,
		verifiers:     o.Verifiers,
		events:        o.Events,
		logger:        logger,
		minEvalPeriod: o.MinEvaluationPeriod,
		minerTimeout:  o.MinerTimeout,
		batchSize:     o.BatchSize,
		batchDeadline: o.BatchDeadline,
		pool:          pond.NewPool(o.BatchSize, pond.WithQueueSize(queueSize)),
		snapshot:      snapshot,
		iterator:      NewMinerIterator(snapshot.MinerUIDs(o.OwnUID)),
	}
	e.scorer.Resize(snapshot.Size())
	return e
}

// Close stops the worker pool, waiting for in-flight evaluations.
func (e *Evaluator) Close() {
	e.pool.StopAndWait()
}

// EvalMiner runs one full evaluation of uid and reports the outcome to the
// scorer. The network calls share the configured miner timeout each; the
// caller bounds the whole evaluation through ctx.
func (e *Evaluator) EvalMiner(ctx context.Context, uid int) {
	e.mu.Lock()
	snapshot := e.snapshot
	e.mu.Unlock()

	identity, ok := snapshot.Identity(uid)
	if !ok {
		// The miner deregistered between scheduling and evaluation. Its
		// slot was already reset by the registry listener.
		e.logger.Warn("[evaluator] uid left the registry before evaluation", zap.Int("uid", uid))
		return
	}

	logger := e.logger.With(zap.Int("uid", uid), zap.String("hotkey", identity.Hotkey))
	logger.Info("[evaluator] evaluating miner")
	started := time.Now()

	index := e.refreshMinerIndex(ctx, logger, identity)
	if index == nil {
		e.report(ctx, logger, identity, nil, failedResult(ReasonNoIndex), started, "")
		return
	}

	chosen, err := sampling.ChooseBucketToVerify(index)
	if err != nil {
		// An index whose every bucket is fully discounted or empty leaves
		// nothing to audit. Still a scored outcome: advertising no usable
		// data must not be safer than advertising bad data.
		logger.Info("[evaluator] index has no scorable bucket", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(ReasonNoScorableData), started, "")
		return
	}
	bucketID := chosen.ID.String()
	logger.Info("[evaluator] querying bucket",
		zap.String("bucket_id", bucketID),
		zap.Int64("size_bytes", chosen.SizeBytes))

	fetchCtx, cancel := context.WithTimeout(ctx, e.minerTimeout)
	resp, err := e.transport.GetDataEntityBucket(fetchCtx, identity.Endpoint, chosen.ID)
	cancel()
	if err != nil {
		logger.Info("[evaluator] miner failed to serve the bucket", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(ReasonBadBucketResponse), started, bucketID)
		return
	}

	entities := resp.DataEntities
	if err := validation.ValidateEntities(entities, chosen); err != nil {
		logger.Info("[evaluator] bucket failed basic validation", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(err.Error()), started, bucketID)
		return
	}
	if !validation.AreEntitiesUnique(entities) {
		logger.Info("[evaluator] bucket contains duplicate entities")
		e.report(ctx, logger, identity, index, failedResult(ReasonDuplicateEntities), started, bucketID)
		return
	}

	toVerify, err := sampling.ChooseEntitiesToVerify(entities)
	if err != nil {
		// Structural validation passed, so this only happens for a bucket
		// legitimately advertised at zero bytes.
		logger.Info("[evaluator] nothing to verify in bucket", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(ReasonNoEntitiesToVerify), started, bucketID)
		return
	}

	uris := make([]string, len(toVerify))
	for i := range toVerify {
		uris[i] = toVerify[i].URI
	}
	logger.Info("[evaluator] basic validation passed, verifying content", zap.Strings("uris", uris))

	v, err := e.verifiers.ForSource(chosen.ID.Source)
	if err != nil {
		logger.Error("[evaluator] no verifier for source", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(ReasonVerifierUnavailable), started, bucketID)
		return
	}
	results, err := v.Verify(ctx, toVerify)
	if err != nil {
		// The verifier itself could not run (platform outage, exhausted
		// retries). Charged as a failed evaluation rather than skipped: the
		// credibility EMA keeps one outage from erasing a good record.
		logger.Error("[evaluator] content verification was unable to run", zap.Error(err))
		e.report(ctx, logger, identity, index, failedResult(ReasonVerifierUnavailable), started, bucketID)
		return
	}

	e.report(ctx, logger, identity, index, results, started, bucketID)
}

// refreshMinerIndex asks the miner for its current index, stores it, and
// returns the scorable view. On any failure it falls back to the last stored
// index so a flaky connection does not erase a known inventory. Returns nil
// when no index is available at all.
func (e *Evaluator) refreshMinerIndex(ctx context.Context, logger *zap.Logger, identity registry.Identity) *data.ScorableMinerIndex {
	logger.Info("[evaluator] fetching miner index")

	fetchCtx, cancel := context.WithTimeout(ctx, e.minerTimeout)
	resp, err := e.transport.GetMinerIndex(fetchCtx, identity.Endpoint)
	cancel()
	if err != nil {
		logger.Info("[evaluator] miner failed to serve an index, using last stored", zap.Error(err))
		return e.readStoredIndex(ctx, logger, identity.Hotkey)
	}

	index, err := resp.Normalize(identity.Hotkey)
	if err != nil {
		logger.Info("[evaluator] miner served an invalid index, using last stored", zap.Error(err))
		return e.readStoredIndex(ctx, logger, identity.Hotkey)
	}

	var totalBytes int64
	for i := range index.DataEntityBuckets {
		totalBytes += index.DataEntityBuckets[i].SizeBytes
	}
	logger.Info("[evaluator] got new miner index",
		zap.Int("buckets", len(index.DataEntityBuckets)),
		zap.Int64("size_bytes", totalBytes))

	if err := e.store.UpsertMinerIndex(ctx, index, e.scorer.Credibility(identity.UID)); err != nil {
		logger.Error("[evaluator] failed to store miner index", zap.Error(err))
	}

	// Always read back through the store: scorable bytes depend on which
	// other miners advertise the same buckets, which only the store sees.
	return e.readStoredIndex(ctx, logger, identity.Hotkey)
}

func (e *Evaluator) readStoredIndex(ctx context.Context, logger *zap.Logger, hotkey string) *data.ScorableMinerIndex {
	index, err := e.store.ReadMinerIndex(ctx, hotkey)
	if err != nil {
		logger.Error("[evaluator] failed to read stored miner index", zap.Error(err))
		return nil
	}
	return index
}

// report delivers the outcome to the scorer and, when configured, publishes
// the evaluation event. The single scorer call per evaluation lives here.
func (e *Evaluator) report(ctx context.Context, logger *zap.Logger, identity registry.Identity, index *data.ScorableMinerIndex, results []verifier.ValidationResult, started time.Time, bucketID string) {
	e.scorer.OnMinerEvaluated(identity.UID, index, results)

	event := newEvent(identity.Hotkey, identity.UID, bucketID, results, started)
	logger.Info("[evaluator] miner evaluated",
		zap.Bool("valid", event.Valid),
		zap.String("reason", event.Reason),
		zap.Int64("validated_bytes", event.ValidatedBytes),
		zap.Int64("duration_ms", event.DurationMs))

	if e.events != nil {
		e.events.PublishEvaluation(ctx, event)
	}
}

func failedResult(reason string) []verifier.ValidationResult {
	return []verifier.ValidationResult{{IsValid: false, Reason: reason, ContentSizeBytesValidated: 0}}
}

// OnRegistryUpdated reacts to a registry sync: slots whose hotkey changed or
// whose identity is no longer an active participant are wiped, the rotation
// is rebuilt over the new miner set, and the scorer grows when the
// population does. Safe to call from the syncer's goroutine.
func (e *Evaluator) OnRegistryUpdated(snapshot *registry.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snapshot.EndpointsEqual(snapshot) {
		e.logger.Info("[evaluator] registry unchanged", zap.Int64("block", snapshot.Block))
		return
	}
	e.logger.Info("[evaluator] registry changed, resyncing miner set",
		zap.Int64("block", snapshot.Block))

	ctx := context.Background()
	for i := range e.snapshot.Identities {
		old := &e.snapshot.Identities[i]
		current, registered := snapshot.Identity(old.UID)
		replaced := !registered || current.Hotkey != old.Hotkey
		retired := registered && !snapshot.IsMiner(old.UID) && !snapshot.IsValidator(old.UID)
		if !replaced && !retired {
			continue
		}

		e.logger.Info("[evaluator] uid slot wiped",
			zap.Int("uid", old.UID),
			zap.String("hotkey", old.Hotkey),
			zap.Bool("replaced", replaced))
		e.scorer.Reset(old.UID)
		if err := e.store.DeleteMiner(ctx, old.Hotkey); err != nil {
			e.logger.Error("[evaluator] failed to delete miner state",
				zap.String("hotkey", old.Hotkey), zap.Error(err))
		}
	}

	e.iterator.SetMinerUIDs(snapshot.MinerUIDs(e.ownUID))
	if snapshot.Size() > e.snapshot.Size() {
		e.scorer.Resize(snapshot.Size())
	}
	e.snapshot = snapshot.Clone()
}
