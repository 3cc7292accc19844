package evaluation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/protocol"
	"github.com/gather-network/gatherx/pkg/registry"
	"github.com/gather-network/gatherx/pkg/verifier"
)

// --- test doubles -----------------------------------------------------------

type fakeTransport struct {
	mu          sync.Mutex
	indexResp   *protocol.GetMinerIndexResponse
	indexErr    error
	bucketResp  *protocol.GetDataEntityBucketResponse
	bucketErr   error
	indexCalls  []string
	bucketCalls []data.DataEntityBucketID
}

func (f *fakeTransport) GetMinerIndex(ctx context.Context, endpoint string) (*protocol.GetMinerIndexResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls = append(f.indexCalls, endpoint)
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.indexResp, nil
}

func (f *fakeTransport) GetDataEntityBucket(ctx context.Context, endpoint string, id data.DataEntityBucketID) (*protocol.GetDataEntityBucketResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketCalls = append(f.bucketCalls, id)
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return f.bucketResp, nil
}

type upsertCall struct {
	index       *data.MinerIndex
	credibility float64
}

// fakeStore mimics the index store: an upserted index is read back with
// every byte scorable, which is what the real store produces when no other
// miner advertises the same buckets.
type fakeStore struct {
	mu              sync.Mutex
	indexes         map[string]*data.ScorableMinerIndex
	lastUpdated     map[string]time.Time
	readErr         error
	upsertErr       error
	lastUpdatedErr  error
	lastUpdatedHook func(hotkey string) (time.Time, bool, error)

	upserts []upsertCall
	deletes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		indexes:     make(map[string]*data.ScorableMinerIndex),
		lastUpdated: make(map[string]time.Time),
	}
}

func (f *fakeStore) UpsertMinerIndex(ctx context.Context, index *data.MinerIndex, credibility float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsertCall{index: index, credibility: credibility})
	if f.upsertErr != nil {
		return f.upsertErr
	}
	buckets := make([]data.ScorableDataEntityBucket, len(index.DataEntityBuckets))
	for i, bucket := range index.DataEntityBuckets {
		buckets[i] = data.ScorableDataEntityBucket{DataEntityBucket: bucket, ScorableBytes: bucket.SizeBytes}
	}
	now := time.Now().UTC()
	f.indexes[index.Hotkey] = &data.ScorableMinerIndex{Hotkey: index.Hotkey, Buckets: buckets, LastUpdated: now}
	f.lastUpdated[index.Hotkey] = now
	return nil
}

func (f *fakeStore) ReadMinerIndex(ctx context.Context, hotkey string) (*data.ScorableMinerIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.indexes[hotkey], nil
}

func (f *fakeStore) ReadMinerLastUpdated(ctx context.Context, hotkey string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastUpdatedHook != nil {
		return f.lastUpdatedHook(hotkey)
	}
	if f.lastUpdatedErr != nil {
		return time.Time{}, false, f.lastUpdatedErr
	}
	last, ok := f.lastUpdated[hotkey]
	return last, ok, nil
}

func (f *fakeStore) DeleteMiner(ctx context.Context, hotkey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, hotkey)
	delete(f.indexes, hotkey)
	delete(f.lastUpdated, hotkey)
	return nil
}

type scoreCall struct {
	uid     int
	index   *data.ScorableMinerIndex
	results []verifier.ValidationResult
}

type fakeScorer struct {
	mu     sync.Mutex
	cred   map[int]float64
	calls  []scoreCall
	resets []int
	sizes  []int
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{cred: make(map[int]float64)}
}

func (f *fakeScorer) OnMinerEvaluated(uid int, index *data.ScorableMinerIndex, results []verifier.ValidationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scoreCall{uid: uid, index: index, results: results})
}

func (f *fakeScorer) Credibility(uid int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred[uid]
}

func (f *fakeScorer) Reset(uid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, uid)
}

func (f *fakeScorer) Resize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, size)
}

func (f *fakeScorer) scoreCalls() []scoreCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scoreCall(nil), f.calls...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) PublishEvaluation(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type stubSourceVerifier struct {
	id      string
	results []verifier.ValidationResult
	err     error
	mu      sync.Mutex
	batches [][]data.DataEntity
}

func (s *stubSourceVerifier) ID() string { return s.id }

func (s *stubSourceVerifier) Verify(ctx context.Context, entities []data.DataEntity) ([]verifier.ValidationResult, error) {
	s.mu.Lock()
	s.batches = append(s.batches, entities)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.results != nil {
		return s.results, nil
	}
	results := make([]verifier.ValidationResult, len(entities))
	for i := range entities {
		results[i] = verifier.ValidationResult{
			IsValid:                   true,
			Reason:                    verifier.SuccessReason,
			ContentSizeBytesValidated: entities[i].ContentSizeBytes,
		}
	}
	return results, nil
}

// --- fixtures ---------------------------------------------------------------

func testSnapshot(block int64) *registry.Snapshot {
	return &registry.Snapshot{
		Block: block,
		Identities: []registry.Identity{
			{UID: 0, Hotkey: "hk-validator", Endpoint: "http://validator:8091", Stake: 50_000, ValidatorPermit: true, ValidatorTrust: 1},
			{UID: 1, Hotkey: "hk-miner-1", Endpoint: "http://miner-1:8091"},
			{UID: 2, Hotkey: "hk-miner-2", Endpoint: "http://miner-2:8091"},
			{UID: 3, Hotkey: "hk-miner-3", Endpoint: "http://miner-3:8091"},
		},
	}
}

func mustLabel(t *testing.T, value string) *data.DataLabel {
	t.Helper()
	label, err := data.NewDataLabel(value)
	require.NoError(t, err)
	return label
}

// redditBucket builds a bucket and its matching entities: sizes sum to the
// bucket size and every datetime lands inside the bucket window.
func redditBucket(t *testing.T, label *data.DataLabel, sizes ...int) (data.DataEntityBucket, []data.DataEntity) {
	t.Helper()
	tb := data.TimeBucketFromTime(time.Now().UTC())
	entities := make([]data.DataEntity, len(sizes))
	var total int64
	for i, size := range sizes {
		entities[i] = data.DataEntity{
			URI:              fmt.Sprintf("https://www.reddit.com/r/bittensor_/comments/post%d/", i),
			Datetime:         tb.WindowStart().Add(time.Duration(i+1) * time.Minute),
			Source:           data.DataSourceReddit,
			Label:            label,
			Content:          bytes.Repeat([]byte("x"), size),
			ContentSizeBytes: int64(size),
		}
		total += int64(size)
	}
	bucket := data.DataEntityBucket{
		ID: data.DataEntityBucketID{
			TimeBucket: tb,
			Source:     data.DataSourceReddit,
			Label:      label,
		},
		SizeBytes: total,
	}
	return bucket, entities
}

func newTestEvaluator(t *testing.T, tr Transport, st IndexStore, sc Scorer, sink *recordingSink, v verifier.Verifier) *Evaluator {
	t.Helper()
	var events EventSink
	if sink != nil {
		events = sink
	}
	e := New(zaptest.NewLogger(t), Opts{
		OwnUID:              0,
		Snapshot:            testSnapshot(100),
		Transport:           tr,
		Store:               st,
		Scorer:              sc,
		Verifiers:           verifier.NewProvider(v),
		Events:              events,
		MinEvaluationPeriod: time.Hour,
		MinerTimeout:        5 * time.Second,
		BatchSize:           10,
		BatchDeadline:       30 * time.Second,
	})
	t.Cleanup(e.Close)
	return e
}

// --- EvalMiner --------------------------------------------------------------

func TestEvalMinerHappyPath(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, entities := redditBucket(t, label, 100, 50)

	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: entities},
	}
	store := newFakeStore()
	scorer := newFakeScorer()
	scorer.cred[1] = 0.25
	sink := &recordingSink{}
	stub := &stubSourceVerifier{id: verifier.RedditLiteVerifierID}

	e := newTestEvaluator(t, transport, store, scorer, sink, stub)
	e.EvalMiner(context.Background(), 1)

	// The fresh index was stored under the miner's current credibility.
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "hk-miner-1", store.upserts[0].index.Hotkey)
	assert.Equal(t, 0.25, store.upserts[0].credibility)

	// The bucket fetch targeted the advertised bucket.
	require.Len(t, transport.bucketCalls, 1)
	assert.True(t, transport.bucketCalls[0].Equal(bucket.ID))

	// Both sampled entities reached the verifier.
	require.Len(t, stub.batches, 1)
	assert.Len(t, stub.batches[0], 2)

	// Exactly one scorer report, carrying the stored index and the verdicts.
	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].uid)
	require.NotNil(t, calls[0].index)
	assert.Equal(t, int64(150), calls[0].index.TotalScorableBytes())
	require.Len(t, calls[0].results, 2)
	for _, result := range calls[0].results {
		assert.True(t, result.IsValid)
	}

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "hk-miner-1", events[0].Hotkey)
	assert.Equal(t, 1, events[0].UID)
	assert.Equal(t, bucket.ID.String(), events[0].BucketID)
	assert.True(t, events[0].Valid)
	assert.Equal(t, verifier.SuccessReason, events[0].Reason)
	assert.Equal(t, int64(150), events[0].ValidatedBytes)
}

func TestEvalMinerNoIndexAnywhere(t *testing.T) {
	transport := &fakeTransport{indexErr: errors.New("connection refused")}
	store := newFakeStore()
	scorer := newFakeScorer()
	sink := &recordingSink{}

	e := newTestEvaluator(t, transport, store, scorer, sink, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].uid)
	assert.Nil(t, calls[0].index)
	require.Len(t, calls[0].results, 1)
	assert.False(t, calls[0].results[0].IsValid)
	assert.Equal(t, ReasonNoIndex, calls[0].results[0].Reason)
	assert.Zero(t, calls[0].results[0].ContentSizeBytesValidated)

	assert.Empty(t, store.upserts)
	events := sink.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Valid)
	assert.Equal(t, ReasonNoIndex, events[0].Reason)
	assert.Empty(t, events[0].BucketID)
}

func TestEvalMinerFallsBackToStoredIndex(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, _ := redditBucket(t, label, 100, 50)
	stored := &data.ScorableMinerIndex{
		Hotkey:      "hk-miner-1",
		Buckets:     []data.ScorableDataEntityBucket{{DataEntityBucket: bucket, ScorableBytes: bucket.SizeBytes}},
		LastUpdated: time.Now().UTC().Add(-30 * time.Minute),
	}

	transport := &fakeTransport{
		indexErr:  errors.New("connection refused"),
		bucketErr: errors.New("connection refused"),
	}
	store := newFakeStore()
	store.indexes["hk-miner-1"] = stored
	scorer := newFakeScorer()

	e := newTestEvaluator(t, transport, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	// No upsert happened, but the evaluation still ran off the stored index
	// and charged the failed bucket fetch.
	assert.Empty(t, store.upserts)
	require.Len(t, transport.bucketCalls, 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Same(t, stored, calls[0].index)
	require.Len(t, calls[0].results, 1)
	assert.Equal(t, ReasonBadBucketResponse, calls[0].results[0].Reason)
}

func TestEvalMinerInvalidIndexFallsBackToStored(t *testing.T) {
	transport := &fakeTransport{
		indexResp: &protocol.GetMinerIndexResponse{Version: protocol.Version, CompressedIndexSerialized: "{"},
	}
	store := newFakeStore()
	scorer := newFakeScorer()

	e := newTestEvaluator(t, transport, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	// A malformed index is never stored; with nothing stored either, the
	// evaluation fails for want of an index.
	assert.Empty(t, store.upserts)
	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].index)
	assert.Equal(t, ReasonNoIndex, calls[0].results[0].Reason)
}

func TestEvalMinerNoScorableData(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, _ := redditBucket(t, label, 100)
	stored := &data.ScorableMinerIndex{
		Hotkey:  "hk-miner-1",
		Buckets: []data.ScorableDataEntityBucket{{DataEntityBucket: bucket, ScorableBytes: 0}},
	}

	transport := &fakeTransport{indexErr: errors.New("connection refused")}
	store := newFakeStore()
	store.indexes["hk-miner-1"] = stored
	scorer := newFakeScorer()

	e := newTestEvaluator(t, transport, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Same(t, stored, calls[0].index)
	assert.Equal(t, ReasonNoScorableData, calls[0].results[0].Reason)
	assert.Empty(t, transport.bucketCalls)
}

func TestEvalMinerStructuralValidationFailure(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, entities := redditBucket(t, label, 100, 50)
	// The miner under-delivers: one entity goes missing from the response.
	short := entities[:1]

	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: short},
	}
	store := newFakeStore()
	scorer := newFakeScorer()
	stub := &stubSourceVerifier{id: verifier.RedditLiteVerifierID}

	e := newTestEvaluator(t, transport, store, scorer, nil, stub)
	e.EvalMiner(context.Background(), 1)

	// The verifier never ran; the validation error is the reported reason.
	assert.Empty(t, stub.batches)
	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].index)
	require.Len(t, calls[0].results, 1)
	assert.False(t, calls[0].results[0].IsValid)
	assert.Contains(t, calls[0].results[0].Reason, "Bucket size")
	assert.Zero(t, calls[0].results[0].ContentSizeBytesValidated)
}

func TestEvalMinerDuplicateEntities(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, entities := redditBucket(t, label, 75, 75)
	// Same URI, datetime and content for both entities.
	entities[1] = entities[0]

	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: entities},
	}
	store := newFakeStore()
	scorer := newFakeScorer()

	e := newTestEvaluator(t, transport, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, ReasonDuplicateEntities, calls[0].results[0].Reason)
}

func TestEvalMinerVerifierUnableToRun(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, entities := redditBucket(t, label, 100, 50)

	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: entities},
	}
	store := newFakeStore()
	scorer := newFakeScorer()
	stub := &stubSourceVerifier{id: verifier.RedditLiteVerifierID, err: errors.New("platform api down")}

	e := newTestEvaluator(t, transport, store, scorer, nil, stub)
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].index)
	require.Len(t, calls[0].results, 1)
	assert.Equal(t, ReasonVerifierUnavailable, calls[0].results[0].Reason)
	assert.False(t, calls[0].results[0].IsValid)
}

func TestEvalMinerNoVerifierForSource(t *testing.T) {
	bucket, entities := redditBucket(t, nil, 100)
	for i := range entities {
		entities[i].Source = data.DataSourceX
		entities[i].URI = fmt.Sprintf("https://x.com/user/status/%d", 1000+i)
	}
	bucket.ID.Source = data.DataSourceX

	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: entities},
	}
	store := newFakeStore()
	scorer := newFakeScorer()

	// Only a reddit verifier is installed, but the sampled bucket is X data.
	e := newTestEvaluator(t, transport, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, ReasonVerifierUnavailable, calls[0].results[0].Reason)
}

func TestEvalMinerMixedVerdictsPassThrough(t *testing.T) {
	label := mustLabel(t, "r/bittensor_")
	bucket, entities := redditBucket(t, label, 100, 50)

	verdicts := []verifier.ValidationResult{
		{IsValid: true, Reason: verifier.SuccessReason, ContentSizeBytesValidated: 100},
		{IsValid: false, Reason: "Content does not match", ContentSizeBytesValidated: 0},
	}
	transport := &fakeTransport{
		indexResp:  &protocol.GetMinerIndexResponse{Version: protocol.Version, DataEntityBuckets: []data.DataEntityBucket{bucket}},
		bucketResp: &protocol.GetDataEntityBucketResponse{Version: protocol.Version, DataEntityBucketID: bucket.ID, DataEntities: entities},
	}
	store := newFakeStore()
	scorer := newFakeScorer()
	sink := &recordingSink{}
	stub := &stubSourceVerifier{id: verifier.RedditLiteVerifierID, results: verdicts}

	e := newTestEvaluator(t, transport, store, scorer, sink, stub)
	e.EvalMiner(context.Background(), 1)

	calls := scorer.scoreCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, verdicts, calls[0].results)

	events := sink.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Valid)
	assert.Equal(t, "Content does not match", events[0].Reason)
	assert.Equal(t, int64(100), events[0].ValidatedBytes)
}

func TestEvalMinerUnknownUID(t *testing.T) {
	transport := &fakeTransport{}
	store := newFakeStore()
	scorer := newFakeScorer()
	sink := &recordingSink{}

	e := newTestEvaluator(t, transport, store, scorer, sink, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})
	e.EvalMiner(context.Background(), 42)

	assert.Empty(t, scorer.scoreCalls())
	assert.Empty(t, sink.all())
	assert.Empty(t, transport.indexCalls)
}

// --- registry updates -------------------------------------------------------

func TestOnRegistryUpdatedUnchanged(t *testing.T) {
	store := newFakeStore()
	scorer := newFakeScorer()
	e := newTestEvaluator(t, &fakeTransport{}, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})

	// Same participants at a later block, nothing to do.
	next := testSnapshot(150)
	e.OnRegistryUpdated(next)

	assert.Empty(t, scorer.resets)
	assert.Empty(t, store.deletes)
	assert.Equal(t, []int{4}, scorer.sizes)
	assert.Equal(t, 3, e.iterator.Len())
}

func TestOnRegistryUpdatedHotkeyReplaced(t *testing.T) {
	store := newFakeStore()
	store.indexes["hk-miner-2"] = &data.ScorableMinerIndex{Hotkey: "hk-miner-2"}
	scorer := newFakeScorer()
	e := newTestEvaluator(t, &fakeTransport{}, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})

	next := testSnapshot(150)
	next.Identities[2].Hotkey = "hk-miner-2-replacement"
	next.Identities[2].Endpoint = "http://miner-2b:8091"
	e.OnRegistryUpdated(next)

	// Only the replaced slot is wiped; its predecessor's state is gone.
	assert.Equal(t, []int{2}, scorer.resets)
	assert.Equal(t, []string{"hk-miner-2"}, store.deletes)
	assert.Equal(t, 3, e.iterator.Len())
	// Population did not grow, so no extra resize beyond construction.
	assert.Equal(t, []int{4}, scorer.sizes)
}

func TestOnRegistryUpdatedMinerRetired(t *testing.T) {
	store := newFakeStore()
	scorer := newFakeScorer()
	e := newTestEvaluator(t, &fakeTransport{}, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})

	// uid 3 keeps its hotkey but picks up validator trust without meeting
	// the validator bar: neither a miner nor a validator anymore.
	next := testSnapshot(150)
	next.Identities[3].ValidatorTrust = 0.5
	e.OnRegistryUpdated(next)

	assert.Equal(t, []int{3}, scorer.resets)
	assert.Equal(t, []string{"hk-miner-3"}, store.deletes)
	assert.Equal(t, 2, e.iterator.Len())
}

func TestOnRegistryUpdatedGrowth(t *testing.T) {
	store := newFakeStore()
	scorer := newFakeScorer()
	e := newTestEvaluator(t, &fakeTransport{}, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})

	next := testSnapshot(150)
	next.Identities = append(next.Identities, registry.Identity{
		UID: 5, Hotkey: "hk-miner-5", Endpoint: "http://miner-5:8091",
	})
	e.OnRegistryUpdated(next)

	assert.Equal(t, []int{4, 6}, scorer.sizes)
	assert.Equal(t, 4, e.iterator.Len())
	assert.Empty(t, scorer.resets)
	assert.Empty(t, store.deletes)
}

func TestOnRegistryUpdatedUidRemoved(t *testing.T) {
	store := newFakeStore()
	scorer := newFakeScorer()
	e := newTestEvaluator(t, &fakeTransport{}, store, scorer, nil, &stubSourceVerifier{id: verifier.RedditLiteVerifierID})

	next := testSnapshot(150)
	next.Identities = next.Identities[:3] // uid 3 gone entirely
	e.OnRegistryUpdated(next)

	assert.Equal(t, []int{3}, scorer.resets)
	assert.Equal(t, []string{"hk-miner-3"}, store.deletes)
	assert.Equal(t, 2, e.iterator.Len())
}
