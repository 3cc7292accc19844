package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gather-network/gatherx/pkg/data"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustLabel(t *testing.T, value string) *data.DataLabel {
	t.Helper()
	label, err := data.NewDataLabel(value)
	require.NoError(t, err)
	return label
}

func bucket(t *testing.T, timeBucketID int64, source data.DataSource, labelValue string, sizeBytes int64) data.DataEntityBucket {
	t.Helper()
	var label *data.DataLabel
	if labelValue != "" {
		label = mustLabel(t, labelValue)
	}
	return data.DataEntityBucket{
		ID: data.DataEntityBucketID{
			TimeBucket: data.TimeBucket{ID: timeBucketID},
			Source:     source,
			Label:      label,
		},
		SizeBytes: sizeBytes,
	}
}

// TestUpsertAndReadMinerIndex checks the roundtrip for a sole advertiser,
// whose every byte is scorable regardless of credibility.
func TestUpsertAndReadMinerIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	index := &data.MinerIndex{
		Hotkey: "hk1",
		DataEntityBuckets: []data.DataEntityBucket{
			bucket(t, 100, data.DataSourceReddit, "r/wallstreetbets", 400),
			bucket(t, 101, data.DataSourceX, "", 250),
		},
	}
	require.NoError(t, store.UpsertMinerIndex(ctx, index, 0))

	got, err := store.ReadMinerIndex(ctx, "hk1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Buckets, 2)
	assert.WithinDuration(t, time.Now().UTC(), got.LastUpdated, 5*time.Second)

	reddit := got.Buckets[0]
	assert.Equal(t, int64(100), reddit.ID.TimeBucket.ID)
	require.NotNil(t, reddit.ID.Label)
	assert.Equal(t, "r/wallstreetbets", reddit.ID.Label.Value)
	assert.Equal(t, int64(400), reddit.SizeBytes)
	assert.Equal(t, int64(400), reddit.ScorableBytes, "sole advertiser keeps every byte")

	x := got.Buckets[1]
	assert.Equal(t, data.DataSourceX, x.ID.Source)
	assert.Nil(t, x.ID.Label)
	assert.Equal(t, int64(250), x.ScorableBytes)
}

// TestScorableBytesSplitByCredibility checks shared buckets split bytes in
// proportion to credibility, with an even split when nobody has any yet.
func TestScorableBytesSplitByCredibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	shared := []data.DataEntityBucket{bucket(t, 500, data.DataSourceReddit, "r/bittensor_", 100)}

	t.Run("no credibility yet", func(t *testing.T) {
		require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{Hotkey: "hk1", DataEntityBuckets: shared}, 0))
		require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{Hotkey: "hk2", DataEntityBuckets: shared}, 0))

		first, err := store.ReadMinerIndex(ctx, "hk1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), first.Buckets[0].ScorableBytes)

		second, err := store.ReadMinerIndex(ctx, "hk2")
		require.NoError(t, err)
		assert.Equal(t, int64(50), second.Buckets[0].ScorableBytes)
	})

	t.Run("weighted by credibility", func(t *testing.T) {
		require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{Hotkey: "hk1", DataEntityBuckets: shared}, 0.8))
		require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{Hotkey: "hk2", DataEntityBuckets: shared}, 0.2))

		first, err := store.ReadMinerIndex(ctx, "hk1")
		require.NoError(t, err)
		assert.Equal(t, int64(80), first.Buckets[0].ScorableBytes)

		second, err := store.ReadMinerIndex(ctx, "hk2")
		require.NoError(t, err)
		assert.Equal(t, int64(20), second.Buckets[0].ScorableBytes)
	})
}

// TestUpsertReplacesPriorIndex checks an upsert supersedes old buckets
// instead of merging with them.
func TestUpsertReplacesPriorIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{
		Hotkey:            "hk1",
		DataEntityBuckets: []data.DataEntityBucket{bucket(t, 100, data.DataSourceReddit, "r/old", 400)},
	}, 0.5))

	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{
		Hotkey:            "hk1",
		DataEntityBuckets: []data.DataEntityBucket{bucket(t, 200, data.DataSourceReddit, "r/new", 700)},
	}, 0.5))

	got, err := store.ReadMinerIndex(ctx, "hk1")
	require.NoError(t, err)
	require.Len(t, got.Buckets, 1)
	assert.Equal(t, "r/new", got.Buckets[0].ID.Label.Value)
	assert.Equal(t, int64(700), got.Buckets[0].SizeBytes)
}

func TestReadMinerIndexUnknownMiner(t *testing.T) {
	store := newTestStore(t)

	got, err := store.ReadMinerIndex(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadMinerLastUpdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.ReadMinerLastUpdated(ctx, "hk1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{Hotkey: "hk1"}, 0))

	last, ok, err := store.ReadMinerLastUpdated(ctx, "hk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), last, 5*time.Second)
}

func TestDeleteMiner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{
		Hotkey:            "hk1",
		DataEntityBuckets: []data.DataEntityBucket{bucket(t, 100, data.DataSourceReddit, "r/old", 400)},
	}, 0.5))

	require.NoError(t, store.DeleteMiner(ctx, "hk1"))

	got, err := store.ReadMinerIndex(ctx, "hk1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.DeleteMiner(ctx, "hk1"), "deleting an unknown miner is a no-op")
}

// TestUpsertCompressedMinerIndex stores via the compressed form and reads
// back the expanded buckets.
func TestUpsertCompressedMinerIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	compressed := &data.CompressedMinerIndex{
		Sources: map[data.DataSource][]data.CompressedEntityBucket{
			data.DataSourceReddit: {
				{Label: mustLabel(t, "r/bittensor_"), TimeBucketIDs: []int64{5, 6}, SizesBytes: []int64{100, 200}},
			},
			data.DataSourceX: {
				{TimeBucketIDs: []int64{6}, SizesBytes: []int64{300}},
			},
		},
	}
	require.NoError(t, store.UpsertCompressedMinerIndex(ctx, compressed, "hk1", 0))

	got, err := store.ReadMinerIndex(ctx, "hk1")
	require.NoError(t, err)
	require.Len(t, got.Buckets, 3)

	var total int64
	for _, b := range got.Buckets {
		total += b.SizeBytes
	}
	assert.Equal(t, int64(600), total)
}

// TestDataboxReads exercises the three analytics aggregations.
func TestDataboxReads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{
		Hotkey: "hk1",
		DataEntityBuckets: []data.DataEntityBucket{
			bucket(t, 100, data.DataSourceReddit, "r/bittensor_", 400),
			bucket(t, 101, data.DataSourceReddit, "r/bittensor_", 100),
			bucket(t, 100, data.DataSourceX, "", 50),
		},
	}, 0.7))
	require.NoError(t, store.UpsertMinerIndex(ctx, &data.MinerIndex{
		Hotkey: "hk2",
		DataEntityBuckets: []data.DataEntityBucket{
			bucket(t, 100, data.DataSourceReddit, "r/bittensor_", 200),
		},
	}, 0.3))

	miners, err := store.ReadDataboxMiners(ctx)
	require.NoError(t, err)
	require.Len(t, miners, 2)
	assert.Equal(t, "hk1", miners[0].Hotkey)
	assert.Equal(t, int64(3), miners[0].BucketCount)
	assert.Equal(t, int64(550), miners[0].ContentSizeBytes)
	assert.InDelta(t, 0.7, miners[0].Credibility, 1e-9)
	assert.Equal(t, "hk2", miners[1].Hotkey)
	assert.Equal(t, int64(1), miners[1].BucketCount)

	ages, err := store.ReadDataboxAgeSizes(ctx)
	require.NoError(t, err)
	require.Len(t, ages, 3)
	assert.Equal(t, data.DataSourceReddit, ages[0].Source)
	assert.Equal(t, int64(100), ages[0].TimeBucketID)
	assert.Equal(t, int64(600), ages[0].ContentSizeBytes, "both miners' bytes in the shared window")

	labels, err := store.ReadDataboxLabelSizes(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "r/bittensor_", labels[0].Label)
	assert.Equal(t, int64(700), labels[0].ContentSizeBytes)
	assert.Equal(t, "", labels[1].Label, "unlabeled rows carry an empty label")
	assert.Equal(t, int64(50), labels[1].ContentSizeBytes)
}
