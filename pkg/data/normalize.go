package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrIndexRejected tags every structural limit violation during index
// normalization. A violation anywhere rejects the whole submission; there is
// no partial acceptance.
var ErrIndexRejected = errors.New("miner index rejected")

// ErrNoIndex is returned when a response carries neither the uncompressed
// nor the compressed index form.
var ErrNoIndex = fmt.Errorf("%w: response contains no index", ErrIndexRejected)

// NormalizeIndex resolves the two legal wire forms into the canonical
// MinerIndex. The compressed form wins when both are present, matching the
// peer protocol's upgrade path. This is a pure transform: persisting the
// result is the caller's job.
func NormalizeIndex(hotkey string, uncompressed []DataEntityBucket, compressedSerialized []byte) (*MinerIndex, error) {
	if len(compressedSerialized) > 0 {
		var compressed CompressedMinerIndex
		if err := json.Unmarshal(compressedSerialized, &compressed); err != nil {
			return nil, fmt.Errorf("%w: malformed compressed index: %v", ErrIndexRejected, err)
		}
		return expandCompressedIndex(hotkey, &compressed)
	}
	if len(uncompressed) > 0 {
		return normalizeUncompressedIndex(hotkey, uncompressed)
	}
	return nil, ErrNoIndex
}

// Expand converts the compressed form into the canonical MinerIndex for
// hotkey, enforcing the same structural limits as normalization.
func (c *CompressedMinerIndex) Expand(hotkey string) (*MinerIndex, error) {
	return expandCompressedIndex(hotkey, c)
}

func normalizeUncompressedIndex(hotkey string, buckets []DataEntityBucket) (*MinerIndex, error) {
	if len(buckets) > DataEntityBucketCountLimitPerMinerIndex {
		return nil, fmt.Errorf(
			"%w: bucket count %d exceeds limit %d",
			ErrIndexRejected, len(buckets), DataEntityBucketCountLimitPerMinerIndex,
		)
	}
	for _, bucket := range buckets {
		if err := checkBucketSize(bucket.ID, bucket.SizeBytes); err != nil {
			return nil, err
		}
	}
	out := make([]DataEntityBucket, len(buckets))
	copy(out, buckets)
	return &MinerIndex{Hotkey: hotkey, DataEntityBuckets: out}, nil
}

// expandCompressedIndex unzips each compressed bucket's parallel arrays into
// individual DataEntityBuckets, preserving array order. Sources are walked
// in wire-value order so the expansion is deterministic.
func expandCompressedIndex(hotkey string, compressed *CompressedMinerIndex) (*MinerIndex, error) {
	if count := compressed.BucketCount(); count > DataEntityBucketCountLimitPerMinerIndex {
		return nil, fmt.Errorf(
			"%w: bucket count %d exceeds limit %d",
			ErrIndexRejected, count, DataEntityBucketCountLimitPerMinerIndex,
		)
	}

	sources := make([]DataSource, 0, len(compressed.Sources))
	for source := range compressed.Sources {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	buckets := make([]DataEntityBucket, 0, compressed.BucketCount())
	for _, source := range sources {
		for _, cb := range compressed.Sources[source] {
			if len(cb.TimeBucketIDs) != len(cb.SizesBytes) {
				return nil, fmt.Errorf(
					"%w: source %s label %s has %d time buckets but %d sizes",
					ErrIndexRejected, source, cb.Label, len(cb.TimeBucketIDs), len(cb.SizesBytes),
				)
			}
			for i, timeBucketID := range cb.TimeBucketIDs {
				id := DataEntityBucketID{
					TimeBucket: TimeBucket{ID: timeBucketID},
					Source:     source,
					Label:      cb.Label,
				}
				if err := checkBucketSize(id, cb.SizesBytes[i]); err != nil {
					return nil, err
				}
				buckets = append(buckets, DataEntityBucket{ID: id, SizeBytes: cb.SizesBytes[i]})
			}
		}
	}
	return &MinerIndex{Hotkey: hotkey, DataEntityBuckets: buckets}, nil
}

func checkBucketSize(id DataEntityBucketID, sizeBytes int64) error {
	if sizeBytes < 0 {
		return fmt.Errorf("%w: bucket %s has negative size %d", ErrIndexRejected, id, sizeBytes)
	}
	if sizeBytes > DataEntityBucketSizeLimitBytes {
		return fmt.Errorf(
			"%w: bucket %s size %d exceeds limit %d",
			ErrIndexRejected, id, sizeBytes, DataEntityBucketSizeLimitBytes,
		)
	}
	return nil
}
