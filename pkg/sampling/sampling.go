// Package sampling implements the two weighted-random selections the
// evaluator relies on: which advertised bucket to spot-check, and which
// entities inside a fetched bucket to verify against the source platform.
package sampling

import (
	"errors"
	"fmt"

	"github.com/mroth/weightedrand"

	"github.com/gather-network/gatherx/pkg/data"
)

// VerificationSampleSize is how many entities are spot-checked per bucket.
const VerificationSampleSize = 2

// ErrNoScorableData means every bucket in the index has zero scorable bytes,
// so there is nothing worth querying.
var ErrNoScorableData = errors.New("miner index has no scorable data")

// ErrNoVerifiableEntities means no candidate entity carries positive weight.
var ErrNoVerifiableEntities = errors.New("no entities with verifiable content")

// ChooseBucketToVerify draws a single bucket with probability proportional
// to its scorable bytes. Buckets with zero scorable bytes are never chosen.
func ChooseBucketToVerify(index *data.ScorableMinerIndex) (data.DataEntityBucket, error) {
	choices := make([]weightedrand.Choice, 0, len(index.Buckets))
	var total int64
	for i := range index.Buckets {
		bucket := &index.Buckets[i]
		if bucket.ScorableBytes <= 0 {
			continue
		}
		total += bucket.ScorableBytes
		choices = append(choices, weightedrand.NewChoice(bucket.DataEntityBucket, uint(bucket.ScorableBytes)))
	}
	if total == 0 {
		return data.DataEntityBucket{}, ErrNoScorableData
	}

	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return data.DataEntityBucket{}, fmt.Errorf("build bucket chooser: %w", err)
	}
	return chooser.Pick().(data.DataEntityBucket), nil
}

// ChooseEntitiesToVerify selects min(VerificationSampleSize, len(entities))
// distinct entities, each draw weighted by content size with the previous
// pick's weight removed from the pool. Larger entities cost proportionally
// more to scrape, so they attract proportionally more audits.
func ChooseEntitiesToVerify(entities []data.DataEntity) ([]data.DataEntity, error) {
	if len(entities) == 0 {
		return nil, ErrNoVerifiableEntities
	}
	// A single candidate is returned as-is, never double-counted.
	if len(entities) == 1 {
		return []data.DataEntity{entities[0]}, nil
	}

	want := VerificationSampleSize
	if len(entities) < want {
		want = len(entities)
	}

	remaining := make([]data.DataEntity, len(entities))
	copy(remaining, entities)

	chosen := make([]data.DataEntity, 0, want)
	for len(chosen) < want {
		idx, err := drawWeightedIndex(remaining)
		if err != nil {
			// Every remaining candidate has zero weight. Stop early rather
			// than draw entities that advertise no content.
			break
		}
		chosen = append(chosen, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	if len(chosen) == 0 {
		return nil, ErrNoVerifiableEntities
	}
	return chosen, nil
}

func drawWeightedIndex(entities []data.DataEntity) (int, error) {
	choices := make([]weightedrand.Choice, 0, len(entities))
	var total int64
	for i := range entities {
		if entities[i].ContentSizeBytes <= 0 {
			continue
		}
		total += entities[i].ContentSizeBytes
		choices = append(choices, weightedrand.NewChoice(i, uint(entities[i].ContentSizeBytes)))
	}
	if total == 0 {
		return 0, ErrNoVerifiableEntities
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		return 0, fmt.Errorf("build entity chooser: %w", err)
	}
	return chooser.Pick().(int), nil
}
