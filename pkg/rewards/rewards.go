// Package rewards defines how much a miner's advertised data is worth: a
// per-source weight split, per-label scale factors, and a linear depreciation
// by data age. The value calculator turns a scorable index into the raw
// number the scorer scales by credibility.
package rewards

import (
	"fmt"
	"math"
	"strings"

	"github.com/gather-network/gatherx/pkg/data"
)

// SourceReward configures how one data source is rewarded. Weight is this
// source's share of the total reward. Labels not listed in LabelScaleFactors
// fall back to DefaultScaleFactor; negative factors make a label actively
// harmful to index.
type SourceReward struct {
	Weight             float64            `json:"weight"`
	DefaultScaleFactor float64            `json:"default_scale_factor"`
	LabelScaleFactors  map[string]float64 `json:"label_scale_factors,omitempty"`
}

// ScaleFactor returns the factor for an optional label. Lookup is
// case-insensitive, matching label canonicalization.
func (r SourceReward) ScaleFactor(label *data.DataLabel) float64 {
	if label == nil || len(r.LabelScaleFactors) == 0 {
		return r.DefaultScaleFactor
	}
	if factor, ok := r.LabelScaleFactors[strings.ToLower(label.Value)]; ok {
		return factor
	}
	return r.DefaultScaleFactor
}

// Distribution is the full reward split across data sources. Weights must sum
// to 1.0. Data older than MaxAgeHours scores zero; younger data depreciates
// linearly down to 0.5 at the age limit.
type Distribution struct {
	Sources     map[data.DataSource]SourceReward `json:"distribution"`
	MaxAgeHours int64                            `json:"max_age_in_hours"`
}

// DefaultDistribution is the reference deployment's split: Reddit carries
// slightly more weight than X, neutral label scaling, and a 30-day age limit
// matching the index age limit.
func DefaultDistribution() Distribution {
	return Distribution{
		Sources: map[data.DataSource]SourceReward{
			data.DataSourceReddit: {Weight: 0.55, DefaultScaleFactor: 1.0},
			data.DataSourceX:      {Weight: 0.45, DefaultScaleFactor: 1.0},
		},
		MaxAgeHours: 24 * data.DataEntityBucketAgeLimitDays,
	}
}

// Validate checks the distribution's internal consistency.
func (d Distribution) Validate() error {
	if len(d.Sources) == 0 {
		return fmt.Errorf("distribution has no sources")
	}
	if d.MaxAgeHours <= 0 {
		return fmt.Errorf("max age must be positive, got %d", d.MaxAgeHours)
	}

	var totalWeight float64
	for source, reward := range d.Sources {
		if !source.Valid() {
			return fmt.Errorf("unknown data source %d in distribution", source)
		}
		if reward.Weight < 0 || reward.Weight > 1 {
			return fmt.Errorf("source %s weight %f outside [0, 1]", source, reward.Weight)
		}
		if reward.DefaultScaleFactor < -1 || reward.DefaultScaleFactor > 1 {
			return fmt.Errorf("source %s default scale factor %f outside [-1, 1]", source, reward.DefaultScaleFactor)
		}
		for label, factor := range reward.LabelScaleFactors {
			if factor < -1 || factor > 1 {
				return fmt.Errorf("label %q scale factor %f outside [-1, 1]", label, factor)
			}
		}
		totalWeight += reward.Weight
	}
	if math.Abs(totalWeight-1.0) > 1e-9 {
		return fmt.Errorf("source weights must sum to 1.0, got %f", totalWeight)
	}
	return nil
}

// ValueCalculator prices scorable buckets under a validated distribution.
type ValueCalculator struct {
	dist Distribution
}

// NewValueCalculator validates the distribution and returns a calculator
// over it.
func NewValueCalculator(dist Distribution) (*ValueCalculator, error) {
	if err := dist.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reward distribution: %w", err)
	}
	return &ValueCalculator{dist: dist}, nil
}

// BucketValue returns a single bucket's reward value as seen from the
// current time bucket:
//
//	source weight * label scale factor * age scalar * scorable bytes
//
// A source absent from the distribution is worth nothing.
func (c *ValueCalculator) BucketValue(bucket data.ScorableDataEntityBucket, current data.TimeBucket) float64 {
	reward, ok := c.dist.Sources[bucket.ID.Source]
	if !ok {
		return 0
	}
	return reward.Weight *
		reward.ScaleFactor(bucket.ID.Label) *
		c.ageScalar(bucket.ID.TimeBucket, current) *
		float64(bucket.ScorableBytes)
}

// IndexValue sums BucketValue across the whole index.
func (c *ValueCalculator) IndexValue(index *data.ScorableMinerIndex, current data.TimeBucket) float64 {
	if index == nil {
		return 0
	}
	var total float64
	for _, bucket := range index.Buckets {
		total += c.BucketValue(bucket, current)
	}
	return total
}

// ageScalar depreciates data linearly with age: fresh data scores 1.0, data
// at the age limit scores 0.5, anything older scores 0. Future-dated buckets
// are clamped to age zero rather than rewarded extra.
func (c *ValueCalculator) ageScalar(bucket, current data.TimeBucket) float64 {
	ageHours := current.ID - bucket.ID
	if ageHours < 0 {
		ageHours = 0
	}
	if ageHours > c.dist.MaxAgeHours {
		return 0
	}
	return 1.0 - float64(ageHours)/float64(2*c.dist.MaxAgeHours)
}
