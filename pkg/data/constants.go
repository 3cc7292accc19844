package data

import "github.com/gather-network/gatherx/pkg/utils"

const (
	// MaxLabelLength is the maximum number of characters a label can have.
	MaxLabelLength = 32

	// DataEntityBucketCountLimitPerMinerIndex caps how many entity buckets a
	// single miner index may advertise, bounding validator-side storage.
	DataEntityBucketCountLimitPerMinerIndex = 200_000

	// DataEntityBucketAgeLimitDays is how old a bucket can be before it no
	// longer carries any value.
	DataEntityBucketAgeLimitDays = 30
)

// DataEntityBucketSizeLimitBytes caps any one entity bucket so requests sent
// over the network aren't too large.
var DataEntityBucketSizeLimitBytes = utils.MbToBytes(128)
