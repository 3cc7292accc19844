// Package protocol defines the JSON messages exchanged between a validator
// and a miner. Two calls exist: fetching a miner's index and fetching the
// entities of one advertised bucket. Both index forms are legal on the wire;
// the miner picks, the validator accepts either.
package protocol

import (
	"github.com/gather-network/gatherx/pkg/data"
)

// Version is the current peer-protocol version. Sent on every request so
// miners can serve older validators during rollouts.
const Version = 1

// Paths miners serve.
const (
	MinerIndexPath  = "/v1/miner/index"
	MinerBucketPath = "/v1/miner/bucket"
)

// GetMinerIndexRequest asks a miner for its full inventory.
type GetMinerIndexRequest struct {
	Version int `json:"version"`
}

// GetMinerIndexResponse carries one of the two index forms: the legacy
// bucket list, or the compressed index serialized as a nested JSON string.
// The nested encoding keeps the compressed document opaque to transports
// that inspect the outer message.
type GetMinerIndexResponse struct {
	Version                   int                     `json:"version"`
	DataEntityBuckets         []data.DataEntityBucket `json:"data_entity_buckets,omitempty"`
	CompressedIndexSerialized string                  `json:"compressed_index_serialized,omitempty"`
}

// Normalize resolves whichever index form the miner sent into the canonical
// MinerIndex for hotkey.
func (r *GetMinerIndexResponse) Normalize(hotkey string) (*data.MinerIndex, error) {
	return data.NormalizeIndex(hotkey, r.DataEntityBuckets, []byte(r.CompressedIndexSerialized))
}

// GetDataEntityBucketRequest asks for every entity in one advertised bucket.
type GetDataEntityBucketRequest struct {
	Version            int                     `json:"version"`
	DataEntityBucketID data.DataEntityBucketID `json:"data_entity_bucket_id"`
}

// GetDataEntityBucketResponse echoes the requested id and returns the
// bucket's entities.
type GetDataEntityBucketResponse struct {
	Version            int                     `json:"version"`
	DataEntityBucketID data.DataEntityBucketID `json:"data_entity_bucket_id"`
	DataEntities       []data.DataEntity       `json:"data_entities"`
}
