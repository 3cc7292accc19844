package data

// MinerIndex is the canonical, uncompressed inventory for one miner: one
// entry per distinct bucket id.
type MinerIndex struct {
	Hotkey            string             `json:"hotkey"`
	DataEntityBuckets []DataEntityBucket `json:"data_entity_buckets"`
}

// TotalSizeBytes sums the advertised bytes across all buckets.
func (i *MinerIndex) TotalSizeBytes() int64 {
	var total int64
	for _, bucket := range i.DataEntityBuckets {
		total += bucket.SizeBytes
	}
	return total
}

// CompressedEntityBucket groups every bucket sharing one (source, label)
// pair. TimeBucketIDs[i] is positionally paired with SizesBytes[i]; the two
// arrays must have equal length.
type CompressedEntityBucket struct {
	Label         *DataLabel `json:"label,omitempty"`
	TimeBucketIDs []int64    `json:"time_bucket_ids"`
	SizesBytes    []int64    `json:"sizes_bytes"`
}

// CompressedMinerIndex is the compact wire form of a miner index, keyed by
// source value. It shrinks the payload roughly in proportion to how often
// the same (source, label) pair repeats across time buckets.
type CompressedMinerIndex struct {
	Sources map[DataSource][]CompressedEntityBucket `json:"sources"`
}

// BucketCount returns how many individual buckets the index expands to.
func (ci *CompressedMinerIndex) BucketCount() int {
	count := 0
	for _, buckets := range ci.Sources {
		for _, bucket := range buckets {
			count += len(bucket.TimeBucketIDs)
		}
	}
	return count
}

// TotalSizeBytes sums the advertised bytes across the whole index.
func (ci *CompressedMinerIndex) TotalSizeBytes() int64 {
	var total int64
	for _, buckets := range ci.Sources {
		for _, bucket := range buckets {
			for _, size := range bucket.SizesBytes {
				total += size
			}
		}
	}
	return total
}
