package data

import "time"

// ScorableDataEntityBucket annotates a bucket with the portion of its bytes
// that currently counts toward rewards. ScorableBytes is always less than or
// equal to SizeBytes: bytes are discounted when other miners advertise the
// same bucket.
type ScorableDataEntityBucket struct {
	DataEntityBucket
	ScorableBytes int64 `json:"scorable_bytes"`
}

// ScorableMinerIndex is a miner's index with scorable annotations plus the
// time the index was last refreshed from the miner.
type ScorableMinerIndex struct {
	Hotkey      string                     `json:"hotkey"`
	Buckets     []ScorableDataEntityBucket `json:"buckets"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// TotalScorableBytes sums the scorable bytes across all buckets.
func (i *ScorableMinerIndex) TotalScorableBytes() int64 {
	var total int64
	for _, bucket := range i.Buckets {
		total += bucket.ScorableBytes
	}
	return total
}
