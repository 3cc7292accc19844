package data

import "fmt"

// DataEntityBucketID uniquely locates one inventory slot: a one-hour window,
// a source, and an optional label. Two ids name the same slot iff all three
// fields match.
type DataEntityBucketID struct {
	TimeBucket TimeBucket `json:"time_bucket"`
	Source     DataSource `json:"source"`
	Label      *DataLabel `json:"label,omitempty"`
}

// Equal reports whether both ids name the same inventory slot.
func (id DataEntityBucketID) Equal(o DataEntityBucketID) bool {
	return id.TimeBucket == o.TimeBucket && id.Source == o.Source && id.Label.Equal(o.Label)
}

// Key returns a canonical string form usable as a map key.
func (id DataEntityBucketID) Key() string {
	return fmt.Sprintf("%d|%d|%s", id.TimeBucket.ID, id.Source, id.Label.Key())
}

func (id DataEntityBucketID) String() string {
	return fmt.Sprintf("(%d/%s/%s)", id.TimeBucket.ID, id.Source, id.Label)
}

// DataEntityBucket summarizes the entities a miner holds for one bucket id.
type DataEntityBucket struct {
	ID        DataEntityBucketID `json:"id"`
	SizeBytes int64              `json:"size_bytes"`
}
