package data

import (
	"strconv"
	"time"
)

// TimeBucket identifies a fixed one-hour UTC window. Bucket N covers
// [N*3600, (N+1)*3600) seconds since epoch.
type TimeBucket struct {
	ID int64 `json:"id"`
}

// TimeBucketFromTime returns the bucket containing t.
func TimeBucketFromTime(t time.Time) TimeBucket {
	return TimeBucket{ID: t.UTC().Unix() / 3600}
}

// WindowStart returns the inclusive start of the bucket's window.
func (b TimeBucket) WindowStart() time.Time {
	return time.Unix(b.ID*3600, 0).UTC()
}

// WindowEnd returns the exclusive end of the bucket's window.
func (b TimeBucket) WindowEnd() time.Time {
	return time.Unix((b.ID+1)*3600, 0).UTC()
}

// Contains reports whether t falls inside the bucket's window.
func (b TimeBucket) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(b.WindowStart()) && u.Before(b.WindowEnd())
}

func (b TimeBucket) String() string {
	return strconv.FormatInt(b.ID, 10)
}
