package types

import "time"

// MinerStat is one row of the public miner leaderboard.
type MinerStat struct {
	Hotkey           string    `json:"hotkey"`
	Credibility      float64   `json:"credibility"`
	BucketCount      int64     `json:"bucket_count"`
	ContentSizeBytes int64     `json:"content_size_bytes"`
	LastUpdated      time.Time `json:"last_updated"`
}

// LabelStat aggregates advertised bytes for one label on one source.
type LabelStat struct {
	Source           string `json:"source"`
	Label            string `json:"label"`
	ContentSizeBytes int64  `json:"content_size_bytes"`
}

// AgeStat aggregates advertised bytes for one hour window on one source.
type AgeStat struct {
	Source           string    `json:"source"`
	TimeBucketID     int64     `json:"time_bucket_id"`
	WindowStart      time.Time `json:"window_start"`
	ContentSizeBytes int64     `json:"content_size_bytes"`
}
