package stats

import (
	"context"
	"fmt"
	"time"
)

// MinerStat is one miner's inventory summary in a snapshot.
type MinerStat struct {
	SnapshotAt       time.Time `json:"snapshot_at" ch:"snapshot_at"`
	Hotkey           string    `json:"hotkey" ch:"hotkey"`
	Credibility      float64   `json:"credibility" ch:"credibility"`
	BucketCount      int64     `json:"bucket_count" ch:"bucket_count"`
	ContentSizeBytes int64     `json:"content_size_bytes" ch:"content_size_bytes"`
	LastUpdated      time.Time `json:"last_updated" ch:"last_updated"`
}

// initMinerSnapshots initializes the miner_snapshots table.
func (db *DB) initMinerSnapshots(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s".miner_snapshots (
			snapshot_at DateTime,
			hotkey String,
			credibility Float64,
			bucket_count Int64,
			content_size_bytes Int64,
			last_updated DateTime
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(snapshot_at)
		ORDER BY (snapshot_at, hotkey)
		TTL snapshot_at + INTERVAL %d DAY
	`, db.Name, db.retentionDays)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create miner_snapshots: %w", err)
	}
	return nil
}

// InsertMinerSnapshots persists one snapshot of every tracked miner. All rows
// are stamped with the same snapshot time so readers can select a consistent
// view.
func (db *DB) InsertMinerSnapshots(ctx context.Context, at time.Time, rows []MinerStat) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s".miner_snapshots (snapshot_at, hotkey, credibility, bucket_count, content_size_bytes, last_updated) VALUES`, db.Name)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = batch.Abort() }()

	for _, row := range rows {
		if err := batch.Append(at, row.Hotkey, row.Credibility, row.BucketCount, row.ContentSizeBytes, row.LastUpdated); err != nil {
			return err
		}
	}

	return batch.Send()
}

// LatestMinerStats returns every miner from the most recent snapshot, largest
// inventory first.
func (db *DB) LatestMinerStats(ctx context.Context) ([]MinerStat, error) {
	var rows []MinerStat
	query := `
		SELECT snapshot_at, hotkey, credibility, bucket_count, content_size_bytes, last_updated
		FROM miner_snapshots
		WHERE snapshot_at = (SELECT max(snapshot_at) FROM miner_snapshots)
		ORDER BY content_size_bytes DESC
	`
	if err := db.Select(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("latest miner stats: %w", err)
	}
	return rows, nil
}

// MinerHistory returns up to limit snapshots for one hotkey, newest first.
func (db *DB) MinerHistory(ctx context.Context, hotkey string, limit int) ([]MinerStat, error) {
	var rows []MinerStat
	query := `
		SELECT snapshot_at, hotkey, credibility, bucket_count, content_size_bytes, last_updated
		FROM miner_snapshots
		WHERE hotkey = ?
		ORDER BY snapshot_at DESC
		LIMIT ?
	`
	if err := db.Select(ctx, &rows, query, hotkey, limit); err != nil {
		return nil, fmt.Errorf("miner history for %s: %w", hotkey, err)
	}
	return rows, nil
}
