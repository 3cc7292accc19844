package stats

import (
	"context"
	"fmt"
	"time"
)

// AgeStat aggregates advertised bytes per (source, hour window) in a snapshot.
type AgeStat struct {
	Source           int32 `json:"source" ch:"source"`
	TimeBucketID     int64 `json:"time_bucket_id" ch:"time_bucket_id"`
	ContentSizeBytes int64 `json:"content_size_bytes" ch:"content_size_bytes"`
}

// initAgeSizeSnapshots initializes the age_size_snapshots table.
func (db *DB) initAgeSizeSnapshots(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s".age_size_snapshots (
			snapshot_at DateTime,
			source Int32,
			time_bucket_id Int64,
			content_size_bytes Int64
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(snapshot_at)
		ORDER BY (snapshot_at, source, time_bucket_id)
		TTL snapshot_at + INTERVAL %d DAY
	`, db.Name, db.retentionDays)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create age_size_snapshots: %w", err)
	}
	return nil
}

// InsertAgeSizeSnapshots persists the per-age byte breakdown for one snapshot.
func (db *DB) InsertAgeSizeSnapshots(ctx context.Context, at time.Time, rows []AgeStat) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s".age_size_snapshots (snapshot_at, source, time_bucket_id, content_size_bytes) VALUES`, db.Name)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = batch.Abort() }()

	for _, row := range rows {
		if err := batch.Append(at, row.Source, row.TimeBucketID, row.ContentSizeBytes); err != nil {
			return err
		}
	}

	return batch.Send()
}

// LatestAgeStats returns the per-age breakdown from the most recent snapshot,
// oldest hour window first.
func (db *DB) LatestAgeStats(ctx context.Context) ([]AgeStat, error) {
	var rows []AgeStat
	query := `
		SELECT source, time_bucket_id, content_size_bytes
		FROM age_size_snapshots
		WHERE snapshot_at = (SELECT max(snapshot_at) FROM age_size_snapshots)
		ORDER BY source, time_bucket_id
	`
	if err := db.Select(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("latest age stats: %w", err)
	}
	return rows, nil
}
