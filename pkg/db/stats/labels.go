package stats

import (
	"context"
	"fmt"
	"time"
)

// LabelStat aggregates advertised bytes per (source, label) in a snapshot.
// Label is empty for unlabeled data.
type LabelStat struct {
	Source           int32  `json:"source" ch:"source"`
	Label            string `json:"label" ch:"label"`
	ContentSizeBytes int64  `json:"content_size_bytes" ch:"content_size_bytes"`
}

// initLabelSizeSnapshots initializes the label_size_snapshots table.
func (db *DB) initLabelSizeSnapshots(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s".label_size_snapshots (
			snapshot_at DateTime,
			source Int32,
			label LowCardinality(String),
			content_size_bytes Int64
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(snapshot_at)
		ORDER BY (snapshot_at, source, label)
		TTL snapshot_at + INTERVAL %d DAY
	`, db.Name, db.retentionDays)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create label_size_snapshots: %w", err)
	}
	return nil
}

// InsertLabelSizeSnapshots persists the per-label byte breakdown for one
// snapshot.
func (db *DB) InsertLabelSizeSnapshots(ctx context.Context, at time.Time, rows []LabelStat) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s".label_size_snapshots (snapshot_at, source, label, content_size_bytes) VALUES`, db.Name)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = batch.Abort() }()

	for _, row := range rows {
		if err := batch.Append(at, row.Source, row.Label, row.ContentSizeBytes); err != nil {
			return err
		}
	}

	return batch.Send()
}

// LatestLabelStats returns the per-label breakdown from the most recent
// snapshot, largest first, capped at limit rows.
func (db *DB) LatestLabelStats(ctx context.Context, limit int) ([]LabelStat, error) {
	var rows []LabelStat
	query := `
		SELECT source, label, content_size_bytes
		FROM label_size_snapshots
		WHERE snapshot_at = (SELECT max(snapshot_at) FROM label_size_snapshots)
		ORDER BY content_size_bytes DESC
		LIMIT ?
	`
	if err := db.Select(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("latest label stats: %w", err)
	}
	return rows, nil
}
