package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/gather-network/gatherx/pkg/data"
)

// DataboxMiner is one miner's inventory summary for the analytics sink.
type DataboxMiner struct {
	Hotkey           string
	Credibility      float64
	BucketCount      int64
	ContentSizeBytes int64
	LastUpdated      time.Time
}

// DataboxAgeSize aggregates advertised bytes per (source, hour window).
type DataboxAgeSize struct {
	Source           data.DataSource
	TimeBucketID     int64
	ContentSizeBytes int64
}

// DataboxLabelSize aggregates advertised bytes per (source, label). Label is
// empty for unlabeled data.
type DataboxLabelSize struct {
	Source           data.DataSource
	Label            string
	ContentSizeBytes int64
}

// ReadDataboxMiners summarizes every stored miner.
func (s *Store) ReadDataboxMiners(ctx context.Context) ([]DataboxMiner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.hotkey, m.credibility, COUNT(b.miner_id), COALESCE(SUM(b.size_bytes), 0), m.last_updated
		FROM miners m
		LEFT JOIN buckets b ON b.miner_id = m.id
		GROUP BY m.id
		ORDER BY m.hotkey`)
	if err != nil {
		return nil, fmt.Errorf("read databox miners: %w", err)
	}
	defer rows.Close()

	var miners []DataboxMiner
	for rows.Next() {
		var m DataboxMiner
		if err := rows.Scan(&m.Hotkey, &m.Credibility, &m.BucketCount, &m.ContentSizeBytes, &m.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan databox miner: %w", err)
		}
		miners = append(miners, m)
	}
	return miners, rows.Err()
}

// ReadDataboxAgeSizes summarizes advertised bytes by hour window across all
// miners, oldest first.
func (s *Store) ReadDataboxAgeSizes(ctx context.Context) ([]DataboxAgeSize, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.source, b.time_bucket_id, SUM(b.size_bytes)
		FROM buckets b
		GROUP BY b.source, b.time_bucket_id
		ORDER BY b.source, b.time_bucket_id`)
	if err != nil {
		return nil, fmt.Errorf("read databox age sizes: %w", err)
	}
	defer rows.Close()

	var sizes []DataboxAgeSize
	for rows.Next() {
		var (
			source int64
			row    DataboxAgeSize
		)
		if err := rows.Scan(&source, &row.TimeBucketID, &row.ContentSizeBytes); err != nil {
			return nil, fmt.Errorf("scan databox age size: %w", err)
		}
		row.Source = data.DataSource(source)
		sizes = append(sizes, row)
	}
	return sizes, rows.Err()
}

// ReadDataboxLabelSizes summarizes advertised bytes by label across all
// miners, largest first.
func (s *Store) ReadDataboxLabelSizes(ctx context.Context) ([]DataboxLabelSize, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.source, l.label_key, SUM(b.size_bytes) AS total
		FROM buckets b
		JOIN labels l ON l.id = b.label_id
		GROUP BY b.source, b.label_id
		ORDER BY total DESC`)
	if err != nil {
		return nil, fmt.Errorf("read databox label sizes: %w", err)
	}
	defer rows.Close()

	var sizes []DataboxLabelSize
	for rows.Next() {
		var (
			source   int64
			labelKey string
			row      DataboxLabelSize
		)
		if err := rows.Scan(&source, &labelKey, &row.ContentSizeBytes); err != nil {
			return nil, fmt.Errorf("scan databox label size: %w", err)
		}
		row.Source = data.DataSource(source)
		if label := data.LabelFromKey(labelKey); label != nil {
			row.Label = label.Value
		}
		sizes = append(sizes, row)
	}
	return sizes, rows.Err()
}
