package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gather-network/gatherx/pkg/data"
)

// scorableQuery annotates each of a miner's buckets with its scorable bytes.
// A bucket's bytes are split across every miner advertising the same slot in
// proportion to stored credibility; when no advertiser has earned any
// credibility yet the split is an even 1/N so fresh data is still scorable.
const scorableQuery = `
SELECT b.source, l.label_key, b.time_bucket_id, b.size_bytes,
       CASE
           WHEN slot.credibility_sum > 0
               THEN CAST(b.size_bytes * m.credibility / slot.credibility_sum AS INTEGER)
           ELSE b.size_bytes / slot.advertisers
       END AS scorable_bytes
FROM buckets b
JOIN miners m ON m.id = b.miner_id
JOIN labels l ON l.id = b.label_id
JOIN (
    SELECT b2.source, b2.label_id, b2.time_bucket_id,
           SUM(m2.credibility) AS credibility_sum,
           COUNT(*) AS advertisers
    FROM buckets b2
    JOIN miners m2 ON m2.id = b2.miner_id
    GROUP BY b2.source, b2.label_id, b2.time_bucket_id
) slot ON slot.source = b.source
      AND slot.label_id = b.label_id
      AND slot.time_bucket_id = b.time_bucket_id
WHERE m.hotkey = ?
ORDER BY b.source, l.label_key, b.time_bucket_id
`

// UpsertMinerIndex replaces the stored index for index.Hotkey in one
// transaction, stamping the miner row with the given credibility and the
// current time.
func (s *Store) UpsertMinerIndex(ctx context.Context, index *data.MinerIndex, credibility float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO miners (hotkey, credibility, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(hotkey) DO UPDATE SET credibility = excluded.credibility, last_updated = excluded.last_updated`,
		index.Hotkey, credibility, now,
	); err != nil {
		return fmt.Errorf("upsert miner row: %w", err)
	}

	var minerID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM miners WHERE hotkey = ?`, index.Hotkey).Scan(&minerID); err != nil {
		return fmt.Errorf("resolve miner id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE miner_id = ?`, minerID); err != nil {
		return fmt.Errorf("clear previous buckets: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO buckets (miner_id, source, label_id, time_bucket_id, size_bytes)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bucket insert: %w", err)
	}
	defer insert.Close()

	labelIDs := make(map[string]int64)
	for i := range index.DataEntityBuckets {
		bucket := &index.DataEntityBuckets[i]
		labelID, err := resolveLabel(ctx, tx, labelIDs, bucket.ID.Label.Key())
		if err != nil {
			return err
		}
		if _, err := insert.ExecContext(ctx,
			minerID, int64(bucket.ID.Source), labelID, bucket.ID.TimeBucket.ID, bucket.SizeBytes,
		); err != nil {
			return fmt.Errorf("insert bucket %s: %w", bucket.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index upsert: %w", err)
	}
	return nil
}

// UpsertCompressedMinerIndex expands the compressed form and stores it.
func (s *Store) UpsertCompressedMinerIndex(ctx context.Context, compressed *data.CompressedMinerIndex, hotkey string, credibility float64) error {
	index, err := compressed.Expand(hotkey)
	if err != nil {
		return err
	}
	return s.UpsertMinerIndex(ctx, index, credibility)
}

// ReadMinerIndex returns the stored index for hotkey with scorable-byte
// annotations, or nil when the miner has never provided one.
func (s *Store) ReadMinerIndex(ctx context.Context, hotkey string) (*data.ScorableMinerIndex, error) {
	var lastUpdated time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_updated FROM miners WHERE hotkey = ?`, hotkey).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read miner row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, scorableQuery, hotkey)
	if err != nil {
		return nil, fmt.Errorf("read scorable index: %w", err)
	}
	defer rows.Close()

	index := &data.ScorableMinerIndex{Hotkey: hotkey, LastUpdated: lastUpdated}
	for rows.Next() {
		var (
			source        int64
			labelKey      string
			timeBucketID  int64
			sizeBytes     int64
			scorableBytes int64
		)
		if err := rows.Scan(&source, &labelKey, &timeBucketID, &sizeBytes, &scorableBytes); err != nil {
			return nil, fmt.Errorf("scan scorable bucket: %w", err)
		}
		index.Buckets = append(index.Buckets, data.ScorableDataEntityBucket{
			DataEntityBucket: data.DataEntityBucket{
				ID: data.DataEntityBucketID{
					TimeBucket: data.TimeBucket{ID: timeBucketID},
					Source:     data.DataSource(source),
					Label:      data.LabelFromKey(labelKey),
				},
				SizeBytes: sizeBytes,
			},
			ScorableBytes: scorableBytes,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scorable buckets: %w", err)
	}
	return index, nil
}

// ReadMinerLastUpdated returns when the miner's index was last stored. The
// second return is false for miners never seen.
func (s *Store) ReadMinerLastUpdated(ctx context.Context, hotkey string) (time.Time, bool, error) {
	var lastUpdated time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_updated FROM miners WHERE hotkey = ?`, hotkey).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read miner last updated: %w", err)
	}
	return lastUpdated, true, nil
}

// DeleteMiner removes a retired miner's row and buckets.
func (s *Store) DeleteMiner(ctx context.Context, hotkey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin miner delete: %w", err)
	}
	defer tx.Rollback()

	var minerID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM miners WHERE hotkey = ?`, hotkey).Scan(&minerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve miner id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE miner_id = ?`, minerID); err != nil {
		return fmt.Errorf("delete miner buckets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM miners WHERE id = ?`, minerID); err != nil {
		return fmt.Errorf("delete miner row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit miner delete: %w", err)
	}
	return nil
}

func resolveLabel(ctx context.Context, tx *sql.Tx, cache map[string]int64, key string) (int64, error) {
	if id, ok := cache[key]; ok {
		return id, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO labels (label_key) VALUES (?)`, key); err != nil {
		return 0, fmt.Errorf("intern label %q: %w", key, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM labels WHERE label_key = ?`, key).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve label %q: %w", key, err)
	}
	cache[key] = id
	return id, nil
}
