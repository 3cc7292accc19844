// Package stats is the ClickHouse store for network inventory snapshots.
// The validator's databox job writes a snapshot of its local index here on a
// fixed cadence; the gateway serves its stats API from the same tables.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/db/clickhouse"
	"github.com/gather-network/gatherx/pkg/utils"
)

// DB represents the stats database and provides snapshot writes and reads.
type DB struct {
	clickhouse.Client
	Name          string
	retentionDays int
}

// New connects to ClickHouse and initializes the stats database.
//
// Environment variables:
//   - STATS_DB: database name (default: "gatherx_stats")
//   - STATS_RETENTION_DAYS: snapshot TTL in days (default: 30)
func New(ctx context.Context, logger *zap.Logger) (*DB, error) {
	dbName := clickhouse.SanitizeName(utils.Env("STATS_DB", "gatherx_stats"))

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", dbName)), dbName)
	if err != nil {
		return nil, err
	}

	statsDB := &DB{
		Client:        client,
		Name:          dbName,
		retentionDays: utils.EnvInt("STATS_RETENTION_DAYS", 30),
	}

	if err := statsDB.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return statsDB, nil
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}

// GetConnection returns the underlying ClickHouse driver connection.
func (db *DB) GetConnection() driver.Conn {
	return db.Db
}

// DatabaseName returns the ClickHouse database backing the stats store.
func (db *DB) DatabaseName() string {
	return db.Name
}

// InitializeDB ensures the stats database and its snapshot tables exist, then
// moves the connection onto the target database.
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing stats database", zap.String("database", db.Name))

	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	if err := db.initMinerSnapshots(ctx); err != nil {
		return err
	}
	if err := db.initLabelSizeSnapshots(ctx); err != nil {
		return err
	}
	if err := db.initAgeSizeSnapshots(ctx); err != nil {
		return err
	}

	return db.SwitchToTargetDatabase(ctx)
}

// LatestSnapshotTime returns the timestamp of the most recent snapshot, or the
// zero time when no snapshot has been written yet.
func (db *DB) LatestSnapshotTime(ctx context.Context) (time.Time, error) {
	var at time.Time
	if err := db.QueryRow(ctx, `SELECT max(snapshot_at) FROM miner_snapshots`).Scan(&at); err != nil {
		return time.Time{}, fmt.Errorf("latest snapshot time: %w", err)
	}
	// max() over an empty MergeTree yields the epoch, not NULL.
	if at.Unix() <= 0 {
		return time.Time{}, nil
	}
	return at, nil
}
