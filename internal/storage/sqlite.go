package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName("schema_migrations")
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// SQLite implements Store on a local sqlite database.
type SQLite struct {
	db      *sql.DB
	history int
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string, history int) (*SQLite, error) {
	if dsn == "" {
		dsn = "weatherfeed.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage migrate: %w", err)
	}
	return &SQLite{db: db, history: history}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) SaveSnapshot(ctx context.Context, rec SnapshotRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (feed_key, version, payload, fetched_at) VALUES (?, ?, ?, ?)`,
		rec.FeedKey, int64(rec.Version), rec.Payload, rec.FetchedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if s.history > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE feed_key = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE feed_key = ? ORDER BY id DESC LIMIT ?
			)`,
			rec.FeedKey, rec.FeedKey, s.history,
		); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) LatestSnapshot(ctx context.Context, feedKey string) (*SnapshotRecord, error) {
	list, err := s.ListSnapshots(ctx, feedKey, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *SQLite) ListSnapshots(ctx context.Context, feedKey string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_key, version, payload, fetched_at FROM snapshots WHERE feed_key = ? ORDER BY id DESC LIMIT ?`,
		feedKey, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var (
			rec     SnapshotRecord
			version int64
			fetched string
		)
		if err := rows.Scan(&rec.FeedKey, &version, &rec.Payload, &fetched); err != nil {
			return nil, err
		}
		rec.Version = uint64(version)
		if rec.FetchedAt, err = time.Parse(time.RFC3339Nano, fetched); err != nil {
			return nil, fmt.Errorf("parse fetched_at %q: %w", fetched, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
