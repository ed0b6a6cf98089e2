package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// SnapshotRecord is a persisted feed snapshot. Payload is opaque to the
// store; the feed encodes it.
type SnapshotRecord struct {
	FeedKey   string    `json:"feed_key"`
	Version   uint64    `json:"version"`
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store abstracts persistence for feed snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error
	// LatestSnapshot returns nil, nil when nothing was stored for feedKey.
	LatestSnapshot(ctx context.Context, feedKey string) (*SnapshotRecord, error)
	// ListSnapshots returns up to limit records, newest first.
	ListSnapshots(ctx context.Context, feedKey string, limit int) ([]SnapshotRecord, error)
	Close() error
}
