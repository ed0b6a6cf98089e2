package feed

import (
	"time"

	"github.com/google/uuid"
	"weatherfeed/internal/aggregate"
)

// Snapshot is the last successfully retrieved observation. Snapshots are
// never modified after they are published.
type Snapshot struct {
	ID          uuid.UUID             `json:"id"`
	Version     uint64                `json:"version"`
	Observation aggregate.Observation `json:"observation"`
	FetchedAt   time.Time             `json:"fetched_at"`
	KeyID       string                `json:"key_id"`
	Provider    string                `json:"provider"`
}

// Empty is returned by Current before the first successful refresh.
var Empty Snapshot

func (s Snapshot) IsEmpty() bool { return s.Version == 0 }

// Age is the time elapsed since the snapshot was fetched.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.IsEmpty() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}
