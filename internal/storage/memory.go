package storage

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. Records are kept oldest first.
type Memory struct {
	mu      sync.RWMutex
	history int
	byKey   map[string][]SnapshotRecord
}

func NewMemory(history int) *Memory {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Memory{history: history, byKey: make(map[string][]SnapshotRecord)}
}

func (m *Memory) SaveSnapshot(_ context.Context, rec SnapshotRecord) error {
	rec.Payload = slices.Clone(rec.Payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.byKey[rec.FeedKey], rec)
	if len(list) > m.history {
		list = slices.Clone(list[len(list)-m.history:])
	}
	m.byKey[rec.FeedKey] = list
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, feedKey string) (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byKey[feedKey]
	if len(list) == 0 {
		return nil, nil
	}
	rec := list[len(list)-1]
	rec.Payload = slices.Clone(rec.Payload)
	return &rec, nil
}

func (m *Memory) ListSnapshots(_ context.Context, feedKey string, limit int) ([]SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byKey[feedKey]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]SnapshotRecord, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		rec := list[i]
		rec.Payload = slices.Clone(rec.Payload)
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
