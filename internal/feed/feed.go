// Package feed keeps the last known good weather snapshot for one location
// and refreshes it on demand from a provider.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"weatherfeed/internal/aggregate"
	"weatherfeed/internal/metrics"
	"weatherfeed/internal/provider"
	"weatherfeed/internal/storage"
)

// Store persists published snapshots. storage.Store satisfies it.
type Store interface {
	SaveSnapshot(ctx context.Context, rec storage.SnapshotRecord) error
	LatestSnapshot(ctx context.Context, feedKey string) (*storage.SnapshotRecord, error)
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore persists every published snapshot and enables Restore.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithClock overrides the clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

const persistTimeout = 5 * time.Second

// Service mediates between one provider and its readers.
type Service struct {
	opts     Options
	provider provider.Provider
	logger   *slog.Logger
	store    Store
	now      func() time.Time
	feedKey  string
	keyID    string

	sem     *semaphore.Weighted
	sf      singleflight.Group
	current atomic.Pointer[Snapshot]
	closed  atomic.Bool

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// Configure parses named options and builds a Service. It never contacts
// the provider.
func Configure(options map[string]string, p provider.Provider, fns ...Option) (*Service, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, err
	}
	return New(opts, p, fns...)
}

func New(opts Options, p provider.Provider, fns ...Option) (*Service, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &ConfigurationError{Field: "provider", Reason: "required"}
	}
	s := &Service{
		opts:     opts,
		provider: p,
		logger:   slog.Default(),
		now:      time.Now,
		feedKey:  opts.FeedKey(),
		keyID:    opts.KeyID(),
		sem:      semaphore.NewWeighted(1),
		subs:     make(map[int]chan Snapshot),
	}
	for _, fn := range fns {
		fn(s)
	}
	s.logger = s.logger.With("feed", s.feedKey, "provider", p.Name())
	return s, nil
}

// FeedKey identifies this feed in storage and metrics.
func (s *Service) FeedKey() string { return s.feedKey }

// Options returns the configuration with the credential removed.
func (s *Service) Options() Options {
	o := s.opts
	o.ProviderKey = ""
	return o
}

// Current returns the latest snapshot, or Empty if none exists yet.
func (s *Service) Current() Snapshot {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return Empty
}

// Refresh fetches a new observation and publishes it. On failure the
// current snapshot is left untouched and the error is a *RetrievalError or
// a *ParseError. Refreshes are serialized; a caller waiting for its turn
// gives up when ctx is done.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	if s.closed.Load() {
		return Empty, ErrClosed
	}
	if !s.opts.Coalesce {
		return s.refresh(ctx)
	}
	// The shared round-trip outlives any single caller; each caller stops
	// waiting on its own ctx, and the refresh stays bounded by the timeout.
	shared := context.WithoutCancel(ctx)
	ch := s.sf.DoChan("refresh", func() (any, error) {
		return s.refresh(shared)
	})
	select {
	case <-ctx.Done():
		return Empty, &RetrievalError{Provider: s.provider.Name(), Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Empty, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (s *Service) refresh(ctx context.Context) (Snapshot, error) {
	name := s.provider.Name()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Empty, &RetrievalError{Provider: name, Err: err}
	}
	defer s.sem.Release(1)
	if s.closed.Load() {
		return Empty, ErrClosed
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	started := time.Now()
	r, err := s.provider.Fetch(fctx, provider.Query{Location: s.opts.Location, Lang: s.opts.Lang})
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			metrics.ObserveRefresh(name, metrics.ResultParse, started)
			s.logger.Warn("refresh: malformed provider response", "error", err)
			return Empty, err
		}
		metrics.ObserveRefresh(name, metrics.ResultRetrieval, started)
		s.logger.Warn("refresh: retrieval failed", "error", err)
		return Empty, &RetrievalError{Provider: name, Err: err}
	}

	obs, err := aggregate.Normalize(r, s.opts.Units)
	if err != nil {
		metrics.ObserveRefresh(name, metrics.ResultParse, started)
		s.logger.Warn("refresh: rejected reading", "error", err)
		return Empty, err
	}

	next := &Snapshot{
		ID:          uuid.New(),
		Version:     1,
		Observation: obs,
		FetchedAt:   s.now().UTC(),
		KeyID:       s.keyID,
		Provider:    name,
	}
	if prev := s.current.Load(); prev != nil {
		next.Version = prev.Version + 1
		if next.FetchedAt.Before(prev.FetchedAt) {
			next.FetchedAt = prev.FetchedAt
		}
	}
	s.current.Store(next)

	metrics.ObserveRefresh(name, metrics.ResultOK, started)
	metrics.UpdateSnapshot(s.feedKey, next.Version, next.FetchedAt)
	s.logger.Info("refresh: published snapshot",
		"version", next.Version,
		"id", next.ID,
		"temperature", obs.Temperature,
		"condition", obs.Condition,
		"duration", time.Since(started),
	)

	s.publish(*next)
	s.persist(ctx, *next)
	return *next, nil
}

// persist is best effort; a storage failure never fails a refresh.
func (s *Service) persist(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("persist: encode snapshot", "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err = s.store.SaveSnapshot(pctx, storage.SnapshotRecord{
		FeedKey:   s.feedKey,
		Version:   snap.Version,
		Payload:   payload,
		FetchedAt: snap.FetchedAt,
	})
	if err != nil {
		s.logger.Warn("persist: save snapshot", "version", snap.Version, "error", err)
	}
}

// Restore installs the latest stored snapshot when nothing has been
// published yet. Snapshots fetched with a different credential are ignored.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	rec, err := s.store.LatestSnapshot(ctx, s.feedKey)
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		return false, fmt.Errorf("restore: decode snapshot: %w", err)
	}
	if snap.IsEmpty() || snap.KeyID != s.keyID {
		s.logger.Info("restore: skipping stored snapshot", "version", snap.Version, "key_id", snap.KeyID)
		return false, nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	defer s.sem.Release(1)
	if s.closed.Load() || !s.current.CompareAndSwap(nil, &snap) {
		return false, nil
	}
	metrics.UpdateSnapshot(s.feedKey, snap.Version, snap.FetchedAt)
	s.logger.Info("restore: installed stored snapshot", "version", snap.Version, "fetched_at", snap.FetchedAt)
	return true, nil
}

// Subscribe delivers every published snapshot to the returned channel.
// Delivery never blocks Refresh: a subscriber that falls behind only sees
// the most recent snapshots. cancel closes the channel.
func (s *Service) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.subMu.Lock()
	if s.closed.Load() {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Service) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// full: drop the oldest pending snapshot
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close discards the current snapshot and closes all subscriptions. An
// in-flight refresh is allowed to finish first; later refreshes fail with
// ErrClosed.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.sem.Acquire(context.Background(), 1)
	s.current.Store(nil)
	s.sem.Release(1)

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()
	s.logger.Info("feed closed")
	return nil
}
