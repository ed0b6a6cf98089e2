package feed_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"weatherfeed/internal/feed"
	"weatherfeed/internal/provider"
	"weatherfeed/internal/storage"
)

const testKey = "615c0b5cdb6822c4fcec3e0c800469c7"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func validOptions() map[string]string {
	return map[string]string{
		feed.OptProviderKey: testKey,
		feed.OptLocation:    "Cape Town,ZA",
	}
}

func reading(tempC float64) provider.Reading {
	return provider.Reading{
		Location:     "Cape Town",
		TemperatureC: tempC,
		FeelsLikeC:   tempC,
		HumidityPct:  55,
		PressureHPa:  1015,
		WindSpeedMS:  3,
		Condition:    "Clear",
		Source:       "OpenWeather",
		ObservedAt:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

// clock returns successive instants one minute apart starting at start.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func TestConfigure_MissingKeyFailsBeforeNetwork(t *testing.T) {
	t.Parallel()

	// Arrange: a provider that must never be touched
	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	for name, opts := range map[string]map[string]string{
		"missing": {feed.OptLocation: "Cape Town"},
		"empty":   {feed.OptProviderKey: "", feed.OptLocation: "Cape Town"},
		"blank":   {feed.OptProviderKey: "   ", feed.OptLocation: "Cape Town"},
	} {
		// Act
		svc, err := feed.Configure(opts, p, feed.WithLogger(quiet))

		// Assert
		require.Nilf(t, svc, "case %s", name)
		var ce *feed.ConfigurationError
		require.Truef(t, errors.As(err, &ce), "case %s: got %v", name, err)
		require.Equal(t, feed.OptProviderKey, ce.Field)
	}
}

func TestConfigure_MalformedOptions(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mutate func(map[string]string)
		field  string
	}{
		"key with spaces":  {func(m map[string]string) { m[feed.OptProviderKey] = "abc def ghi jkl mno" }, feed.OptProviderKey},
		"key too short":    {func(m map[string]string) { m[feed.OptProviderKey] = "abc" }, feed.OptProviderKey},
		"missing location": {func(m map[string]string) { delete(m, feed.OptLocation) }, feed.OptLocation},
		"bad coordinates":  {func(m map[string]string) { m[feed.OptLocation] = "95,200" }, feed.OptLocation},
		"bad units":        {func(m map[string]string) { m[feed.OptUnits] = "cubits" }, feed.OptUnits},
		"bad timeout":      {func(m map[string]string) { m[feed.OptTimeout] = "soon" }, feed.OptTimeout},
		"negative timeout": {func(m map[string]string) { m[feed.OptTimeout] = "-1s" }, feed.OptTimeout},
		"bad coalesce":     {func(m map[string]string) { m[feed.OptCoalesce] = "maybe" }, feed.OptCoalesce},
		"bad lang":         {func(m map[string]string) { m[feed.OptLang] = "english" }, feed.OptLang},
		"unknown option":   {func(m map[string]string) { m["apiKey"] = "x" }, "apiKey"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			p := NewMockProvider(ctrl)

			opts := validOptions()
			tc.mutate(opts)
			_, err := feed.Configure(opts, p)

			var ce *feed.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			require.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()

	opts, err := feed.ParseOptions(validOptions())
	require.NoError(t, err)
	_, err = feed.New(opts, nil)
	var ce *feed.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "provider", ce.Field)
}

func TestCurrent_EmptyBeforeFirstRefresh(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()

	svc, err := feed.Configure(validOptions(), p, feed.WithLogger(quiet))
	require.NoError(t, err)

	snap := svc.Current()
	require.True(t, snap.IsEmpty())
	require.Equal(t, feed.Empty, snap)
	require.Zero(t, snap.Age(time.Now()))
}

func TestRefresh_FailureKeepsLastGoodSnapshot(t *testing.T) {
	t.Parallel()

	// Arrange: first fetch succeeds, second fails at the transport
	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()
	netErr := errors.New("dial tcp: connection refused")
	gomock.InOrder(
		p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(reading(19.5), nil),
		p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Reading{}, netErr),
	)

	t1 := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc, err := feed.Configure(validOptions(), p, feed.WithLogger(quiet), feed.WithClock(clock(t1)))
	require.NoError(t, err)

	// Act: first refresh
	first, err := svc.Refresh(t.Context())
	require.NoError(t, err)
	require.True(t, first.FetchedAt.Equal(t1))
	require.Equal(t, uint64(1), first.Version)
	require.InDelta(t, 19.5, first.Observation.Temperature, 1e-9)
	require.Equal(t, "mock", first.Provider)
	require.Equal(t, first, svc.Current())

	// Act: second refresh fails
	_, err = svc.Refresh(t.Context())

	// Assert: typed failure, snapshot from T1 retained
	var re *feed.RetrievalError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "mock", re.Provider)
	require.ErrorIs(t, err, netErr)
	require.True(t, re.Temporary())
	require.Equal(t, first, svc.Current())
}

func TestRefresh_PermanentRetrievalError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()
	p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Reading{}, provider.ErrUnauthorized)

	svc, err := feed.Configure(validOptions(), p, feed.WithLogger(quiet))
	require.NoError(t, err)

	_, err = svc.Refresh(t.Context())
	var re *feed.RetrievalError
	require.ErrorAs(t, err, &re)
	require.False(t, re.Temporary())
	require.True(t, svc.Current().IsEmpty())
}

func TestRefresh_MalformedResponseIsParseError(t *testing.T) {
	t.Parallel()

	bad := reading(20)
	bad.HumidityPct = 150

	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()
	gomock.InOrder(
		p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(reading(20), nil),
		p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Reading{}, &provider.ParseError{Source: "mock", Err: errors.New("unexpected EOF")}),
		p.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(bad, nil),
	)

	svc, err := feed.Configure(validOptions(), p, feed.WithLogger(quiet))
	require.NoError(t, err)
	good, err := svc.Refresh(t.Context())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Refresh(t.Context())
		var pe *feed.ParseError
		require.ErrorAs(t, err, &pe)
		var re *feed.RetrievalError
		require.False(t, errors.As(err, &re), "parse errors are not retrieval errors")
		require.Equal(t, good, svc.Current())
	}
}

func TestRefresh_AppliesUnits(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()
	p.EXPECT().
		Fetch(gomock.Any(), provider.Query{Location: provider.Location{Lat: -33.92, Lon: 18.42, HasCoords: true}, Lang: "en"}).
		Return(reading(100), nil)

	opts := validOptions()
	opts[feed.OptLocation] = "-33.92,18.42"
	opts[feed.OptUnits] = "imperial"
	svc, err := feed.Configure(opts, p, feed.WithLogger(quiet))
	require.NoError(t, err)

	snap, err := svc.Refresh(t.Context())
	require.NoError(t, err)
	require.InDelta(t, 212.0, snap.Observation.Temperature, 1e-9)
	require.Equal(t, "°F", snap.Observation.TempUnit)
	require.Equal(t, "-33.9200,18.4200|imperial", svc.FeedKey())
	require.Empty(t, svc.Options().ProviderKey)
}

// fakeProvider counts concurrent fetches.
type fakeProvider struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(ctx context.Context, _ provider.Query) (provider.Reading, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	c := f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return provider.Reading{}, ctx.Err()
		}
	}
	time.Sleep(f.delay)
	return reading(float64(c)), nil
}

func TestRefresh_SerializedAndMonotonic(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{delay: time.Millisecond}
	svc, err := feed.Configure(validOptions(), f, feed.WithLogger(quiet), feed.WithClock(clock(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)

	// Arrange: a reader that checks versions never go backwards
	done := make(chan struct{})
	readerErr := make(chan error, 1)
	go func() {
		var last feed.Snapshot
		for {
			select {
			case <-done:
				readerErr <- nil
				return
			default:
			}
			cur := svc.Current()
			if cur.Version < last.Version || cur.FetchedAt.Before(last.FetchedAt) {
				readerErr <- errors.New("snapshot went backwards")
				return
			}
			last = cur
		}
	}()

	// Act: many concurrent refreshes
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(done)

	// Assert
	require.NoError(t, <-readerErr)
	require.Equal(t, int32(1), f.maxSeen.Load(), "at most one round-trip at a time")
	require.Equal(t, int32(n), f.calls.Load())
	require.Equal(t, uint64(n), svc.Current().Version)
}

func TestRefresh_WaitingCallerGivesUp(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc, err := feed.Configure(validOptions(), f, feed.WithLogger(quiet))
	require.NoError(t, err)

	// Arrange: one refresh is in flight
	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		firstDone <- err
	}()
	<-f.entered

	// Act: a second caller with a short deadline queues behind it
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Refresh(ctx)

	// Assert: the waiter fails without touching the provider
	var re *feed.RetrievalError
	require.ErrorAs(t, err, &re)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(1), f.calls.Load())

	close(f.block)
	require.NoError(t, <-firstDone)
	require.Equal(t, uint64(1), svc.Current().Version)
}

func TestRefresh_Timeout(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{block: make(chan struct{})}
	opts := validOptions()
	opts[feed.OptTimeout] = "20ms"
	svc, err := feed.Configure(opts, f, feed.WithLogger(quiet))
	require.NoError(t, err)

	_, err = svc.Refresh(t.Context())
	var re *feed.RetrievalError
	require.ErrorAs(t, err, &re)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, re.Temporary())
	require.True(t, svc.Current().IsEmpty())
}

func TestRefresh_CoalescedCallersShareRoundTrip(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	opts := validOptions()
	opts[feed.OptCoalesce] = "true"
	svc, err := feed.Configure(opts, f, feed.WithLogger(quiet))
	require.NoError(t, err)

	const n = 5
	results := make(chan feed.Snapshot, n)
	go func() {
		s, err := svc.Refresh(context.Background())
		assert.NoError(t, err)
		results <- s
	}()
	<-f.entered
	for i := 1; i < n; i++ {
		go func() {
			s, err := svc.Refresh(context.Background())
			assert.NoError(t, err)
			results <- s
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.block)

	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, (<-results).ID.String())
	}
	require.Equal(t, int32(1), f.calls.Load())
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestSubscribe_LatestWins(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{}
	svc, err := feed.Configure(validOptions(), f, feed.WithLogger(quiet))
	require.NoError(t, err)

	ch, cancel := svc.Subscribe(1)
	for i := 0; i < 3; i++ {
		_, err := svc.Refresh(t.Context())
		require.NoError(t, err)
	}

	// Assert: the slow subscriber sees the newest snapshot
	got := <-ch
	require.Equal(t, uint64(3), got.Version)

	cancel()
	_, ok := <-ch
	require.False(t, ok)
	cancel() // idempotent
}

func TestClose(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{}
	svc, err := feed.Configure(validOptions(), f, feed.WithLogger(quiet))
	require.NoError(t, err)
	_, err = svc.Refresh(t.Context())
	require.NoError(t, err)
	ch, _ := svc.Subscribe(1)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	require.True(t, svc.Current().IsEmpty())
	_, err = svc.Refresh(t.Context())
	require.ErrorIs(t, err, feed.ErrClosed)
	_, ok := <-ch
	require.False(t, ok)

	late, _ := svc.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(10)

	// Arrange: a previous process published and persisted a snapshot
	prev, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
	require.NoError(t, err)
	published, err := prev.Refresh(t.Context())
	require.NoError(t, err)

	// Act: a new service with the same configuration restores it
	next, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
	require.NoError(t, err)
	ok, err := next.Restore(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, published.ID, next.Current().ID)
	require.Equal(t, published.Version, next.Current().Version)

	// Assert: versions continue from the restored snapshot
	snap, err := next.Refresh(t.Context())
	require.NoError(t, err)
	require.Equal(t, published.Version+1, snap.Version)

	// Assert: a different credential does not pick it up
	other := validOptions()
	other[feed.OptProviderKey] = "ffffffffffffffffffffffffffffffff"
	stranger, err := feed.Configure(other, &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
	require.NoError(t, err)
	ok, err = stranger.Restore(t.Context())
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, stranger.Current().IsEmpty())
}

type failingStore struct{ storage.Store }

func (failingStore) SaveSnapshot(context.Context, storage.SnapshotRecord) error {
	return errors.New("disk full")
}

func TestRefresh_PersistFailureDoesNotFailRefresh(t *testing.T) {
	t.Parallel()

	svc, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(failingStore{}))
	require.NoError(t, err)
	snap, err := svc.Refresh(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.Version)
}

func TestRefresh_PassesLanguageToProvider(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := NewMockProvider(ctrl)
	p.EXPECT().Name().Return("mock").AnyTimes()
	p.EXPECT().
		Fetch(gomock.Any(), provider.Query{Location: provider.Location{Query: "Maputo"}, Lang: "pt_br"}).
		Return(reading(27), nil)

	opts := validOptions()
	opts[feed.OptLocation] = "Maputo"
	opts[feed.OptLang] = "PT_BR"
	svc, err := feed.Configure(opts, p, feed.WithLogger(quiet))
	require.NoError(t, err)

	_, err = svc.Refresh(t.Context())
	require.NoError(t, err)
}

func TestRefresh_CoalescedJoinerSurvivesLeaderCancel(t *testing.T) {
	t.Parallel()

	f := &fakeProvider{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	opts := validOptions()
	opts[feed.OptCoalesce] = "true"
	svc, err := feed.Configure(opts, f, feed.WithLogger(quiet))
	require.NoError(t, err)

	// Arrange: a leader starts the round-trip, a joiner attaches to it
	leaderCtx, cancelLeader := context.WithCancel(t.Context())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(leaderCtx)
		leaderErr <- err
	}()
	<-f.entered

	joined := make(chan feed.Snapshot, 1)
	joinErr := make(chan error, 1)
	go func() {
		s, err := svc.Refresh(t.Context())
		joinErr <- err
		joined <- s
	}()
	time.Sleep(50 * time.Millisecond)

	// Act: the leader goes away, then the provider answers
	cancelLeader()
	var re *feed.RetrievalError
	require.ErrorAs(t, <-leaderErr, &re)
	require.ErrorIs(t, re, context.Canceled)
	close(f.block)

	// Assert: the joiner still gets the published snapshot
	require.NoError(t, <-joinErr)
	require.Equal(t, uint64(1), (<-joined).Version)
	require.Equal(t, int32(1), f.calls.Load())
	require.Equal(t, uint64(1), svc.Current().Version)
}

func TestRestore_NeverResurrectsAfterClose(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(10)
	seed, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
	require.NoError(t, err)
	_, err = seed.Refresh(t.Context())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		svc, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Restore(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = svc.Close()
		}()
		wg.Wait()

		require.True(t, svc.Current().IsEmpty(), "iteration %d", i)
	}

	closed, err := feed.Configure(validOptions(), &fakeProvider{}, feed.WithLogger(quiet), feed.WithStore(store))
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	ok, err := closed.Restore(t.Context())
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, closed.Current().IsEmpty())
}
