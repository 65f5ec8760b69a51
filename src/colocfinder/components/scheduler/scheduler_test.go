package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/filter"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/scraper"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

type fakeSource struct {
	mu       sync.Mutex
	listings map[string][]types.Listing
	errs     map[string]error
	calls    []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Scrape(city string) ([]types.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, city)
	if err := f.errs[city]; err != nil {
		return nil, err
	}
	return f.listings[city], nil
}

type fakeStore struct {
	mu         sync.Mutex
	seen       map[string]*types.TriageRecord
	messageIDs map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		seen:       make(map[string]*types.TriageRecord),
		messageIDs: make(map[string]string),
	}
}

func (f *fakeStore) RecordIfNew(listing *types.Listing) (*types.TriageRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.seen[listing.ExternalID]; ok {
		return rec, false, nil
	}
	rec := &types.TriageRecord{ID: "rec-" + listing.ExternalID, ExternalID: listing.ExternalID, State: types.StatePending}
	f.seen[listing.ExternalID] = rec
	return rec, true, nil
}

func (f *fakeStore) SetPrimaryMessageID(recordID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageIDs[recordID] = messageID
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *fakePublisher) Publish(listing *types.Listing, record *types.TriageRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, listing.ExternalID)
	return "msg-" + listing.ExternalID, nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestScheduler(source Source, store Store, pub Publisher, cities []string, paused *atomic.Bool) *Scheduler {
	f := filter.New(filter.Config{MinRooms: 1, MaxListingAge: 0})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New([]Source{source}, store, pub, f, cities, time.Hour, paused, log)
}

func listing(externalID string) types.Listing {
	rooms := 2
	return types.Listing{ExternalID: externalID, City: "Rennes", Title: "T2", Rooms: &rooms}
}

func TestRunCyclePostsOnlyNewListings(t *testing.T) {
	source := &fakeSource{listings: map[string][]types.Listing{
		"Rennes": {listing("fake_42")},
	}}
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestScheduler(source, store, pub, []string{"Rennes"}, nil)

	stats := s.RunCycle(context.Background())
	if stats.New != 1 || stats.Posted != 1 {
		t.Fatalf("first cycle stats = %+v; want 1 new, 1 posted", stats)
	}
	if store.messageIDs["rec-fake_42"] != "msg-fake_42" {
		t.Errorf("primary message id not recorded: %v", store.messageIDs)
	}

	stats = s.RunCycle(context.Background())
	if stats.New != 0 || stats.Posted != 0 {
		t.Fatalf("second cycle stats = %+v; want nothing new", stats)
	}
	if pub.count() != 1 {
		t.Fatalf("listing published %d times; want once", pub.count())
	}
}

func TestRunCycleAppliesFilter(t *testing.T) {
	one := 1
	old := listing("fake_1")
	old.Rooms = &one

	source := &fakeSource{listings: map[string][]types.Listing{
		"Rennes": {old, listing("fake_2")},
	}}
	store := newFakeStore()
	pub := &fakePublisher{}

	f := filter.New(filter.Config{MinRooms: 2})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New([]Source{source}, store, pub, f, []string{"Rennes"}, time.Hour, nil, log)

	stats := s.RunCycle(context.Background())
	if stats.Filtered != 1 || stats.Posted != 1 {
		t.Fatalf("stats = %+v; want 1 filtered, 1 posted", stats)
	}
}

func TestRunCycleContinuesAfterCityFailure(t *testing.T) {
	source := &fakeSource{
		listings: map[string][]types.Listing{
			"Lyon": {listing("fake_7")},
		},
		errs: map[string]error{
			"Paris": &scraper.FetchError{Kind: scraper.KindCaptcha, City: "Paris", Err: errors.New("challenge")},
		},
	}
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestScheduler(source, store, pub, []string{"Paris", "Lyon"}, nil)

	stats := s.RunCycle(context.Background())
	if stats.CityError != 1 {
		t.Fatalf("city errors = %d; want 1", stats.CityError)
	}
	if stats.Posted != 1 {
		t.Fatalf("posted = %d; want Lyon still processed", stats.Posted)
	}
	if len(source.calls) != 2 {
		t.Fatalf("scrape calls = %v; want both cities attempted", source.calls)
	}
}

func TestRunCyclePublishFailureDoesNotRepost(t *testing.T) {
	source := &fakeSource{listings: map[string][]types.Listing{
		"Rennes": {listing("fake_9")},
	}}
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("discord down")}
	s := newTestScheduler(source, store, pub, []string{"Rennes"}, nil)

	stats := s.RunCycle(context.Background())
	if stats.New != 1 || stats.Posted != 0 {
		t.Fatalf("stats = %+v; want recorded but not posted", stats)
	}

	// Recovery posts nothing: the listing is recorded and stays silent.
	pub.err = nil
	stats = s.RunCycle(context.Background())
	if stats.Posted != 0 {
		t.Fatalf("posted = %d after recovery; want 0", stats.Posted)
	}
}

func TestPausedSkipsCycle(t *testing.T) {
	source := &fakeSource{listings: map[string][]types.Listing{
		"Rennes": {listing("fake_1")},
	}}
	store := newFakeStore()
	pub := &fakePublisher{}
	var paused atomic.Bool
	paused.Store(true)
	s := newTestScheduler(source, store, pub, []string{"Rennes"}, &paused)

	s.runIfActive(context.Background())
	if len(source.calls) != 0 {
		t.Fatalf("scrape calls while paused = %v; want none", source.calls)
	}

	paused.Store(false)
	s.runIfActive(context.Background())
	if pub.count() != 1 {
		t.Fatalf("posted = %d after resume; want 1", pub.count())
	}
}

func TestRunCycleNoOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	source := &fakeSource{listings: map[string][]types.Listing{}}
	blocky := &blockingSource{inner: source, started: started, release: release}
	store := newFakeStore()
	pub := &fakePublisher{}
	s := newTestScheduler(blocky, store, pub, []string{"Rennes"}, nil)

	done := make(chan CycleStats)
	go func() { done <- s.RunCycle(context.Background()) }()
	<-started

	overlapping := s.RunCycle(context.Background())
	if overlapping.Scraped != 0 || overlapping.CityError != 0 {
		t.Fatalf("overlapping cycle ran: %+v", overlapping)
	}

	close(release)
	<-done
}

type blockingSource struct {
	inner   Source
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Name() string { return b.inner.Name() }

func (b *blockingSource) Scrape(city string) ([]types.Listing, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.inner.Scrape(city)
}

type slowSource struct {
	delay time.Duration
	mu    sync.Mutex
	stamp []time.Time
}

func (s *slowSource) Name() string { return "slow" }

func (s *slowSource) Scrape(city string) ([]types.Listing, error) {
	s.mu.Lock()
	s.stamp = append(s.stamp, time.Now())
	s.mu.Unlock()
	time.Sleep(s.delay)
	return nil, nil
}

func (s *slowSource) starts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.stamp...)
}

// A tick that comes due while a cycle is still running must be skipped
// over, not queued: with cycles longer than the interval, consecutive
// cycle starts are two intervals apart, never back to back.
func TestStartSkipsTickDuringRunningCycle(t *testing.T) {
	const interval = 100 * time.Millisecond
	const cycleTime = 150 * time.Millisecond

	source := &slowSource{delay: cycleTime}
	store := newFakeStore()
	pub := &fakePublisher{}
	f := filter.New(filter.Config{MinRooms: 1})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New([]Source{source}, store, pub, f, []string{"Rennes"}, interval, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for len(source.starts()) < 4 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatalf("only %d cycles ran before the deadline", len(source.starts()))
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	// The first gap spans the initial immediate cycle; judge the
	// ticker-driven ones. Queued ticks would shrink the gap to the
	// cycle duration.
	starts := source.starts()
	minGap := interval + cycleTime/2
	for i := 2; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < minGap {
			t.Errorf("cycle %d started %v after cycle %d; want at least %v", i, gap, i-1, minGap)
		}
	}
}
