package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/filter"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/components/scraper"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

// Source yields the newest listings for a city.
type Source interface {
	Name() string
	Scrape(city string) ([]types.Listing, error)
}

// Store records listings and tracks their triage state.
type Store interface {
	RecordIfNew(listing *types.Listing) (*types.TriageRecord, bool, error)
	SetPrimaryMessageID(recordID, messageID string) error
}

// Publisher posts a listing to the pending channel and returns the
// message identifier.
type Publisher interface {
	Publish(listing *types.Listing, record *types.TriageRecord) (string, error)
}

// CycleStats summarizes one scrape cycle across all cities.
type CycleStats struct {
	Scraped   int
	Filtered  int
	New       int
	Posted    int
	CityError int
}

// Scheduler drives the periodic scrape-dedup-post cycle over every
// registered source. Cycles never overlap: a tick that fires while the
// previous cycle is still running is dropped.
type Scheduler struct {
	sources   []Source
	store     Store
	publisher Publisher
	filter    *filter.Filter
	cities    []string
	interval  time.Duration
	log       *slog.Logger

	paused  *atomic.Bool
	running atomic.Bool
}

func New(sources []Source, store Store, publisher Publisher, f *filter.Filter, cities []string, interval time.Duration, paused *atomic.Bool, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sources:   sources,
		store:     store,
		publisher: publisher,
		filter:    f,
		cities:    cities,
		interval:  interval,
		log:       log,
		paused:    paused,
	}
}

// Start runs one immediate cycle then ticks at the configured interval
// until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval, "cities", len(s.cities))

	s.runIfActive(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runIfActive(ctx)
			// A tick that came due while the cycle ran is stale; drop
			// it so slow cycles are skipped over, not queued up.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (s *Scheduler) runIfActive(ctx context.Context) {
	if s.paused != nil && s.paused.Load() {
		s.log.Debug("cycle skipped, paused")
		return
	}
	s.RunCycle(ctx)
}

// RunCycle scrapes every configured city once. A failing city is
// logged and skipped; the remaining cities still run.
func (s *Scheduler) RunCycle(ctx context.Context) CycleStats {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("cycle still running, tick dropped")
		return CycleStats{}
	}
	defer s.running.Store(false)

	start := time.Now()
	var stats CycleStats
	for _, source := range s.sources {
		for _, city := range s.cities {
			if ctx.Err() != nil {
				break
			}
			if err := s.scrapeCity(ctx, source, city, &stats); err != nil {
				stats.CityError++
				s.logCityError(source, city, err)
			}
		}
	}

	s.log.Info("cycle finished",
		"duration", time.Since(start).Round(time.Millisecond),
		"scraped", stats.Scraped,
		"filtered", stats.Filtered,
		"new", stats.New,
		"posted", stats.Posted,
		"city_errors", stats.CityError,
	)
	return stats
}

func (s *Scheduler) scrapeCity(ctx context.Context, source Source, city string, stats *CycleStats) error {
	listings, err := source.Scrape(city)
	if err != nil {
		return err
	}
	stats.Scraped += len(listings)

	for i := range listings {
		if ctx.Err() != nil {
			return nil
		}
		listing := &listings[i]

		keep, reason := s.filter.Keep(listing)
		if !keep {
			stats.Filtered++
			s.log.Debug("listing filtered", "external_id", listing.ExternalID, "reason", reason)
			continue
		}

		record, isNew, err := s.store.RecordIfNew(listing)
		if err != nil {
			s.log.Error("record listing", "external_id", listing.ExternalID, "error", err)
			continue
		}
		if !isNew {
			continue
		}
		stats.New++

		messageID, err := s.publisher.Publish(listing, record)
		if err != nil {
			// The listing stays recorded; it will not be reposted.
			s.log.Error("publish listing", "external_id", listing.ExternalID, "error", err)
			continue
		}
		stats.Posted++

		if err := s.store.SetPrimaryMessageID(record.ID, messageID); err != nil {
			s.log.Error("save message id", "record_id", record.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) logCityError(source Source, city string, err error) {
	var fetchErr *scraper.FetchError
	switch {
	case errors.As(err, &fetchErr) && fetchErr.Kind == scraper.KindCaptcha:
		s.log.Warn("captcha challenge, city skipped; refresh session cookies",
			"source", source.Name(), "city", city)
	case errors.Is(err, scraper.ErrNoListings):
		s.log.Warn("no listings found, page layout may have changed",
			"source", source.Name(), "city", city)
	default:
		s.log.Error("city scrape failed", "source", source.Name(), "city", city, "error", err)
	}
}
