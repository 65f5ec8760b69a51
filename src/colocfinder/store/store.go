package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("store: record not found")
	// ErrAlreadyDecided is returned by Transition when the record has
	// already left the pending state. It is a defined outcome, not a
	// failure: callers treat it as an idempotent no-op.
	ErrAlreadyDecided = errors.New("store: listing already triaged")
)

// errSeen short-circuits the RecordIfNew transaction when the listing
// already exists.
var errSeen = errors.New("store: already recorded")

// Stats summarizes the triage table for /status.
type Stats struct {
	Total       int64
	Pending     int64
	Interesting int64
	NotGood     int64
}

// Store is the durable dedup and triage state. Mutating operations are
// serialized through a single mutex on top of SQLite transactions; reads
// go straight to the database.
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	log *slog.Logger
}

func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&types.Listing{}, &types.TriageRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// RecordIfNew inserts the listing together with a pending TriageRecord
// if its ExternalID has never been seen, and reports whether it was new.
// At most one call per ExternalID ever returns isNew=true, including
// under concurrent calls.
func (s *Store) RecordIfNew(listing *types.Listing) (*types.TriageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec types.TriageRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&rec, "external_id = ?", listing.ExternalID).Error
		if err == nil {
			return errSeen
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		listing.ScrapedAt = now
		if err := tx.Create(listing).Error; err != nil {
			return err
		}

		rec = types.TriageRecord{
			ID:             uuid.NewString(),
			ExternalID:     listing.ExternalID,
			FirstSeenAt:    now,
			State:          types.StatePending,
			StateChangedAt: now,
		}
		return tx.Create(&rec).Error
	})

	if errors.Is(err, errSeen) {
		return &rec, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: record %s: %w", listing.ExternalID, err)
	}

	s.log.Debug("recorded new listing", "external_id", listing.ExternalID, "record_id", rec.ID)
	return &rec, true, nil
}

// Get returns the triage record for a listing ExternalID.
func (s *Store) Get(externalID string) (*types.TriageRecord, error) {
	var rec types.TriageRecord
	if err := s.db.First(&rec, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", externalID, err)
	}
	return &rec, nil
}

// GetByRecordID returns the triage record by its UUID (as carried in
// button custom IDs).
func (s *Store) GetByRecordID(id string) (*types.TriageRecord, error) {
	var rec types.TriageRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get record %s: %w", id, err)
	}
	return &rec, nil
}

// GetListing returns the stored listing for re-display.
func (s *Store) GetListing(externalID string) (*types.Listing, error) {
	var l types.Listing
	if err := s.db.First(&l, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get listing %s: %w", externalID, err)
	}
	return &l, nil
}

// Transition moves a pending record to a decided state. It is
// idempotent: a record that has already been decided is left untouched
// and ErrAlreadyDecided is returned.
func (s *Store) Transition(recordID, newState, actor string) (*types.TriageRecord, error) {
	if newState != types.StateInteresting && newState != types.StateNotGood {
		return nil, fmt.Errorf("store: invalid triage state %q", newState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec types.TriageRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "id = ?", recordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if rec.Decided() {
			return ErrAlreadyDecided
		}

		rec.State = newState
		rec.StateChangedAt = time.Now().UTC()
		rec.DecidedBy = actor
		return tx.Model(&rec).Updates(map[string]interface{}{
			"state":            rec.State,
			"state_changed_at": rec.StateChangedAt,
			"decided_by":       rec.DecidedBy,
		}).Error
	})

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyDecided) {
		return &rec, err
	}
	if err != nil {
		return nil, fmt.Errorf("store: transition %s: %w", recordID, err)
	}
	return &rec, nil
}

// SetPrimaryMessageID records the Discord message posted to the main
// channel for a record.
func (s *Store) SetPrimaryMessageID(recordID, messageID string) error {
	return s.setMessageID(recordID, "primary_message_id", messageID)
}

// SetSecondaryMessageID records the mirrored message in the interesting
// channel.
func (s *Store) SetSecondaryMessageID(recordID, messageID string) error {
	return s.setMessageID(recordID, "secondary_message_id", messageID)
}

func (s *Store) setMessageID(recordID, column, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Model(&types.TriageRecord{}).
		Where("id = ?", recordID).
		Update(column, messageID)
	if res.Error != nil {
		return fmt.Errorf("store: set %s for %s: %w", column, recordID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats counts records per triage state.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	counts := []struct {
		state string
		dst   *int64
	}{
		{types.StatePending, &st.Pending},
		{types.StateInteresting, &st.Interesting},
		{types.StateNotGood, &st.NotGood},
	}
	for _, c := range counts {
		if err := s.db.Model(&types.TriageRecord{}).
			Where("state = ?", c.state).
			Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("store: count %s: %w", c.state, err)
		}
	}
	st.Total = st.Pending + st.Interesting + st.NotGood
	return st, nil
}
