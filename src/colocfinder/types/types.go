package types

import "time"

// Scraped listings. ExternalID is the identifier assigned by the source
// site and is unique across cities; it is the dedup key for the whole
// lifetime of the data set.
type Listing struct {
	ID          uint64 `gorm:"primaryKey"`
	ExternalID  string `gorm:"size:64;uniqueIndex;not null"`
	City        string `gorm:"size:64;not null"`
	Title       string `gorm:"size:255"`
	Price       *float64
	Surface     *float64
	Rooms       *int
	URL         string  `gorm:"size:512"`
	ImageURL    *string `gorm:"size:512"`
	PostedAt    *time.Time
	Source      string `gorm:"size:32;not null"`
	RawSnapshot []byte `gorm:"type:blob"`
	ScrapedAt   time.Time
}

// Triage states. A record leaves StatePending at most once and the
// decided states are terminal.
const (
	StatePending     = "pending"
	StateInteresting = "interesting"
	StateNotGood     = "not_good"
)

// TriageRecord is the lifecycle record for an ingested listing, 1:1 with
// Listing by ExternalID. ID is a UUID carried in button custom IDs and
// embed footers so interactions can find their way back here.
type TriageRecord struct {
	ID                 string `gorm:"primaryKey;size:36"`
	ExternalID         string `gorm:"size:64;uniqueIndex;not null"`
	FirstSeenAt        time.Time
	State              string `gorm:"size:16;not null;default:pending"`
	StateChangedAt     time.Time
	DecidedBy          string  `gorm:"size:64"`
	PrimaryMessageID   *string `gorm:"size:64"`
	SecondaryMessageID *string `gorm:"size:64"`
}

// Decided reports whether the record has left the pending state.
func (r *TriageRecord) Decided() bool {
	return r.State != StatePending
}
