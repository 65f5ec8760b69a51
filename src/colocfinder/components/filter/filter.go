package filter

import (
	"time"

	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

// Config holds the acceptance criteria applied to scraped listings
// before they are recorded or posted. A zero MaxListingAge disables the
// age check.
type Config struct {
	MinRooms      int
	MaxListingAge time.Duration
}

// Filter decides whether a listing is worth posting. Unknown values
// pass: a listing with no parsed room count or posted time is kept so
// a scraping gap never silently hides listings.
type Filter struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Filter {
	return &Filter{cfg: cfg, now: time.Now}
}

// Keep reports whether a listing passes the configured criteria, and
// the reason when it does not.
func (f *Filter) Keep(listing *types.Listing) (bool, string) {
	if listing.Rooms != nil && *listing.Rooms < f.cfg.MinRooms {
		return false, "too_few_rooms"
	}
	if listing.PostedAt != nil && f.cfg.MaxListingAge > 0 {
		age := f.now().UTC().Sub(listing.PostedAt.UTC())
		if age > f.cfg.MaxListingAge {
			return false, "too_old"
		}
	}
	return true, ""
}
