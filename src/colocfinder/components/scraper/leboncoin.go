package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/TheBloodMan49/colocfinder/src/colocfinder/types"
)

const (
	leboncoinBaseURL = "https://www.leboncoin.fr"
	sourceName       = "leboncoin"
)

// ErrNoListings is the structural-failure signal: the page parsed as
// HTML but no recognizable listing container was found. The scheduler
// treats it as a soft failure for that city.
var ErrNoListings = errors.New("scraper: no listing container found")

// Known city coordinates for the search location parameter, format
// CITY_POSTCODE__LAT_LON_RADIUS_RADIUS. Cities outside this map fall
// back to a plain name search.
var cityLocations = map[string]string{
	"RENNES":     "RENNES_35000__48.10824_-1.68449_5000_5000",
	"PARIS":      "PARIS_75000__48.856614_2.3522219_5000_5000",
	"LYON":       "LYON_69000__45.764043_4.835659_5000_5000",
	"MARSEILLE":  "MARSEILLE_13000__43.296482_5.36978_5000_5000",
	"TOULOUSE":   "TOULOUSE_31000__43.604652_1.444209_5000_5000",
	"NICE":       "NICE_06000__43.710173_7.261953_5000_5000",
	"NANTES":     "NANTES_44000__47.218371_-1.553621_5000_5000",
	"BORDEAUX":   "BORDEAUX_33000__44.837789_-0.57918_5000_5000",
	"LILLE":      "LILLE_59000__50.62925_3.057256_5000_5000",
	"STRASBOURG": "STRASBOURG_67000__48.573405_7.752111_5000_5000",
}

var containerSelectors = []string{
	"article[data-qa-id='aditem']",
	"article",
	"div[data-qa-id='aditem']",
	"a[data-qa-id='aditem_container']",
}

var titleSelectors = []string{
	"p[data-qa-id='aditem_title']",
	"div[data-qa-id='aditem_title']",
	"span[data-qa-id='aditem_title']",
	"h2",
	"h3",
}

var priceSelectors = []string{
	"p[data-test-id='price']",
	"div[data-test-id='price']",
	"span[data-test-id='price']",
	"p[data-qa-id='aditem_price']",
	"span[data-qa-id='aditem_price']",
}

var (
	roomsTFRegexp      = regexp.MustCompile(`\b[TF](\d)\b`)
	roomsPiecesRegexp  = regexp.MustCompile(`(\d+)\s*pi[èe]ces?`)
	roomsChambreRegexp = regexp.MustCompile(`(\d+)\s*chambres?`)
	surfaceRegexp      = regexp.MustCompile(`(\d+)\s*(?:mètres carrés|m²|métres carres)`)
)

// Leboncoin scrapes the leboncoin.fr rental search, one page per city.
type Leboncoin struct {
	fetcher *Fetcher
	log     *slog.Logger
	now     func() time.Time
}

func NewLeboncoin(fetcher *Fetcher, log *slog.Logger) *Leboncoin {
	return &Leboncoin{fetcher: fetcher, log: log, now: time.Now}
}

func (l *Leboncoin) Name() string { return sourceName }

// Scrape fetches and parses the newest rental listings for a city.
func (l *Leboncoin) Scrape(city string) ([]types.Listing, error) {
	page, err := l.fetcher.Fetch(city, SearchURL(city))
	if err != nil {
		return nil, err
	}
	return l.ParsePage(page)
}

// SearchURL builds the rental search URL for a city, newest first.
func SearchURL(city string) string {
	location, ok := cityLocations[strings.ToUpper(city)]
	if !ok {
		location = url.QueryEscape(city)
	}
	return fmt.Sprintf(
		"%s/recherche?category=10&locations=%s&real_estate_type=2&sort=time&order=desc",
		leboncoinBaseURL, location,
	)
}

// ParsePage extracts listings from a fetched search page. Malformed
// individual entries degrade to nil fields rather than failing the
// batch; only a missing listing container is reported, as
// ErrNoListings.
func (l *Leboncoin) ParsePage(page *Page) ([]types.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("scraper: parse html for %s: %w", page.City, err)
	}

	var entries *goquery.Selection
	for _, q := range containerSelectors {
		if s := doc.Find(q); s.Length() > 0 {
			l.log.Debug("matched listing selector", "selector", q, "count", s.Length(), "city", page.City)
			entries = s
			break
		}
	}
	if entries == nil {
		return nil, ErrNoListings
	}

	now := l.now().UTC()
	var listings []types.Listing
	entries.Each(func(i int, el *goquery.Selection) {
		listing := l.extractListing(el, page.City, now)
		if listing == nil {
			l.log.Debug("skipping entry without identity", "city", page.City, "index", i)
			return
		}
		listings = append(listings, *listing)
	})

	l.log.Debug("parsed search page", "city", page.City, "listings", len(listings))
	return listings, nil
}

// rawSnapshot is the raw extracted text kept alongside the listing for
// later re-display or re-parsing.
type rawSnapshot struct {
	Title      string `json:"title"`
	PriceText  string `json:"price_text"`
	PostedText string `json:"posted_text"`
	Href       string `json:"href"`
	ImageURL   string `json:"image_url"`
}

func (l *Leboncoin) extractListing(el *goquery.Selection, city string, now time.Time) *types.Listing {
	title := extractTitle(el)
	href := extractHref(el)
	if title == "" && href == "" {
		return nil
	}

	fullURL := absoluteURL(href)
	rawID := idFromURL(fullURL)
	if rawID == "" {
		// No stable source identifier means no dedup key; entries like
		// this cannot be tracked safely.
		return nil
	}

	priceText := extractPriceText(el)
	postedText, postedAt := extractPostedAt(el, now)
	imageURL := extractImageURL(el)

	snapshot, _ := json.Marshal(rawSnapshot{
		Title:      title,
		PriceText:  priceText,
		PostedText: postedText,
		Href:       href,
		ImageURL:   stringOrEmpty(imageURL),
	})

	return &types.Listing{
		ExternalID:  sourceName + "_" + rawID,
		City:        city,
		Title:       strings.TrimSpace(title),
		Price:       ParsePrice(priceText),
		Surface:     ParseSurface(title),
		Rooms:       ParseRooms(title),
		URL:         fullURL,
		ImageURL:    imageURL,
		PostedAt:    postedAt,
		Source:      sourceName,
		RawSnapshot: snapshot,
	}
}

func extractTitle(el *goquery.Selection) string {
	for _, q := range titleSelectors {
		if s := el.Find(q); s.Length() > 0 {
			return s.First().Text()
		}
	}
	if label, ok := el.Attr("aria-label"); ok {
		return label
	}
	return ""
}

func extractPriceText(el *goquery.Selection) string {
	for _, q := range priceSelectors {
		s := el.Find(q)
		if s.Length() == 0 {
			continue
		}
		// Price is often nested in an inner span.
		if span := s.First().Find("span"); span.Length() > 0 {
			return span.First().Text()
		}
		return s.First().Text()
	}
	return ""
}

func extractHref(el *goquery.Selection) string {
	if href, ok := el.Find("a").First().Attr("href"); ok {
		return href
	}
	if href, ok := el.Attr("href"); ok {
		return href
	}
	return ""
}

func extractImageURL(el *goquery.Selection) *string {
	selectors := []string{
		"img[src*='leboncoin.fr']",
		"img[data-test-id='adcard-image']",
		"img",
	}
	for _, q := range selectors {
		src, ok := el.Find(q).First().Attr("src")
		if ok && src != "" && strings.Contains(src, "leboncoin.fr") {
			return &src
		}
	}
	return nil
}

// extractPostedAt looks for the posted time in p[title] or
// time[datetime] and returns both the raw text and the parsed time, if
// any. Absence is not an error: the age filter fails open on nil.
func extractPostedAt(el *goquery.Selection, now time.Time) (string, *time.Time) {
	var rawText string
	var parsed *time.Time

	el.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dt, _ := s.Attr("datetime")
		rawText = dt
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			utc := t.UTC()
			parsed = &utc
			return false
		}
		return true
	})
	if parsed != nil {
		return rawText, parsed
	}

	el.Find("p[title]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title, _ := s.Attr("title")
		if t, ok := ParseFrenchDatetime(title, now); ok {
			rawText = title
			parsed = &t
			return false
		}
		text := strings.TrimSpace(s.Text())
		if t, ok := ParseFrenchDatetime(text, now); ok {
			rawText = text
			parsed = &t
			return false
		}
		return true
	})

	return rawText, parsed
}

// ParsePrice parses price text like "850 €", "1 200 €" or "850,50 €"
// including non-breaking spaces.
func ParsePrice(text string) *float64 {
	cleaned := strings.NewReplacer(
		"€", "",
		" ", "",
		" ", "",
		" ", "",
		",", ".",
	).Replace(text)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseSurface extracts a surface in m² from the listing title.
func ParseSurface(title string) *float64 {
	m := surfaceRegexp.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseRooms extracts the room count from a French listing title:
// "T2"/"F2", "3 pièces", or "2 chambres" (bedrooms, counted +1 for the
// living room).
func ParseRooms(title string) *int {
	if m := roomsTFRegexp.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	if m := roomsPiecesRegexp.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	if m := roomsChambreRegexp.FindStringSubmatch(title); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			n++
			return &n
		}
	}
	return nil
}

// parisOffset is the fixed offset the site displays times in. Ignoring
// DST costs at most an hour on an age filter measured in days.
var parisOffset = time.FixedZone("Europe/Paris", 3600)

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "février": time.February, "mars": time.March,
	"avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "septembre": time.September,
	"octobre": time.October, "novembre": time.November, "décembre": time.December,
}

// ParseFrenchDatetime parses the site's human-readable timestamps:
// "Aujourd'hui, 14:30", "Hier, 10:15", "13 février 2026, 10:15" and
// "13 février 2026 à 10:15". Returns UTC.
func ParseFrenchDatetime(text string, now time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	localNow := now.In(parisOffset)

	if rest, ok := strings.CutPrefix(lower, "aujourd'hui"); ok {
		return timeOn(localNow, rest)
	}
	if rest, ok := strings.CutPrefix(lower, "hier"); ok {
		return timeOn(localNow.AddDate(0, 0, -1), rest)
	}
	return parseFullFrenchDate(text)
}

// timeOn applies an "HH:MM" fragment (with leading separator) to a day.
func timeOn(day time.Time, fragment string) (time.Time, bool) {
	fragment = strings.TrimSpace(strings.TrimLeft(fragment, ", "))
	hour, minute, ok := parseClock(fragment)
	if !ok {
		return time.Time{}, false
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, parisOffset)
	return t.UTC(), true
}

func parseFullFrenchDate(text string) (time.Time, bool) {
	var datePart, timePart string
	switch {
	case strings.Contains(text, ","):
		parts := strings.SplitN(text, ",", 2)
		datePart, timePart = parts[0], parts[1]
	case strings.Contains(text, " à "):
		parts := strings.SplitN(text, " à ", 2)
		datePart, timePart = parts[0], parts[1]
	default:
		return time.Time{}, false
	}

	fields := strings.Fields(datePart)
	if len(fields) != 3 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, false
	}
	month, ok := frenchMonths[strings.ToLower(fields[1])]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return time.Time{}, false
	}

	hour, minute, ok := parseClock(strings.TrimSpace(timePart))
	if !ok {
		return time.Time{}, false
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, parisOffset)
	return t.UTC(), true
}

func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func absoluteURL(href string) string {
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http"):
		return href
	default:
		return leboncoinBaseURL + href
	}
}

// idFromURL extracts the listing identifier from the ad URL tail, e.g.
// "/colocations/2456789123.htm" -> "2456789123".
func idFromURL(fullURL string) string {
	if fullURL == "" {
		return ""
	}
	tail := fullURL[strings.LastIndex(fullURL, "/")+1:]
	if i := strings.IndexByte(tail, '.'); i >= 0 {
		tail = tail[:i]
	}
	if i := strings.IndexByte(tail, '?'); i >= 0 {
		tail = tail[:i]
	}
	return tail
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
