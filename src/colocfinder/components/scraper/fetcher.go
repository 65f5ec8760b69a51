package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetchKind classifies a failed fetch so the scheduler can react per
// kind (captcha needs operator action, the rest are transient).
type FetchKind int

const (
	KindNetwork FetchKind = iota
	KindRateLimited
	KindCaptcha
	KindUnexpected
)

func (k FetchKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindCaptcha:
		return "captcha_challenge"
	default:
		return "unexpected"
	}
}

// FetchError is a classified fetch failure for one city.
type FetchError struct {
	Kind FetchKind
	City string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.City, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is one fetched search result page, handed raw to the parser.
type Page struct {
	City      string
	URL       string
	Body      []byte
	FetchedAt time.Time
}

// Fetcher issues rate-limited requests through a shared colly backend.
// The limit rule enforces the configured delay between any two outbound
// requests regardless of city; cloned collectors share it.
type Fetcher struct {
	collector   *colly.Collector
	maxAttempts int
	baseBackoff time.Duration
	log         *slog.Logger
}

func NewFetcher(userAgent string, delay time.Duration, cookies []*http.Cookie, log *slog.Logger) (*Fetcher, error) {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("scraper: set limit rule: %w", err)
	}

	c.SetRequestTimeout(30 * time.Second)

	// Standard browser headers to look less like a bot.
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9,fr;q=0.8")
		r.Headers.Set("DNT", "1")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Sec-Fetch-Dest", "document")
		r.Headers.Set("Sec-Fetch-Mode", "navigate")
		r.Headers.Set("Sec-Fetch-Site", "none")
		r.Headers.Set("Sec-Fetch-User", "?1")
		r.Headers.Set("Cache-Control", "max-age=0")
	})

	if len(cookies) > 0 {
		if err := c.SetCookies(leboncoinBaseURL, cookies); err != nil {
			return nil, fmt.Errorf("scraper: set cookies: %w", err)
		}
		log.Info("loaded session cookies", "count", len(cookies))
	}

	return &Fetcher{
		collector:   c,
		maxAttempts: 3,
		baseBackoff: 2 * time.Second,
		log:         log,
	}, nil
}

// Fetch downloads one search page for a city, retrying transient
// failures with doubling backoff. A captcha challenge is returned
// immediately: retrying only digs the hole deeper, fresher cookies are
// what helps.
func (f *Fetcher) Fetch(city, url string) (*Page, error) {
	var lastErr error
	backoff := f.baseBackoff

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		page, err := f.fetchOnce(city, url)
		if err == nil {
			return page, nil
		}

		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == KindCaptcha {
			return nil, err
		}

		lastErr = err
		if attempt < f.maxAttempts {
			f.log.Warn("fetch failed, retrying",
				"city", city, "attempt", attempt, "max", f.maxAttempts,
				"backoff", backoff, "err", err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(city, url string) (*Page, error) {
	c := f.collector.Clone()

	var page *Page
	var ferr *FetchError

	c.OnResponse(func(r *colly.Response) {
		if isCaptchaPage(r.Body) {
			ferr = &FetchError{Kind: KindCaptcha, City: city, Err: errors.New("challenge page served instead of results")}
			return
		}
		page = &Page{
			City:      city,
			URL:       url,
			Body:      r.Body,
			FetchedAt: time.Now().UTC(),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		ferr = classify(city, r, err)
	})

	if err := c.Visit(url); err != nil && ferr == nil {
		ferr = &FetchError{Kind: KindUnexpected, City: city, Err: err}
	}
	c.Wait()

	if ferr != nil {
		return nil, ferr
	}
	if page == nil {
		return nil, &FetchError{Kind: KindUnexpected, City: city, Err: errors.New("no response received")}
	}
	return page, nil
}

func classify(city string, r *colly.Response, err error) *FetchError {
	if r != nil && r.StatusCode > 0 {
		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			return &FetchError{Kind: KindRateLimited, City: city, Err: err}
		case r.StatusCode == http.StatusForbidden:
			// Anti-bot fronting serves its challenge with a 403.
			if isCaptchaPage(r.Body) {
				return &FetchError{Kind: KindCaptcha, City: city, Err: err}
			}
			return &FetchError{Kind: KindRateLimited, City: city, Err: err}
		case r.StatusCode >= 500:
			return &FetchError{Kind: KindNetwork, City: city, Err: err}
		default:
			return &FetchError{Kind: KindUnexpected, City: city, Err: err}
		}
	}
	return &FetchError{Kind: KindNetwork, City: city, Err: err}
}

var captchaMarkers = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"datadome",
	"cf-browser-verification",
	"cf_chl_opt",
}

func isCaptchaPage(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
