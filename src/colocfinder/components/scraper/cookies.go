package scraper

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// browserCookie matches the JSON produced by browser cookie-export
// extensions (EditThisCookie, Cookie Editor).
type browserCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// LoadCookies reads a browser cookie export. The file is optional: a
// missing one yields no cookies and no error. Entries without a name or
// value are skipped; everything else is best-effort. Supplying cookies
// from a real browser session reduces captcha challenges considerably.
func LoadCookies(path string) ([]*http.Cookie, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scraper: read cookies: %w", err)
	}

	var exported []browserCookie
	if err := json.Unmarshal(raw, &exported); err != nil {
		return nil, fmt.Errorf("scraper: parse cookies %s: %w", path, err)
	}

	var cookies []*http.Cookie
	for _, c := range exported {
		if c.Name == "" || c.Value == "" {
			continue
		}
		ck := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, ck)
	}
	return cookies, nil
}
