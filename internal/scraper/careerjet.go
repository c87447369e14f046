package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/dedup"
	"jobmate/ingestion-service/internal/model"
)

const (
	CareerjetBaseURL  = "http://public.api.careerjet.net/search"
	careerjetCategory = "it"
	// DefaultMaxAge drops Careerjet postings older than a month.
	DefaultMaxAge = 30 * 24 * time.Hour
)

// ErrUnsupportedCountry is returned for countries without a Careerjet locale.
var ErrUnsupportedCountry = errors.New("unsupported country")

var careerjetLocales = map[string]string{
	"NO": "no_NO",
	"DK": "da_DK",
}

// CareerjetAffiliate are the affiliate parameters Careerjet requires on
// every call.
type CareerjetAffiliate struct {
	AffID     string
	UserIP    string
	UserAgent string
}

// CareerjetFetcher pages through the Careerjet search API. Careerjet hands
// out tracking URLs and no stable ids, so URLs are resolved before dedup
// and the content fingerprint is the dedup key.
type CareerjetFetcher struct {
	*Fetcher
	baseURL  string
	aff      CareerjetAffiliate
	resolver URLResolver
	maxAge   time.Duration
}

// NewCareerjetFetcher builds a CareerjetFetcher. An empty baseURL selects
// CareerjetBaseURL; maxAge <= 0 selects DefaultMaxAge.
func NewCareerjetFetcher(f *Fetcher, baseURL string, aff CareerjetAffiliate, res URLResolver, maxAge time.Duration) *CareerjetFetcher {
	if baseURL == "" {
		baseURL = CareerjetBaseURL
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &CareerjetFetcher{Fetcher: f, baseURL: baseURL, aff: aff, resolver: res, maxAge: maxAge}
}

// DataSource identifies the upstream.
func (c *CareerjetFetcher) DataSource() model.DataSource { return model.SourceCareerjet }

// Fetch ingests every new, recent IT posting Careerjet lists for country.
func (c *CareerjetFetcher) Fetch(ctx context.Context, country string) (*model.FetchResult, error) {
	cc := strings.ToUpper(country)
	locale, ok := careerjetLocales[cc]
	if !ok {
		return nil, fmt.Errorf("careerjet %q: %w", country, ErrUnsupportedCountry)
	}
	src := careerjetSource{baseURL: c.baseURL, locale: locale, aff: c.aff, maxAge: c.maxAge}
	return c.run(ctx, src, cc, nil, c.resolver)
}

type careerjetSource struct {
	baseURL string
	locale  string
	aff     CareerjetAffiliate
	maxAge  time.Duration
}

func (careerjetSource) dataSource() model.DataSource { return model.SourceCareerjet }

func (s careerjetSource) pageRequest(ctx context.Context, _ string, page int, _ model.Credential) (*http.Request, error) {
	params := url.Values{}
	params.Set("affid", s.aff.AffID)
	params.Set("category", careerjetCategory)
	params.Set("locale_code", s.locale)
	params.Set("pagesize", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("user_ip", s.aff.UserIP)
	params.Set("user_agent", s.aff.UserAgent)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.aff.UserAgent != "" {
		req.Header.Set("User-Agent", s.aff.UserAgent)
	}
	return req, nil
}

// careerjetResponse mirrors the Careerjet search response. Several fields
// are either a string or an object, so they are decoded lazily.
type careerjetResponse struct {
	Type  string         `json:"type"`
	Error string         `json:"error"`
	Hits  int            `json:"hits"`
	Pages int            `json:"pages"`
	Jobs  []careerjetJob `json:"jobs"`
}

type careerjetJob struct {
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Salary      string          `json:"salary"`
	Date        string          `json:"date"`
	Company     json.RawMessage `json:"company"`
	Location    json.RawMessage `json:"location"`
	Locations   json.RawMessage `json:"locations"`
}

type displayNamed struct {
	DisplayName string   `json:"display_name"`
	Area        []string `json:"area"`
}

func (s careerjetSource) parsePage(body []byte, country string, now time.Time) (pageResult, error) {
	var resp careerjetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return pageResult{}, fmt.Errorf("json unmarshal: %w", err)
	}
	if strings.EqualFold(resp.Type, "ERROR") {
		return pageResult{}, fmt.Errorf("careerjet error: %s", resp.Error)
	}

	cutoff := now.Add(-s.maxAge)
	pr := pageResult{
		totalAvailable: resp.Hits,
		totalPages:     resp.Pages,
		raw:            len(resp.Jobs),
		postings:       make([]model.Posting, 0, len(resp.Jobs)),
	}

	recent := 0
	for _, j := range resp.Jobs {
		p, ok := mapCareerjet(j, country, now)
		if !ok {
			pr.malformed++
			continue
		}
		if p.Created.Before(cutoff) {
			continue
		}
		recent++
		pr.postings = append(pr.postings, p)
	}
	pr.stale = pr.raw > 0 && recent == 0
	return pr, nil
}

// mapCareerjet converts one job; ok is false when the URL is missing. A
// job without a parseable date is fingerprinted without one and dated now.
func mapCareerjet(j careerjetJob, country string, now time.Time) (model.Posting, bool) {
	if strings.TrimSpace(j.URL) == "" {
		return model.Posting{}, false
	}

	company := flexName(j.Company)
	location, area := careerjetLocation(j)
	created, dated := parseCareerjetDate(j.Date)

	p := model.Posting{
		Title:       strings.TrimSpace(j.Title),
		Description: j.Description,
		Salary:      strings.TrimSpace(j.Salary),
		Country:     country,
		Company:     company,
		Location:    location,
		Area:        area,
		Source:      model.SourceCareerjet,
	}
	p.SetURL(strings.TrimSpace(j.URL))
	p.SalaryMin, p.SalaryMax = ParseSalary(p.Salary)

	p.NormalizedTitle = dedup.NormalizeTitle(p.Title)
	if dated {
		p.Created = created
		p.Fingerprint = dedup.Fingerprint(p.Title, company, location, country, created)
	} else {
		p.Created = now.UTC()
		p.Fingerprint = dedup.Fingerprint(p.Title, company, location, country, time.Time{})
	}
	return p, true
}

func careerjetLocation(j careerjetJob) (location, area string) {
	if len(j.Location) > 0 && string(j.Location) != "null" {
		var s string
		if json.Unmarshal(j.Location, &s) == nil {
			return strings.TrimSpace(s), ""
		}
		var obj displayNamed
		if json.Unmarshal(j.Location, &obj) == nil {
			return strings.TrimSpace(obj.DisplayName), joinNonEmpty(obj.Area)
		}
		return "", ""
	}

	if len(j.Locations) > 0 && string(j.Locations) != "null" {
		var s string
		if json.Unmarshal(j.Locations, &s) == nil {
			return strings.TrimSpace(s), ""
		}
		var list []string
		if json.Unmarshal(j.Locations, &list) == nil {
			return joinNonEmpty(list), ""
		}
	}
	return "", ""
}

// flexName reads a field that is either a plain string or {display_name}.
func flexName(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj displayNamed
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.DisplayName)
	}
	return ""
}

func joinNonEmpty(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

var careerjetDateLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339,
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func parseCareerjetDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range careerjetDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
