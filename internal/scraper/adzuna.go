package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/credentials"
	"jobmate/ingestion-service/internal/dedup"
	"jobmate/ingestion-service/internal/model"
)

const (
	AdzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaCategory = "it-jobs"
)

// AdzunaFetcher pages through the Adzuna search API for one country at a
// time, rotating through the credential pool. Adzuna assigns stable
// numeric ids, which serve as the dedup key.
type AdzunaFetcher struct {
	*Fetcher
	baseURL string
	creds   *credentials.Rotator
}

// NewAdzunaFetcher builds an AdzunaFetcher. An empty baseURL selects
// AdzunaBaseURL.
func NewAdzunaFetcher(f *Fetcher, baseURL string, creds *credentials.Rotator) *AdzunaFetcher {
	if baseURL == "" {
		baseURL = AdzunaBaseURL
	}
	return &AdzunaFetcher{Fetcher: f, baseURL: strings.TrimRight(baseURL, "/"), creds: creds}
}

// DataSource identifies the upstream.
func (a *AdzunaFetcher) DataSource() model.DataSource { return model.SourceAdzuna }

// Fetch ingests every new IT posting Adzuna lists for country. When the
// credential pool runs dry mid-run the partial result is returned without
// error and StopReason is StopNoCredentials.
func (a *AdzunaFetcher) Fetch(ctx context.Context, country string) (*model.FetchResult, error) {
	if a.creds == nil || a.creds.Len() == 0 {
		return nil, ErrNoCredentials
	}
	return a.run(ctx, adzunaSource{baseURL: a.baseURL}, strings.ToUpper(country), a.creds, nil)
}

type adzunaSource struct {
	baseURL string
}

func (adzunaSource) dataSource() model.DataSource { return model.SourceAdzuna }

func (s adzunaSource) pageRequest(ctx context.Context, country string, page int, cred model.Credential) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", s.baseURL, strings.ToLower(country), page)

	params := url.Values{}
	params.Set("app_id", cred.AppID)
	params.Set("app_key", cred.AppKey)
	params.Set("category", adzunaCategory)
	params.Set("results_per_page", strconv.Itoa(pageSize))
	params.Set("sort_by", "date")
	params.Set("content-type", "application/json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID           json.RawMessage `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Company      adzunaCompany   `json:"company"`
	Location     adzunaLocation  `json:"location"`
	Category     adzunaCategoryT `json:"category"`
	SalaryMin    *float64        `json:"salary_min"`
	SalaryMax    *float64        `json:"salary_max"`
	RedirectURL  string          `json:"redirect_url"`
	Created      string          `json:"created"`
	ContractTime string          `json:"contract_time"`
	ContractType string          `json:"contract_type"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string   `json:"display_name"`
	Area        []string `json:"area"`
}

type adzunaCategoryT struct {
	Label string `json:"label"`
}

func (adzunaSource) parsePage(body []byte, country string, _ time.Time) (pageResult, error) {
	var resp adzunaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return pageResult{}, fmt.Errorf("json unmarshal: %w", err)
	}

	pr := pageResult{
		totalAvailable: resp.Count,
		totalPages:     (resp.Count + pageSize - 1) / pageSize,
		raw:            len(resp.Results),
		postings:       make([]model.Posting, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		p, ok := mapAdzuna(r, country)
		if !ok {
			pr.malformed++
			continue
		}
		pr.postings = append(pr.postings, p)
	}
	return pr, nil
}

// mapAdzuna converts one listing; ok is false when the id is missing or
// not numeric, the listing has no URL, or it has no title to fingerprint.
func mapAdzuna(r adzunaResult, country string) (model.Posting, bool) {
	id, ok := adzunaID(r.ID)
	if !ok || strings.TrimSpace(r.RedirectURL) == "" {
		return model.Posting{}, false
	}

	p := model.Posting{
		JobID:        id,
		Title:        strings.TrimSpace(r.Title),
		Description:  r.Description,
		SalaryMin:    r.SalaryMin,
		SalaryMax:    r.SalaryMax,
		Country:      country,
		Company:      strings.TrimSpace(r.Company.DisplayName),
		Location:     strings.TrimSpace(r.Location.DisplayName),
		Category:     r.Category.Label,
		ContractType: contractTypeLabel(r.ContractType),
		ContractTime: contractTimeLabel(r.ContractTime),
		Source:       model.SourceAdzuna,
	}
	p.SetURL(r.RedirectURL)

	if len(r.Location.Area) > 1 {
		p.Area = strings.Join(r.Location.Area, ", ")
	}
	if t, err := time.Parse(time.RFC3339, r.Created); err == nil {
		p.Created = t.UTC()
	}
	if r.Latitude != nil && r.Longitude != nil {
		p.Coordinates = &model.Coordinates{
			Latitude:  round6(*r.Latitude),
			Longitude: round6(*r.Longitude),
		}
	}

	dedup.Stamp(&p)
	if p.Fingerprint == "" {
		return model.Posting{}, false
	}
	return p, true
}

// adzunaID accepts the id as a JSON string or number and requires it to be
// a positive integer.
func adzunaID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	s := strings.Trim(string(raw), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func contractTimeLabel(v string) string {
	switch v {
	case "full_time":
		return "Full time"
	case "part_time":
		return "Part time"
	}
	return v
}

func contractTypeLabel(v string) string {
	switch v {
	case "permanent":
		return "Permanent"
	case "contract":
		return "Contract"
	}
	return v
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
