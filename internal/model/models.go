// Package model defines shared data structures for the ingestion service.
package model

import (
	"strings"
	"time"
)

// DataSource tags every posting with the listing API it came from.
type DataSource string

const (
	SourceAdzuna    DataSource = "Adzuna"
	SourceCareerjet DataSource = "Careerjet"
)

// ParseDataSource maps a lowercase route segment ("adzuna", "careerjet") to a DataSource.
func ParseDataSource(s string) (DataSource, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adzuna":
		return SourceAdzuna, true
	case "careerjet":
		return SourceCareerjet, true
	}
	return "", false
}

// Credential is one Adzuna app_id/app_key pair.
type Credential struct {
	AppID  string
	AppKey string
}

// Coordinates are rounded to 6 decimals before persistence.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Posting is the canonical, source-agnostic job posting produced by the
// fetchers. Only the URL resolver mutates it (URL, IsDetailsURL) before it
// is persisted; it is immutable afterwards.
type Posting struct {
	JobID           string       `json:"jobId,omitempty"` // upstream numeric id (Adzuna only)
	Title           string       `json:"title"`
	NormalizedTitle string       `json:"normalizedTitle"`
	URL             string       `json:"url"`
	IsDetailsURL    bool         `json:"isDetailsUrl"`
	Description     string       `json:"description,omitempty"`
	Salary          string       `json:"salary,omitempty"` // raw salary text (Careerjet)
	SalaryMin       *float64     `json:"salaryMin,omitempty"`
	SalaryMax       *float64     `json:"salaryMax,omitempty"`
	Created         time.Time    `json:"created"`
	Country         string       `json:"country"` // uppercase ISO code, e.g. "DE"
	Company         string       `json:"company,omitempty"`
	Location        string       `json:"location,omitempty"`
	Area            string       `json:"area,omitempty"`
	Category        string       `json:"category,omitempty"`
	ContractType    string       `json:"contractType,omitempty"`
	ContractTime    string       `json:"contractTime,omitempty"`
	Source          DataSource   `json:"dataSource"`
	Fingerprint     string       `json:"fingerprint"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
}

// DedupKey is the value the store enforces uniqueness on together with
// (Source, Country): the upstream job id where the source assigns stable
// numeric ids, the content fingerprint otherwise.
func (p Posting) DedupKey() string {
	if p.Source == SourceAdzuna {
		return p.JobID
	}
	return p.Fingerprint
}

// SetURL replaces the posting URL and recomputes IsDetailsURL.
func (p *Posting) SetURL(u string) {
	p.URL = u
	p.IsDetailsURL = strings.Contains(strings.ToLower(u), "details")
}

// FetchResult summarises one Fetch(country) call.
type FetchResult struct {
	Source         DataSource `json:"dataSource"`
	Country        string     `json:"country"`
	TotalAvailable int        `json:"totalAvailable"`
	TotalPages     int        `json:"totalPages"`
	PagesFetched   int        `json:"pagesFetched"`
	Fetched        int        `json:"fetched"`
	Saved          int        `json:"saved"`
	StopReason     string     `json:"stopReason,omitempty"`
}

// CountryOutcome is one country's entry in a runner summary.
type CountryOutcome struct {
	Country string       `json:"country"`
	Result  *FetchResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// RunSummary is returned by a runner after it has visited every country.
type RunSummary struct {
	RunID      string           `json:"runId"`
	Source     DataSource       `json:"dataSource"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Countries  []CountryOutcome `json:"countries"`
	Updated    []string         `json:"updated"`
	Saved      int              `json:"saved"`
}
