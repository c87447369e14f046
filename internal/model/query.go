package model

import "time"

// Timeframe is the [From, To) window a cached query covers.
type Timeframe struct {
	Weeks int       `json:"weeks"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Facet is one filter option with the number of postings carrying it.
type Facet struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FilterOptions are the aggregates backing the listing filters.
type FilterOptions struct {
	Companies     []Facet `json:"companies"`
	Locations     []Facet `json:"locations"`
	ContractTypes []Facet `json:"contractTypes"`
	ContractTimes []Facet `json:"contractTimes"`
}

// Listing is the summary row shown in a listings page.
type Listing struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company,omitempty"`
	Location  string    `json:"location,omitempty"`
	Country   string    `json:"country"`
	URL       string    `json:"url"`
	SalaryMin *float64  `json:"salaryMin,omitempty"`
	SalaryMax *float64  `json:"salaryMax,omitempty"`
	Created   time.Time `json:"created"`
}

// ListingsPage is one page of listings plus the total match count.
type ListingsPage struct {
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Items    []Listing `json:"items"`
}
