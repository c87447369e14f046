// Package store persists canonical postings. The database's unique index
// on (data_source, country, dedup_key) is the authority on duplication;
// callers pre-filter only to save round trips.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobmate/ingestion-service/internal/model"
)

// ErrDuplicateKey is returned by InsertMany when the batch collided with a
// row written concurrently. Nothing from the batch was written.
var ErrDuplicateKey = errors.New("duplicate posting key")

// MissingKeysError reports postings that should have been persisted but are
// neither in the store nor explained by a key conflict.
type MissingKeysError struct {
	Source  model.DataSource
	Country string
	Keys    []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%s/%s: %d posting(s) missing after insert: %s",
		e.Source, e.Country, len(e.Keys), strings.Join(e.Keys, ", "))
}

// PostingStore is what the fetchers need from persistence.
type PostingStore interface {
	// InsertMany writes postings atomically and returns how many rows were
	// inserted. A uniqueness conflict yields an error wrapping ErrDuplicateKey.
	InsertMany(ctx context.Context, postings []model.Posting) (int, error)
	// FindExistingKeys returns the subset of keys already stored for
	// (source, country).
	FindExistingKeys(ctx context.Context, keys []string, source model.DataSource, country string) ([]string, error)
}

// Reader serves the aggregate queries the cache warmup replays.
// An empty country means every country.
type Reader interface {
	FilterOptions(ctx context.Context, country string, from, to time.Time) (*model.FilterOptions, error)
	Listings(ctx context.Context, country string, from, to time.Time, page, size int) (*model.ListingsPage, error)
}

// Pruner deletes postings past the retention window.
type Pruner interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
