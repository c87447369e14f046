package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jobmate/ingestion-service/internal/dedup"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/resolver"
	"jobmate/ingestion-service/internal/store"
)

// ingest resolves URLs (when resolver is set), filters out postings the
// store already has or that repeat within the page, and persists the rest.
// It returns the number of rows written.
func (f *Fetcher) ingest(ctx context.Context, ds model.DataSource, country string, postings []model.Posting, res URLResolver) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	if res != nil {
		if err := resolveURLs(ctx, res, postings); err != nil {
			return 0, err
		}
	}

	keys := dedup.Keys(postings)
	existing, err := f.store.FindExistingKeys(ctx, keys, ds, country)
	if err != nil {
		return 0, fmt.Errorf("lookup existing: %w", err)
	}

	fresh, dropped := dedup.Filter(postings, existing)
	if dropped > 0 {
		slog.Debug("duplicates filtered", "source", string(ds), "country", country, "dropped", dropped)
	}
	return f.persist(ctx, ds, country, fresh)
}

func resolveURLs(ctx context.Context, res URLResolver, postings []model.Posting) error {
	urls := make([]string, len(postings))
	trackers := 0
	for i, p := range postings {
		urls[i] = p.URL
		if resolver.IsTrackingURL(p.URL) {
			trackers++
		}
	}

	final, err := res.ResolveAll(ctx, urls)
	if err != nil {
		return fmt.Errorf("resolve urls: %w", err)
	}

	changed := 0
	for i := range postings {
		if final[i] != "" && final[i] != postings[i].URL {
			postings[i].SetURL(final[i])
			changed++
		}
	}
	slog.Debug("urls resolved", "total", len(postings), "tracking", trackers, "rewritten", changed)
	return nil
}

// persist writes fresh in one batch. A key conflict with a concurrent
// writer is not an error: the keys already present are dropped and the
// remainder is written once more. Afterwards every key must be in the
// store, otherwise a *store.MissingKeysError names the ones that are not.
func (f *Fetcher) persist(ctx context.Context, ds model.DataSource, country string, fresh []model.Posting) (int, error) {
	if len(fresh) == 0 {
		return 0, nil
	}

	n, err := f.store.InsertMany(ctx, fresh)
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return 0, fmt.Errorf("insert: %w", err)
	}

	if err != nil {
		slog.Info("insert raced a concurrent writer, retrying remainder",
			"source", string(ds), "country", country, "batch", len(fresh))

		existing, err := f.store.FindExistingKeys(ctx, dedup.Keys(fresh), ds, country)
		if err != nil {
			return 0, fmt.Errorf("lookup after conflict: %w", err)
		}
		remainder, _ := dedup.Filter(fresh, existing)

		n = 0
		if len(remainder) > 0 {
			n, err = f.store.InsertMany(ctx, remainder)
			if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
				return 0, fmt.Errorf("insert remainder: %w", err)
			}
			if err != nil {
				n = 0
			}
		}
	}

	if err := f.verify(ctx, ds, country, fresh); err != nil {
		return n, err
	}
	return n, nil
}

func (f *Fetcher) verify(ctx context.Context, ds model.DataSource, country string, expected []model.Posting) error {
	keys := dedup.Keys(expected)
	found, err := f.store.FindExistingKeys(ctx, keys, ds, country)
	if err != nil {
		return fmt.Errorf("verify insert: %w", err)
	}

	present := make(map[string]struct{}, len(found))
	for _, k := range found {
		present[k] = struct{}{}
	}

	var missing []string
	for _, k := range keys {
		if _, ok := present[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &store.MissingKeysError{Source: ds, Country: country, Keys: missing}
	}
	return nil
}
