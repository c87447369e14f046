package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/db"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/store"
)

func TestMissingKeysError(t *testing.T) {
	err := error(&store.MissingKeysError{Source: model.SourceCareerjet, Country: "NO", Keys: []string{"a", "b"}})

	var mk *store.MissingKeysError
	require.True(t, errors.As(err, &mk))
	assert.Equal(t, []string{"a", "b"}, mk.Keys)
	assert.Contains(t, err.Error(), "Careerjet/NO")
	assert.Contains(t, err.Error(), "a, b")
}

// newPostgres connects to TEST_DATABASE_URL and starts from an empty table.
func newPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.NewPostgresPool(ctx, url, 0)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := store.NewPostgres(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE job_posts`)
	require.NoError(t, err)
	return s
}

func posting(key string, created time.Time) model.Posting {
	return model.Posting{
		Source:      model.SourceCareerjet,
		Country:     "NO",
		Fingerprint: key,
		Title:       "Developer " + key,
		URL:         "https://example.com/" + key,
		Company:     "Acme",
		Created:     created,
	}
}

func TestPostgres_InsertFindAndConflict(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := s.InsertMany(ctx, []model.Posting{posting("a", now), posting("b", now)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := s.FindExistingKeys(ctx, []string{"a", "b", "c"}, model.SourceCareerjet, "NO")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, found)

	found, err = s.FindExistingKeys(ctx, []string{"a"}, model.SourceCareerjet, "DK")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = s.InsertMany(ctx, []model.Posting{posting("c", now), posting("a", now)})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	found, err = s.FindExistingKeys(ctx, []string{"c"}, model.SourceCareerjet, "NO")
	require.NoError(t, err)
	assert.Empty(t, found, "conflicting batch must not be partially written")
}

func TestPostgres_ReadsAndRetention(t *testing.T) {
	s := newPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	_, err := s.InsertMany(ctx, []model.Posting{posting("new1", now), posting("new2", now), posting("old", old)})
	require.NoError(t, err)

	opts, err := s.FilterOptions(ctx, "NO", now.AddDate(0, 0, -7), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, opts.Companies, 1)
	assert.Equal(t, model.Facet{Name: "Acme", Count: 2}, opts.Companies[0])

	page, err := s.Listings(ctx, "", now.AddDate(0, 0, -7), now.Add(time.Minute), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	deleted, err := s.DeleteCreatedBefore(ctx, now.AddDate(0, 0, -30), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
