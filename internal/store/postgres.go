package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/ingestion-service/internal/model"
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

const facetLimit = 200

var (
	_ PostingStore = (*Postgres)(nil)
	_ Reader       = (*Postgres)(nil)
	_ Pruner       = (*Postgres)(nil)
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS job_posts (
	id               BIGSERIAL PRIMARY KEY,
	data_source      TEXT             NOT NULL,
	country          TEXT             NOT NULL,
	dedup_key        TEXT             NOT NULL,
	job_id           BIGINT,
	fingerprint      TEXT             NOT NULL DEFAULT '',
	title            TEXT             NOT NULL,
	title_normalized TEXT             NOT NULL DEFAULT '',
	url              TEXT             NOT NULL,
	is_details_url   BOOLEAN          NOT NULL DEFAULT false,
	description      TEXT             NOT NULL DEFAULT '',
	salary           TEXT             NOT NULL DEFAULT '',
	salary_min       DOUBLE PRECISION,
	salary_max       DOUBLE PRECISION,
	created          TIMESTAMPTZ      NOT NULL,
	process_date     TIMESTAMPTZ      NOT NULL DEFAULT now(),
	company          TEXT             NOT NULL DEFAULT '',
	location         TEXT             NOT NULL DEFAULT '',
	area             TEXT             NOT NULL DEFAULT '',
	category         TEXT             NOT NULL DEFAULT '',
	contract_type    TEXT             NOT NULL DEFAULT '',
	contract_time    TEXT             NOT NULL DEFAULT '',
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION
);
CREATE UNIQUE INDEX IF NOT EXISTS job_posts_dedup_uq ON job_posts (data_source, country, dedup_key);
CREATE INDEX IF NOT EXISTS job_posts_country_created_idx ON job_posts (country, created);
CREATE INDEX IF NOT EXISTS job_posts_created_idx ON job_posts (created);
`

var copyColumns = []string{
	"data_source", "country", "dedup_key", "job_id", "fingerprint",
	"title", "title_normalized", "url", "is_details_url", "description",
	"salary", "salary_min", "salary_max", "created",
	"company", "location", "area", "category", "contract_type", "contract_time",
	"latitude", "longitude",
}

// Postgres is the pgx-backed posting store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-verified pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the job_posts table and its indexes if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertMany copies postings inside one transaction, so a key conflict
// leaves the table untouched.
func (s *Postgres) InsertMany(ctx context.Context, postings []model.Posting) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(postings))
	for _, p := range postings {
		row, err := copyRow(p)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("insertMany begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"job_posts"}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insertMany copy: %w: %w", ErrDuplicateKey, err)
		}
		return 0, fmt.Errorf("insertMany copy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insertMany commit: %w: %w", ErrDuplicateKey, err)
		}
		return 0, fmt.Errorf("insertMany commit: %w", err)
	}
	return int(n), nil
}

func copyRow(p model.Posting) ([]any, error) {
	var jobID *int64
	if p.JobID != "" {
		id, err := strconv.ParseInt(p.JobID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("posting %q: job id %q is not numeric", p.Title, p.JobID)
		}
		jobID = &id
	}

	var lat, lng *float64
	if p.Coordinates != nil {
		lat, lng = &p.Coordinates.Latitude, &p.Coordinates.Longitude
	}

	return []any{
		string(p.Source), p.Country, p.DedupKey(), jobID, p.Fingerprint,
		p.Title, p.NormalizedTitle, p.URL, p.IsDetailsURL, p.Description,
		p.Salary, p.SalaryMin, p.SalaryMax, p.Created,
		p.Company, p.Location, p.Area, p.Category, p.ContractType, p.ContractTime,
		lat, lng,
	}, nil
}

// FindExistingKeys returns which of keys are already stored for (source, country).
func (s *Postgres) FindExistingKeys(ctx context.Context, keys []string, source model.DataSource, country string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT dedup_key
		 FROM job_posts
		 WHERE data_source = $1 AND country = $2 AND dedup_key = ANY($3)`,
		string(source), country, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("findExistingKeys query: %w", err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("findExistingKeys scan: %w", err)
	}
	return found, nil
}

// DeleteCreatedBefore removes at most limit postings created before cutoff,
// oldest ids first, and returns how many were deleted.
func (s *Postgres) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_posts
		 WHERE id IN (
		   SELECT id FROM job_posts WHERE created < $1 ORDER BY id LIMIT $2
		 )`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("deleteCreatedBefore: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ─── Read queries ─────────────────────────────────────────────────────────────

const windowPredicate = `($1 = '' OR country = $1) AND created >= $2 AND created < $3`

func facetSQL(column string) string {
	return fmt.Sprintf(
		`SELECT %[1]s, count(*) FROM job_posts
		 WHERE %[1]s <> '' AND %[2]s
		 GROUP BY %[1]s ORDER BY count(*) DESC, %[1]s LIMIT %[3]d`,
		column, windowPredicate, facetLimit,
	)
}

// FilterOptions runs the four facet aggregates in a single round trip.
func (s *Postgres) FilterOptions(ctx context.Context, country string, from, to time.Time) (*model.FilterOptions, error) {
	columns := []string{"company", "location", "contract_type", "contract_time"}

	batch := &pgx.Batch{}
	for _, c := range columns {
		batch.Queue(facetSQL(c), country, from, to)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	facets := make([][]model.Facet, len(columns))
	for i, c := range columns {
		rows, err := br.Query()
		if err != nil {
			return nil, fmt.Errorf("filterOptions %s: %w", c, err)
		}
		facets[i], err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Facet, error) {
			var f model.Facet
			err := row.Scan(&f.Name, &f.Count)
			return f, err
		})
		if err != nil {
			return nil, fmt.Errorf("filterOptions %s scan: %w", c, err)
		}
	}

	return &model.FilterOptions{
		Companies:     facets[0],
		Locations:     facets[1],
		ContractTypes: facets[2],
		ContractTimes: facets[3],
	}, nil
}

// Listings returns one page of postings, newest first, plus the total count.
func (s *Postgres) Listings(ctx context.Context, country string, from, to time.Time, page, size int) (*model.ListingsPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	out := &model.ListingsPage{Page: page, PageSize: size}

	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM job_posts WHERE `+windowPredicate,
		country, from, to,
	).Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("listings count: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, company, location, country, url, salary_min, salary_max, created
		 FROM job_posts
		 WHERE `+windowPredicate+`
		 ORDER BY created DESC, id DESC
		 LIMIT $4 OFFSET $5`,
		country, from, to, size, (page-1)*size,
	)
	if err != nil {
		return nil, fmt.Errorf("listings query: %w", err)
	}

	out.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Listing, error) {
		var l model.Listing
		err := row.Scan(&l.ID, &l.Title, &l.Company, &l.Location, &l.Country,
			&l.URL, &l.SalaryMin, &l.SalaryMax, &l.Created)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("listings scan: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
