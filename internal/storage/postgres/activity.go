package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"activity_fetcher/internal/domain"
)

type ActivityStore struct {
	db *sqlx.DB
}

func NewActivityStore(db *sqlx.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// InsertBatch persists activities in one multi-row statement. Rows whose
// site_url already exists are silently skipped, so repeated crawls of
// already-seen items are no-ops. Returns the site_urls actually inserted.
func (s *ActivityStore) InsertBatch(ctx context.Context, activities []domain.Activity) ([]string, error) {
	if len(activities) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO activities (
		activity_site, activity_type, activity_content, activity_name,
		site_url, activity_image_url, keyword, start_date, end_date, created_at
	) VALUES `)

	args := make([]interface{}, 0, len(activities)*9)

	for i, a := range activities {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < 9; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*9 + j + 1))
		}
		sb.WriteString(", now())")
		args = append(args,
			a.Site, a.Type, a.Content, a.Name,
			a.SiteURL, a.ImageURL, a.Keyword, a.StartDate, a.EndDate,
		)
	}
	sb.WriteString(" ON CONFLICT (site_url) DO NOTHING RETURNING site_url")

	var inserted []string
	if err := s.db.SelectContext(ctx, &inserted, sb.String(), args...); err != nil {
		return nil, &domain.StoreError{Op: "insert activities", Err: err}
	}
	return inserted, nil
}

// MaxQueryParamID returns the highest numeric id embedded as a query parameter
// in site_url for one site (e.g. param "ix" in ...?c=find&ix=1234). Zero when
// the site has no rows yet.
func (s *ActivityStore) MaxQueryParamID(ctx context.Context, site domain.Site, param string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(NULLIF(split_part(split_part(site_url, $2 || '=', 2), '&', 1), '')::bigint), 0)
		FROM activities
		WHERE activity_site = $1 AND site_url LIKE '%' || $2 || '=%'`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, site, param); err != nil {
		return 0, &domain.StoreError{Op: "max query param id", Err: err}
	}
	return id, nil
}

// MaxPathID returns the highest numeric trailing path segment of site_url for
// one site (e.g. .../opportunities/4821). Zero when the site has no rows yet.
func (s *ActivityStore) MaxPathID(ctx context.Context, site domain.Site) (int64, error) {
	query := `
		SELECT COALESCE(MAX(regexp_replace(site_url, '^.*/', '')::bigint), 0)
		FROM activities
		WHERE activity_site = $1`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, site); err != nil {
		return 0, &domain.StoreError{Op: "max path id", Err: err}
	}
	return id, nil
}

// MaxStartDate returns the latest start_date stored for one site, or the zero
// time when nothing is stored yet.
func (s *ActivityStore) MaxStartDate(ctx context.Context, site domain.Site) (time.Time, error) {
	query := `SELECT MAX(start_date) FROM activities WHERE activity_site = $1`

	var ts sql.NullTime
	if err := s.db.GetContext(ctx, &ts, query, site); err != nil {
		return time.Time{}, &domain.StoreError{Op: "max start date", Err: err}
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// ExistingQueryParamIDs returns all numeric ids already stored for one site,
// extracted from the given site_url query parameter.
func (s *ActivityStore) ExistingQueryParamIDs(ctx context.Context, site domain.Site, param string) ([]int64, error) {
	query := `
		SELECT NULLIF(split_part(split_part(site_url, $2 || '=', 2), '&', 1), '')::bigint
		FROM activities
		WHERE activity_site = $1 AND site_url LIKE '%' || $2 || '=%'`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, site, param); err != nil {
		return nil, &domain.StoreError{Op: "existing query param ids", Err: err}
	}
	return ids, nil
}

// ActiveIDs returns surrogate keys of every activity whose date window
// contains now; NULL bounds are unbounded.
func (s *ActivityStore) ActiveIDs(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
		SELECT activity_id
		FROM activities
		WHERE (start_date IS NULL OR start_date <= $1)
		  AND (end_date IS NULL OR end_date >= $1)
		ORDER BY activity_id`

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, &domain.StoreError{Op: "active ids", Err: err}
	}
	return ids, nil
}

// GetByIDs loads full activity rows for the given surrogate keys.
func (s *ActivityStore) GetByIDs(ctx context.Context, ids []int64) ([]domain.Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT activity_id, activity_site, activity_type, activity_content,
		       activity_name, site_url, activity_image_url, keyword,
		       start_date, end_date, created_at
		FROM activities
		WHERE activity_id = ANY($1)
		ORDER BY activity_id`

	var activities []domain.Activity
	if err := s.db.SelectContext(ctx, &activities, query, pq.Array(ids)); err != nil {
		return nil, &domain.StoreError{Op: "get activities by ids", Err: err}
	}
	return activities, nil
}
