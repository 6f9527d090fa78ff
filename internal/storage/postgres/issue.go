package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"activity_fetcher/internal/domain"
)

type IssueStore struct {
	db *sqlx.DB
}

func NewIssueStore(db *sqlx.DB) *IssueStore {
	return &IssueStore{db: db}
}

// InsertBatch persists issues, skipping rows whose site_url already exists.
// Returns the number of rows actually inserted.
func (s *IssueStore) InsertBatch(ctx context.Context, issues []domain.Issue) (int64, error) {
	if len(issues) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO issues (
		content, image_url, issue_date, keyword, site_url, title, created_at
	) VALUES `)

	args := make([]interface{}, 0, len(issues)*6)

	for i, iss := range issues {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < 6; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*6 + j + 1))
		}
		sb.WriteString(", now())")
		args = append(args,
			iss.Content, iss.ImageURL, iss.IssueDate, iss.Keyword, iss.SiteURL, iss.Title,
		)
	}
	sb.WriteString(" ON CONFLICT (site_url) DO NOTHING")

	res, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, &domain.StoreError{Op: "insert issues", Err: err}
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StoreError{Op: "insert issues", Err: err}
	}
	return inserted, nil
}

// ExistingURLs returns the set of every issue site_url already stored. The BBC
// source uses it to drop already-seen articles before fetching their content.
func (s *IssueStore) ExistingURLs(ctx context.Context) (map[string]struct{}, error) {
	var urls []string
	if err := s.db.SelectContext(ctx, &urls, `SELECT site_url FROM issues`); err != nil {
		return nil, &domain.StoreError{Op: "existing issue urls", Err: err}
	}

	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set, nil
}
