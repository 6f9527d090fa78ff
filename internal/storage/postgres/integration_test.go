//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"activity_fetcher/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_activities.up.sql"),
			filepath.Join(migrationsPath, "002_create_issues.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM activities")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM issues")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func wevityActivity(ix int64) domain.Activity {
	return domain.Activity{
		Site:    domain.SiteWevity,
		Type:    domain.TypeContest,
		Name:    "contest",
		Content: "contest details",
		SiteURL: "https://www.wevity.com/?c=find&ix=" + strconv.FormatInt(ix, 10),
		Keyword: domain.KeywordTechnology,
	}
}

func (s *PostgresIntegrationSuite) TestActivityStore_InsertBatch_Idempotent() {
	store := NewActivityStore(s.db)

	batch := []domain.Activity{wevityActivity(100), wevityActivity(101)}

	inserted, err := store.InsertBatch(s.ctx, batch)
	s.NoError(err)
	s.Len(inserted, 2)

	// Re-running the same batch is a silent no-op.
	inserted, err = store.InsertBatch(s.ctx, batch)
	s.NoError(err)
	s.Empty(inserted)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM activities"))
	s.Equal(2, count)
}

func (s *PostgresIntegrationSuite) TestActivityStore_InsertBatch_ReportsOnlyNewURLs() {
	store := NewActivityStore(s.db)

	_, err := store.InsertBatch(s.ctx, []domain.Activity{wevityActivity(100)})
	s.NoError(err)

	inserted, err := store.InsertBatch(s.ctx, []domain.Activity{wevityActivity(100), wevityActivity(200)})
	s.NoError(err)
	s.Equal([]string{"https://www.wevity.com/?c=find&ix=200"}, inserted)
}

func (s *PostgresIntegrationSuite) TestActivityStore_MaxQueryParamID() {
	store := NewActivityStore(s.db)

	// Empty store reports watermark zero.
	max, err := store.MaxQueryParamID(s.ctx, domain.SiteWevity, "ix")
	s.NoError(err)
	s.Equal(int64(0), max)

	_, err = store.InsertBatch(s.ctx, []domain.Activity{
		wevityActivity(998), wevityActivity(1005), wevityActivity(1002),
	})
	s.NoError(err)

	max, err = store.MaxQueryParamID(s.ctx, domain.SiteWevity, "ix")
	s.NoError(err)
	s.Equal(int64(1005), max)

	// Other sites do not bleed into the watermark.
	max, err = store.MaxQueryParamID(s.ctx, domain.SiteV1365, "progrmRegistNo")
	s.NoError(err)
	s.Equal(int64(0), max)
}

func (s *PostgresIntegrationSuite) TestActivityStore_MaxPathID() {
	store := NewActivityStore(s.db)

	_, err := store.InsertBatch(s.ctx, []domain.Activity{
		{Site: domain.SiteUNV, Type: domain.TypeVolunteer, SiteURL: "https://app.unv.org/opportunities/130", Keyword: domain.DefaultKeyword},
		{Site: domain.SiteUNV, Type: domain.TypeVolunteer, SiteURL: "https://app.unv.org/opportunities/150", Keyword: domain.DefaultKeyword},
	})
	s.NoError(err)

	max, err := store.MaxPathID(s.ctx, domain.SiteUNV)
	s.NoError(err)
	s.Equal(int64(150), max)
}

func (s *PostgresIntegrationSuite) TestActivityStore_MaxStartDate() {
	store := NewActivityStore(s.db)

	earlier := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

	_, err := store.InsertBatch(s.ctx, []domain.Activity{
		{Site: domain.SiteIdealist, Type: domain.TypeVolunteer, SiteURL: "https://www.idealist.org/a", Keyword: domain.DefaultKeyword, StartDate: &earlier},
		{Site: domain.SiteIdealist, Type: domain.TypeVolunteer, SiteURL: "https://www.idealist.org/b", Keyword: domain.DefaultKeyword, StartDate: &later},
	})
	s.NoError(err)

	max, err := store.MaxStartDate(s.ctx, domain.SiteIdealist)
	s.NoError(err)
	s.True(max.Equal(later))
}

func (s *PostgresIntegrationSuite) TestActivityStore_ExistingQueryParamIDs() {
	store := NewActivityStore(s.db)

	_, err := store.InsertBatch(s.ctx, []domain.Activity{
		{Site: domain.SiteV1365, Type: domain.TypeVolunteer, SiteURL: "https://www.1365.go.kr/d?type=show&progrmRegistNo=31", Keyword: domain.DefaultKeyword},
		{Site: domain.SiteV1365, Type: domain.TypeVolunteer, SiteURL: "https://www.1365.go.kr/d?type=show&progrmRegistNo=47", Keyword: domain.DefaultKeyword},
	})
	s.NoError(err)

	ids, err := store.ExistingQueryParamIDs(s.ctx, domain.SiteV1365, "progrmRegistNo")
	s.NoError(err)
	s.ElementsMatch([]int64{31, 47}, ids)
}

func (s *PostgresIntegrationSuite) TestActivityStore_ActiveIDs_NullBoundsUnbounded() {
	store := NewActivityStore(s.db)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -2, 0)
	future := now.AddDate(0, 2, 0)
	ended := now.AddDate(0, -1, 0)

	_, err := store.InsertBatch(s.ctx, []domain.Activity{
		{Site: domain.SiteWevity, Type: domain.TypeContest, SiteURL: "u1", Keyword: domain.DefaultKeyword, StartDate: &past, EndDate: &future},
		{Site: domain.SiteWevity, Type: domain.TypeContest, SiteURL: "u2", Keyword: domain.DefaultKeyword, StartDate: &past, EndDate: &ended},
		{Site: domain.SiteWevity, Type: domain.TypeContest, SiteURL: "u3", Keyword: domain.DefaultKeyword},
		{Site: domain.SiteWevity, Type: domain.TypeContest, SiteURL: "u4", Keyword: domain.DefaultKeyword, StartDate: &future},
	})
	s.NoError(err)

	ids, err := store.ActiveIDs(s.ctx, now)
	s.NoError(err)
	s.Len(ids, 2) // the open window and the fully unbounded record

	activities, err := store.GetByIDs(s.ctx, ids)
	s.NoError(err)
	urls := make([]string, 0, len(activities))
	for _, a := range activities {
		urls = append(urls, a.SiteURL)
	}
	s.ElementsMatch([]string{"u1", "u3"}, urls)
}

func (s *PostgresIntegrationSuite) TestIssueStore_InsertBatch_Idempotent() {
	store := NewIssueStore(s.db)

	issues := []domain.Issue{
		{Title: "headline", Content: "body", IssueDate: time.Now().UTC(), Keyword: domain.KeywordEconomy, SiteURL: "https://www.bbc.com/news/a"},
		{Title: "other", Content: "body", IssueDate: time.Now().UTC(), Keyword: domain.KeywordEconomy, SiteURL: "https://www.bbc.com/news/b"},
	}

	saved, err := store.InsertBatch(s.ctx, issues)
	s.NoError(err)
	s.Equal(int64(2), saved)

	saved, err = store.InsertBatch(s.ctx, issues)
	s.NoError(err)
	s.Equal(int64(0), saved)
}

func (s *PostgresIntegrationSuite) TestIssueStore_ExistingURLs() {
	store := NewIssueStore(s.db)

	_, err := store.InsertBatch(s.ctx, []domain.Issue{
		{Title: "headline", IssueDate: time.Now().UTC(), Keyword: domain.KeywordEconomy, SiteURL: "https://www.bbc.com/news/a"},
	})
	s.NoError(err)

	urls, err := store.ExistingURLs(s.ctx)
	s.NoError(err)
	s.Contains(urls, "https://www.bbc.com/news/a")
	s.Len(urls, 1)
}
