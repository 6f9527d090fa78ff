package crawler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"activity_fetcher/internal/crawler/mocks"
	"activity_fetcher/internal/domain"
)

type CrawlerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	wevity     *mocks.MockSource
	unv        *mocks.MockSource
	activities *mocks.MockActivityStore
	issues     *mocks.MockIssueStore
	publisher  *mocks.MockPublisher

	service *Service
	logger  *slog.Logger
}

func (s *CrawlerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.wevity = mocks.NewMockSource(s.ctrl)
	s.unv = mocks.NewMockSource(s.ctrl)
	s.activities = mocks.NewMockActivityStore(s.ctrl)
	s.issues = mocks.NewMockIssueStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.wevity.EXPECT().Name().Return("wevity").AnyTimes()
	s.unv.EXPECT().Name().Return("unv").AnyTimes()

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = New(
		[]Source{s.wevity, s.unv},
		s.activities,
		s.issues,
		s.publisher,
		time.Minute,
		s.logger,
	)
}

func (s *CrawlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestCrawlerTestSuite(t *testing.T) {
	suite.Run(t, new(CrawlerTestSuite))
}

func activityBatch(urls ...string) domain.Batch {
	var b domain.Batch
	for _, u := range urls {
		b.Activities = append(b.Activities, domain.Activity{
			Site:    domain.SiteWevity,
			SiteURL: u,
			Keyword: domain.DefaultKeyword,
		})
	}
	return b
}

func (s *CrawlerTestSuite) TestRun_AllSources() {
	ctx := context.Background()
	batch := activityBatch("https://www.wevity.com/?c=find&ix=1001")

	s.wevity.EXPECT().Fetch(ctx).Return(batch, nil)
	s.unv.EXPECT().Fetch(ctx).Return(domain.Batch{}, nil)

	s.activities.EXPECT().InsertBatch(ctx, batch.Activities).
		Return([]string{batch.Activities[0].SiteURL}, nil)
	s.publisher.EXPECT().Publish(ctx, &batch.Activities[0]).Return(nil)

	stats := s.service.Run(ctx, nil)

	s.Len(stats.Sources, 2)
	s.False(stats.Failed())
	s.Equal(1, stats.Sources[0].Saved)
	s.Equal(0, stats.Sources[1].Fetched)
}

func (s *CrawlerTestSuite) TestRun_SourceFailureIsIsolated() {
	ctx := context.Background()
	batch := activityBatch("https://www.wevity.com/?c=find&ix=1002")

	s.wevity.EXPECT().Fetch(ctx).Return(domain.Batch{}, errors.New("listing unreachable"))
	s.unv.EXPECT().Fetch(ctx).Return(batch, nil)

	s.activities.EXPECT().InsertBatch(ctx, batch.Activities).
		Return([]string{batch.Activities[0].SiteURL}, nil)
	s.publisher.EXPECT().Publish(ctx, &batch.Activities[0]).Return(nil)

	stats := s.service.Run(ctx, nil)

	s.True(stats.Failed())
	s.Error(stats.Sources[0].Err)
	s.NoError(stats.Sources[1].Err)
	s.Equal(1, stats.Sources[1].Saved)
}

func (s *CrawlerTestSuite) TestRun_DuplicateBatchSavesNothing() {
	ctx := context.Background()
	batch := activityBatch("https://www.wevity.com/?c=find&ix=1001")

	s.wevity.EXPECT().Fetch(ctx).Return(batch, nil)
	s.unv.EXPECT().Fetch(ctx).Return(domain.Batch{}, nil)

	// Everything conflicts on site_url: nothing inserted, nothing published.
	s.activities.EXPECT().InsertBatch(ctx, batch.Activities).Return(nil, nil)

	stats := s.service.Run(ctx, nil)

	s.False(stats.Failed())
	s.Equal(1, stats.Sources[0].Fetched)
	s.Equal(0, stats.Sources[0].Saved)
}

func (s *CrawlerTestSuite) TestRun_PersistFailureRecorded() {
	ctx := context.Background()
	batch := activityBatch("https://www.wevity.com/?c=find&ix=1003")

	s.wevity.EXPECT().Fetch(ctx).Return(batch, nil)
	s.unv.EXPECT().Fetch(ctx).Return(domain.Batch{}, nil)

	s.activities.EXPECT().InsertBatch(ctx, batch.Activities).
		Return(nil, &domain.StoreError{Op: "insert activities", Err: errors.New("connection refused")})

	stats := s.service.Run(ctx, nil)

	s.True(stats.Failed())
	s.ErrorContains(stats.Sources[0].Err, "persist")
}

func (s *CrawlerTestSuite) TestRun_IssueBatch() {
	ctx := context.Background()
	batch := domain.Batch{Issues: []domain.Issue{{
		Title:   "article",
		SiteURL: "https://www.bbc.com/news/articles/abc",
		Keyword: domain.DefaultKeyword,
	}}}

	s.wevity.EXPECT().Fetch(ctx).Return(batch, nil)

	s.issues.EXPECT().InsertBatch(ctx, batch.Issues).Return(int64(1), nil)

	stats := s.service.Run(ctx, []string{"wevity"})

	s.False(stats.Failed())
	s.Equal(1, stats.Sources[0].Saved)
}

func (s *CrawlerTestSuite) TestRun_UnknownTargetSkipped() {
	ctx := context.Background()

	s.unv.EXPECT().Fetch(ctx).Return(domain.Batch{}, nil)

	stats := s.service.Run(ctx, []string{"nosuch", "unv"})

	s.Len(stats.Sources, 1)
	s.Equal("unv", stats.Sources[0].Source)
}

func (s *CrawlerTestSuite) TestRun_NilPublisher() {
	ctx := context.Background()
	batch := activityBatch("https://www.wevity.com/?c=find&ix=1004")

	service := New([]Source{s.wevity}, s.activities, s.issues, nil, time.Minute, s.logger)

	s.wevity.EXPECT().Fetch(ctx).Return(batch, nil)
	s.activities.EXPECT().InsertBatch(ctx, batch.Activities).
		Return([]string{batch.Activities[0].SiteURL}, nil)

	stats := service.Run(ctx, nil)

	s.False(stats.Failed())
	s.Equal(1, stats.Sources[0].Saved)
}

func (s *CrawlerTestSuite) TestStart_RejectsConcurrentRun() {
	release := make(chan struct{})

	s.wevity.EXPECT().Fetch(gomock.Any()).DoAndReturn(
		func(context.Context) (domain.Batch, error) {
			<-release
			return domain.Batch{}, nil
		},
	)
	s.unv.EXPECT().Fetch(gomock.Any()).Return(domain.Batch{}, nil)

	s.Require().NoError(s.service.Start(nil))
	s.Equal(domain.RunRunning, s.service.Status().State)

	err := s.service.Start(nil)
	s.ErrorIs(err, domain.ErrAlreadyRunning)

	close(release)
	s.service.Wait()

	s.Equal(domain.RunDone, s.service.Status().State)
}

func (s *CrawlerTestSuite) TestStart_NearSimultaneousRequests() {
	release := make(chan struct{})

	s.wevity.EXPECT().Fetch(gomock.Any()).DoAndReturn(
		func(context.Context) (domain.Batch, error) {
			<-release
			return domain.Batch{}, nil
		},
	).MaxTimes(1)
	s.unv.EXPECT().Fetch(gomock.Any()).Return(domain.Batch{}, nil).MaxTimes(1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.service.Start(nil)
		}(i)
	}
	wg.Wait()

	started, rejected := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			started++
		case errors.Is(err, domain.ErrAlreadyRunning):
			rejected++
		}
	}
	s.Equal(1, started)
	s.Equal(1, rejected)

	close(release)
	s.service.Wait()
}

func (s *CrawlerTestSuite) TestStart_FailureEndsInErrorState() {
	s.wevity.EXPECT().Fetch(gomock.Any()).Return(domain.Batch{}, errors.New("boom"))

	s.Require().NoError(s.service.Start([]string{"wevity"}))
	s.service.Wait()

	st := s.service.Status()
	s.Equal(domain.RunError, st.State)
	s.Contains(st.Error, "boom")
	s.Equal([]string{"wevity"}, st.Targets)
}

func (s *CrawlerTestSuite) TestStart_CanRunAgainAfterFinish() {
	s.wevity.EXPECT().Fetch(gomock.Any()).Return(domain.Batch{}, nil).Times(2)
	s.unv.EXPECT().Fetch(gomock.Any()).Return(domain.Batch{}, nil).Times(2)

	s.Require().NoError(s.service.Start(nil))
	s.service.Wait()
	s.Require().NoError(s.service.Start(nil))
	s.service.Wait()

	s.Equal(domain.RunDone, s.service.Status().State)
}
