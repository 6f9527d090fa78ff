// Package crawler orchestrates the source adapters: it runs a named subset of
// them, isolates failures per source, persists their batches idempotently and
// tracks run status under concurrent trigger requests.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"activity_fetcher/internal/domain"
)

type Service struct {
	sources    []Source
	byName     map[string]Source
	activities ActivityStore
	issues     IssueStore
	publisher  Publisher
	status     *StatusHolder
	runTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

func New(
	sources []Source,
	activities ActivityStore,
	issues IssueStore,
	publisher Publisher,
	runTimeout time.Duration,
	logger *slog.Logger,
) *Service {
	byName := make(map[string]Source, len(sources))
	for _, src := range sources {
		byName[src.Name()] = src
	}

	return &Service{
		sources:    sources,
		byName:     byName,
		activities: activities,
		issues:     issues,
		publisher:  publisher,
		status:     NewStatusHolder(),
		runTimeout: runTimeout,
		logger:     logger.With("component", "crawler"),
	}
}

// SourceNames lists registered adapters in run order.
func (s *Service) SourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}

// Status returns the current run status.
func (s *Service) Status() domain.RunStatus {
	return s.status.Current()
}

// Start launches a crawl in the background and returns immediately. An empty
// target list means all sources. Returns domain.ErrAlreadyRunning when a run
// is in progress; the second request is rejected, never queued.
func (s *Service) Start(targets []string) error {
	if !s.status.TryStart(targets) {
		return domain.ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		stats := s.Run(ctx, targets)
		s.status.Finish(runError(stats))
	}()

	return nil
}

// Wait blocks until any background run started via Start has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Run executes the selected sources sequentially. A source failure is logged
// and recorded in the stats without aborting the remaining sources.
func (s *Service) Run(ctx context.Context, targets []string) domain.CrawlStats {
	start := time.Now()
	selected := s.selectSources(targets)

	s.logger.Info("crawl started", "targets", names(selected))

	var stats domain.CrawlStats
	for _, src := range selected {
		stats.Sources = append(stats.Sources, s.runSource(ctx, src))
	}
	stats.Duration = time.Since(start)

	s.logger.Info("crawl finished",
		"duration", stats.Duration,
		"failed", stats.Failed(),
	)

	return stats
}

func (s *Service) runSource(ctx context.Context, src Source) domain.SourceStats {
	st := domain.SourceStats{Source: src.Name()}
	log := s.logger.With("source", src.Name())

	log.Info("source started")

	batch, err := src.Fetch(ctx)
	if err != nil {
		st.Err = fmt.Errorf("fetch: %w", err)
		log.Error("source failed", "error", err)
		return st
	}
	st.Fetched = len(batch.Activities) + len(batch.Issues)

	saved, err := s.persist(ctx, batch)
	st.Saved = saved
	if err != nil {
		st.Err = fmt.Errorf("persist: %w", err)
		log.Error("persist failed", "error", err)
		return st
	}

	log.Info("source finished", "fetched", st.Fetched, "saved", st.Saved)
	return st
}

func (s *Service) persist(ctx context.Context, batch domain.Batch) (int, error) {
	saved := 0

	if len(batch.Activities) > 0 {
		insertedURLs, err := s.activities.InsertBatch(ctx, batch.Activities)
		if err != nil {
			return saved, err
		}
		saved += len(insertedURLs)
		s.publishInserted(ctx, batch.Activities, insertedURLs)
	}

	if len(batch.Issues) > 0 {
		n, err := s.issues.InsertBatch(ctx, batch.Issues)
		if err != nil {
			return saved, err
		}
		saved += int(n)
	}

	return saved, nil
}

// publishInserted emits an event per newly inserted activity. Publish errors
// are logged and dropped: events are a convenience for downstream consumers,
// not part of ingestion correctness.
func (s *Service) publishInserted(ctx context.Context, activities []domain.Activity, insertedURLs []string) {
	if s.publisher == nil || len(insertedURLs) == 0 {
		return
	}

	inserted := make(map[string]struct{}, len(insertedURLs))
	for _, u := range insertedURLs {
		inserted[u] = struct{}{}
	}

	for i := range activities {
		if _, ok := inserted[activities[i].SiteURL]; !ok {
			continue
		}
		if err := s.publisher.Publish(ctx, &activities[i]); err != nil {
			s.logger.Warn("publish failed",
				"site_url", activities[i].SiteURL,
				"error", err,
			)
		}
	}
}

// selectSources resolves target names to adapters, preserving run order. An
// empty list selects everything; unknown names are logged and skipped.
func (s *Service) selectSources(targets []string) []Source {
	if len(targets) == 0 {
		return s.sources
	}

	var selected []Source
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		name := strings.TrimSpace(t)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		src, ok := s.byName[name]
		if !ok {
			s.logger.Warn("unknown crawl target", "target", name)
			continue
		}
		selected = append(selected, src)
	}
	return selected
}

func runError(stats domain.CrawlStats) error {
	var errs []error
	for _, src := range stats.Sources {
		if src.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Source, src.Err))
		}
	}
	return errors.Join(errs...)
}

func names(sources []Source) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = src.Name()
	}
	return out
}
