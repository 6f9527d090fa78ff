package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Crawler defines the interface for triggering a crawl pass.
type Crawler interface {
	Start(targets []string) error
}

// Scheduler triggers a full crawl once a day at a fixed local time.
type Scheduler struct {
	crawler Crawler
	hour    int
	minute  int
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(crawler Crawler, hour, minute int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		crawler: crawler,
		hour:    hour,
		minute:  minute,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "hour", s.hour, "minute", s.minute)

	for {
		next := s.nextRun(s.now())
		s.logger.Info("next crawl scheduled", "at", next)

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.trigger()
		}
	}
}

// nextRun returns the next occurrence of the configured wall-clock time
// strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// trigger kicks off a crawl of all sources. A run already in flight is not
// an error worth more than a notice: the work is being done either way.
func (s *Scheduler) trigger() {
	if err := s.crawler.Start(nil); err != nil {
		s.logger.Warn("scheduled crawl not started", "error", err)
		return
	}
	s.logger.Info("scheduled crawl started")
}
