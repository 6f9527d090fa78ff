package crawler

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"activity_fetcher/internal/domain"
)

// Source is one external site adapter. Fetch discovers the stored watermark,
// pages through the remote listing, fetches details, enriches, and returns the
// normalized records of a single pass. Per-item failures are handled inside
// the adapter; an error return means the adapter as a whole could not run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (domain.Batch, error)
}

type ActivityStore interface {
	InsertBatch(ctx context.Context, activities []domain.Activity) ([]string, error)
}

type IssueStore interface {
	InsertBatch(ctx context.Context, issues []domain.Issue) (int64, error)
}

// Publisher emits an event for every newly persisted activity. Optional: a nil
// publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, activity *domain.Activity) error
	Close() error
}
