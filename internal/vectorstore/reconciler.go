package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"activity_fetcher/internal/domain"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

type activityStore interface {
	ActiveIDs(ctx context.Context, now time.Time) ([]int64, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.Activity, error)
}

// entryKey identifies one index entry. Chunked content legitimately yields
// several entries per activity, one per chunk.
type entryKey struct {
	activityID int64
	chunkIndex int
}

// Reconciler drives the index toward the set of currently active activities.
// Each pass is idempotent: once the index matches the store, further passes
// change nothing.
type Reconciler struct {
	index        Index
	store        activityStore
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger

	now func() time.Time
}

func NewReconciler(index Index, store activityStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		index:        index,
		store:        store,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context) error {
	entries, err := r.index.FetchEntries(ctx)
	if err != nil {
		return fmt.Errorf("fetch index entries: %w", err)
	}

	survivors, err := r.dropDuplicates(ctx, entries)
	if err != nil {
		return err
	}

	activeIDs, err := r.store.ActiveIDs(ctx, r.now())
	if err != nil {
		return fmt.Errorf("load active ids: %w", err)
	}
	active := make(map[int64]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	if err := r.dropStale(ctx, survivors, active); err != nil {
		return err
	}

	return r.addMissing(ctx, survivors, activeIDs)
}

// dropDuplicates keeps the first-seen entry per (activity id, chunk index)
// and deletes the rest. Returns the surviving entry per key.
func (r *Reconciler) dropDuplicates(ctx context.Context, entries []Entry) (map[entryKey]Entry, error) {
	survivors := make(map[entryKey]Entry, len(entries))
	deleted := 0

	for _, entry := range entries {
		key := entryKey{activityID: entry.ActivityID, chunkIndex: entry.ChunkIndex}
		first, seen := survivors[key]
		if !seen {
			survivors[key] = entry
			continue
		}

		r.logger.Warn("deleting duplicate index entry",
			"activity_id", entry.ActivityID, "chunk_index", entry.ChunkIndex,
			"survived", first.UUID, "killed", entry.UUID)
		if err := r.index.Delete(ctx, entry.UUID); err != nil {
			return nil, fmt.Errorf("delete duplicate %s: %w", entry.UUID, err)
		}
		deleted++
	}

	if deleted > 0 {
		r.logger.Info("duplicate entries removed", "count", deleted)
	}
	return survivors, nil
}

// dropStale removes surviving entries whose activity is no longer active.
func (r *Reconciler) dropStale(ctx context.Context, survivors map[entryKey]Entry, active map[int64]struct{}) error {
	deleted := 0
	for key, entry := range survivors {
		if _, ok := active[key.activityID]; ok {
			continue
		}
		if err := r.index.Delete(ctx, entry.UUID); err != nil {
			return fmt.Errorf("delete stale %s: %w", entry.UUID, err)
		}
		delete(survivors, key)
		deleted++
	}

	if deleted > 0 {
		r.logger.Info("stale entries removed", "count", deleted)
	}
	return nil
}

// addMissing indexes active activities that have no entry yet, content
// chunked so long descriptions stay searchable.
func (r *Reconciler) addMissing(ctx context.Context, survivors map[entryKey]Entry, activeIDs []int64) error {
	indexed := make(map[int64]struct{}, len(survivors))
	for key := range survivors {
		indexed[key.activityID] = struct{}{}
	}

	var missing []int64
	for _, id := range activeIDs {
		if _, ok := indexed[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		r.logger.Info("index already up to date")
		return nil
	}

	activities, err := r.store.GetByIDs(ctx, missing)
	if err != nil {
		return fmt.Errorf("load missing activities: %w", err)
	}

	var entries []Entry
	for _, activity := range activities {
		entries = append(entries, entriesFor(activity, r.chunkSize, r.chunkOverlap)...)
	}

	failed, err := r.index.AddBatch(ctx, entries)
	if err != nil {
		return fmt.Errorf("add missing entries: %w", err)
	}
	if failed > 0 {
		r.logger.Error("some entries were not indexed", "failed", failed)
	}

	r.logger.Info("missing activities indexed",
		"activities", len(activities), "entries", len(entries)-failed)
	return nil
}
