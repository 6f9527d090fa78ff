package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	className = "Activities"

	// The server rejects larger result windows with a query maximum
	// result exceeded error.
	fetchPageSize = 10000
)

// Index is the slice of the vector store the reconciler needs.
type Index interface {
	FetchEntries(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, uuid string) error
	AddBatch(ctx context.Context, entries []Entry) (failed int, err error)
}

type Config struct {
	Host   string
	Scheme string
	APIKey string
}

// Weaviate implements Index against a Weaviate instance.
type Weaviate struct {
	client *weaviate.Client
	logger *slog.Logger
}

func NewWeaviate(cfg Config, logger *slog.Logger) (*Weaviate, error) {
	clientCfg := weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	}
	if cfg.APIKey != "" {
		clientCfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Weaviate{client: client, logger: logger}, nil
}

// EnsureSchema creates the Activities class unless it already exists.
func (w *Weaviate) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       className,
		Description: "Indexed activity content with relational metadata",
		Properties: []*models.Property{
			{Name: "activity_id", DataType: []string{"text"}},
			{Name: "activity_name", DataType: []string{"text"}},
			{Name: "activity_type", DataType: []string{"text"}},
			{Name: "activity_content", DataType: []string{"text"}},
			{Name: "chunk_index", DataType: []string{"int"}},
			{Name: "keyword", DataType: []string{"text"}},
			{Name: "url", DataType: []string{"text"}},
			{Name: "start_date", DataType: []string{"date"}},
			{Name: "end_date", DataType: []string{"date"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", className, err)
	}

	w.logger.Info("vector index schema created", "class", className)
	return nil
}

// FetchEntries pages through every object of the class with the cursor API.
func (w *Weaviate) FetchEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	cursor := ""
	for {
		getter := w.client.Data().ObjectsGetter().
			WithClassName(className).
			WithLimit(fetchPageSize)
		if cursor != "" {
			getter = getter.WithAfter(cursor)
		}

		objects, err := getter.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch objects after %q: %w", cursor, err)
		}
		if len(objects) == 0 {
			return entries, nil
		}

		for _, obj := range objects {
			entries = append(entries, w.toEntry(obj))
		}
		cursor = objects[len(objects)-1].ID.String()
	}
}

// toEntry maps a stored object back onto an Entry. Objects whose activity_id
// is missing or malformed keep the zero ActivityID; they never match a live
// activity and get reaped on the next pass, so the parse failure is logged
// rather than returned.
func (w *Weaviate) toEntry(obj *models.Object) Entry {
	entry := Entry{UUID: obj.ID.String()}

	props, ok := obj.Properties.(map[string]any)
	if !ok {
		w.logger.Warn("index object has unreadable properties", "uuid", entry.UUID)
		return entry
	}
	entry.Properties = props

	raw, ok := props["activity_id"].(string)
	if !ok {
		w.logger.Warn("index object missing activity_id", "uuid", entry.UUID)
		return entry
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.logger.Warn("index object has malformed activity_id",
			"uuid", entry.UUID, "activity_id", raw)
		return entry
	}
	entry.ActivityID = id

	switch v := props["chunk_index"].(type) {
	case float64:
		entry.ChunkIndex = int(v)
	case int:
		entry.ChunkIndex = v
	}
	return entry
}

func (w *Weaviate) Delete(ctx context.Context, uuid string) error {
	err := w.client.Data().Deleter().
		WithClassName(className).
		WithID(uuid).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", uuid, err)
	}
	return nil
}

// AddBatch inserts entries in one batch call. Per-object failures are
// reported through the failed count, not the error.
func (w *Weaviate) AddBatch(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, 0, len(entries))
	for _, entry := range entries {
		objects = append(objects, &models.Object{
			Class:      className,
			Properties: entry.Properties,
		})
	}

	responses, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch insert: %w", err)
	}

	failed := 0
	for _, resp := range responses {
		if resp.Result == nil || resp.Result.Errors == nil {
			continue
		}
		failed++
		for _, item := range resp.Result.Errors.Error {
			if item != nil {
				w.logger.Error("object rejected by vector index", "error", item.Message)
			}
		}
	}
	return failed, nil
}
