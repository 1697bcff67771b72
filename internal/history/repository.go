package history

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bytedance/sonic"

	"github.com/maauso/voicedesk/internal/objectstore"
)

// Repository persists one kind of history item in one object store.
type Repository[T Entry] struct {
	db     objectstore.DB
	store  string
	logger *slog.Logger
}

// NewRepository creates a repository over the named store.
func NewRepository[T Entry](db objectstore.DB, store string, logger *slog.Logger) *Repository[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository[T]{db: db, store: store, logger: logger}
}

// NewRecordings returns the repository of the recordings store.
func NewRecordings(db objectstore.DB, logger *slog.Logger) *Repository[RecordingItem] {
	return NewRepository[RecordingItem](db, StoreRecordings, logger)
}

// NewTTSHistory returns the repository of the speech history store.
func NewTTSHistory(db objectstore.DB, logger *slog.Logger) *Repository[TTSHistoryItem] {
	return NewRepository[TTSHistoryItem](db, StoreTTSHistory, logger)
}

// List returns every item, newest first. Records that fail to decode are
// skipped and logged.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	raw, err := r.db.GetAll(ctx, r.store, IndexTimestamp)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.store, err)
	}

	items := make([]T, 0, len(raw))
	for _, data := range raw {
		var item T
		if err := sonic.Unmarshal(data, &item); err != nil {
			r.logger.Warn("skipping undecodable record",
				slog.String("store", r.store),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, item)
	}

	SortNewestFirst(items)
	return items, nil
}

// Put upserts item.
func (r *Repository[T]) Put(ctx context.Context, item T) error {
	if err := r.db.Put(ctx, r.store, item); err != nil {
		return fmt.Errorf("%w: put %s/%s: %w", ErrPersistence, r.store, item.EntryID(), err)
	}
	return nil
}

// Delete removes the item with id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if err := r.db.Delete(ctx, r.store, id); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", ErrPersistence, r.store, id, err)
	}
	return nil
}

// Clear removes every item.
func (r *Repository[T]) Clear(ctx context.Context) error {
	if err := r.db.Clear(ctx, r.store); err != nil {
		return fmt.Errorf("%w: clear %s: %w", ErrPersistence, r.store, err)
	}
	return nil
}

// SortNewestFirst orders items by descending timestamp, breaking ties by id.
func SortNewestFirst[T Entry](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		if c := cmp.Compare(b.EntryTime(), a.EntryTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.EntryID(), b.EntryID())
	})
}
