package metrics

import (
	"context"
	"time"

	"github.com/maauso/voicedesk/internal/objectstore"
)

// Compile-time check that Store implements objectstore.DB.
var _ objectstore.DB = (*Store)(nil)

// Store decorates an objectstore.DB with operation counters and latency.
type Store struct {
	next objectstore.DB
	m    *Metrics
}

// InstrumentStore wraps db. A nil m returns db unchanged.
func InstrumentStore(db objectstore.DB, m *Metrics) objectstore.DB {
	if m == nil {
		return db
	}
	return &Store{next: db, m: m}
}

func (s *Store) Put(ctx context.Context, store string, value any) error {
	defer s.observe("put", time.Now())
	err := s.next.Put(ctx, store, value)
	s.count("put", store, err)
	return err
}

func (s *Store) Delete(ctx context.Context, store, key string) error {
	defer s.observe("delete", time.Now())
	err := s.next.Delete(ctx, store, key)
	s.count("delete", store, err)
	return err
}

func (s *Store) GetAll(ctx context.Context, store, index string) ([][]byte, error) {
	defer s.observe("get_all", time.Now())
	out, err := s.next.GetAll(ctx, store, index)
	s.count("get_all", store, err)
	return out, err
}

func (s *Store) Clear(ctx context.Context, store string) error {
	defer s.observe("clear", time.Now())
	err := s.next.Clear(ctx, store)
	s.count("clear", store, err)
	return err
}

func (s *Store) count(op, store string, err error) {
	s.m.StoreOps.WithLabelValues(op, store, Outcome(err)).Inc()
}

func (s *Store) observe(op string, start time.Time) {
	s.m.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
