package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voicedesk/internal/objectstore"
)

type item struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

func testSchema() objectstore.Config {
	return objectstore.Config{
		Name:    "metricsdb",
		Version: 1,
		Stores: []objectstore.StoreSpec{{
			Name:    "items",
			Indexes: []objectstore.IndexSpec{{Name: "timestamp", KeyPath: "timestamp"}},
		}},
	}
}

func TestNew_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordingsStarted.Inc()
	m.Syntheses.WithLabelValues(OutcomeUnsaved).Inc()
	m.LiveHandles.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "voicedesk_recordings_started_total")
	assert.Contains(t, names, "voicedesk_syntheses_total")
	assert.Contains(t, names, "voicedesk_playback_handles_live")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LiveHandles))
}

func TestNew_NilRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).RecordingsStarted.Inc()
		New(nil).RecordingsStarted.Inc()
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(errors.New("x")))
}

func TestInstrumentStore_CountsOperations(t *testing.T) {
	m := New(prometheus.NewRegistry())
	db := InstrumentStore(objectstore.NewMemory(testSchema()), m)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "items", item{ID: "a", Timestamp: 1}))
	require.NoError(t, db.Put(ctx, "items", item{ID: "b", Timestamp: 2}))
	_, err := db.GetAll(ctx, "items", "timestamp")
	require.NoError(t, err)
	require.NoError(t, db.Delete(ctx, "items", "a"))
	require.NoError(t, db.Clear(ctx, "items"))
	assert.Error(t, db.Put(ctx, "missing", item{ID: "c"}))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.StoreOps.WithLabelValues("put", "items", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOps.WithLabelValues("get_all", "items", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOps.WithLabelValues("delete", "items", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOps.WithLabelValues("clear", "items", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOps.WithLabelValues("put", "missing", OutcomeError)))
}

func TestInstrumentStore_NilMetrics(t *testing.T) {
	mem := objectstore.NewMemory(testSchema())
	assert.Same(t, objectstore.DB(mem), InstrumentStore(mem, nil))
}
