package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmingest-go/internal/config"
	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/osmsource"
	"github.com/wegman-software/osmingest-go/internal/spatial"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	cfg.MetricsInterval = 0
	return cfg
}

// fixture is three nodes, a way over them and a relation holding the way.
func fixture() []osm.Object {
	return []osm.Object{
		&osm.Node{ID: 1, Lon: 0, Lat: 0, Version: 1},
		&osm.Node{ID: 2, Lon: 1, Lat: 1, Version: 1},
		&osm.Node{ID: 3, Lon: 2, Lat: 0, Version: 1},
		&osm.Way{ID: 10, Version: 1, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}}},
		&osm.Relation{ID: 100, Version: 1, Members: osm.Members{
			{Type: osm.TypeWay, Ref: 10, Role: "outer"},
		}},
	}
}

func memorySource(objs ...osm.Object) Option {
	return WithSource(osmsource.FromScanner("memory", osmsource.NewSliceScanner(context.Background(), objs...)))
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	res := NewCoordinator(cfg, memorySource(fixture()...)).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)

	assert.EqualValues(t, 3, res.Denormalize.Nodes.Written)
	assert.EqualValues(t, 1, res.Denormalize.Ways.Written)
	assert.EqualValues(t, 1, res.Denormalize.Relations.Written)
	assert.Zero(t, res.Denormalize.Faults())
	assert.EqualValues(t, 5, res.Spatial.Inserted())

	idx, err := spatial.OpenBolt(cfg.IndexFile(), cfg.MaxZoom)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	want := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}}
	for _, kind := range []middle.Kind{middle.KindWay, middle.KindRelation} {
		id := int64(10)
		if kind == middle.KindRelation {
			id = 100
		}
		e, ok, err := idx.Get(kind, id)
		require.NoError(t, err)
		require.True(t, ok, "%s %d not indexed", kind, id)
		assert.Equal(t, want, e.Bound)
	}
}

func TestRunSpatialIsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	res := NewCoordinator(cfg, memorySource(fixture()...)).RunDenormalize(context.Background())
	require.NoError(t, res.Err)
	assert.Zero(t, res.Spatial.Inserted())

	for i := 0; i < 2; i++ {
		res = NewCoordinator(cfg).RunSpatial(context.Background())
		require.NoError(t, res.Err)
		assert.EqualValues(t, 5, res.Spatial.Inserted())
	}

	idx, err := spatial.OpenBolt(cfg.IndexFile(), cfg.MaxZoom)
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

type memSink struct {
	mu      sync.Mutex
	entries map[spatial.Key]spatial.Entry
}

func (m *memSink) Insert(_ context.Context, entries []spatial.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Key()] = e
	}
	return nil
}

func (m *memSink) Close() error { return nil }

func TestRunWithSinkAndFaults(t *testing.T) {
	cfg := testConfig(t)
	sink := &memSink{entries: map[spatial.Key]spatial.Entry{}}

	objs := append(fixture(),
		&osm.Way{ID: 11, Version: 1, Nodes: osm.WayNodes{{ID: 1}, {ID: 99}}},
	)
	// ways must precede relations
	objs[4], objs[5] = objs[5], objs[4]

	res := NewCoordinator(cfg, memorySource(objs...), WithSink(sink)).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.EqualValues(t, 1, res.Denormalize.Ways.Unresolved)
	assert.EqualValues(t, 1, res.Denormalize.Ways.Written)

	assert.Len(t, sink.entries, 5)
	assert.NotContains(t, sink.entries, spatial.Key{Kind: middle.KindWay, ID: 11})
}

func TestRunHaltOnError(t *testing.T) {
	cfg := testConfig(t)
	cfg.HaltOnError = true

	objs := []osm.Object{
		&osm.Node{ID: 1, Lon: 0, Lat: 0},
		&osm.Way{ID: 10, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}}},
	}
	res := NewCoordinator(cfg, memorySource(objs...)).Run(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, middle.ErrUnresolvedReference)
	assert.Zero(t, res.Spatial.Inserted())
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewCoordinator(cfg, memorySource(fixture()...)).Run(ctx)
	require.Error(t, res.Err)
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputFile = filepath.Join(t.TempDir(), "missing.osm.pbf")

	res := NewCoordinator(cfg).Run(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRunSpatialWithoutStores(t *testing.T) {
	cfg := testConfig(t)

	res := NewCoordinator(cfg).RunSpatial(context.Background())
	require.Error(t, res.Err)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusSucceeded: "succeeded",
		StatusFailed:    "failed",
		StatusCancelled: "cancelled",
		Status(42):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
