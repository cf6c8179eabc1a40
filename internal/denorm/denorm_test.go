package denorm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/nodeindex"
	"github.com/wegman-software/osmingest-go/internal/osmsource"
)

func node(id int64, lon, lat float64, tags ...osm.Tag) *osm.Node {
	return &osm.Node{ID: osm.NodeID(id), Lon: lon, Lat: lat, Tags: tags, Version: 1}
}

func way(id int64, refs ...int64) *osm.Way {
	w := &osm.Way{ID: osm.WayID(id), Version: 1}
	for _, r := range refs {
		w.Nodes = append(w.Nodes, osm.WayNode{ID: osm.NodeID(r)})
	}
	return w
}

func relation(id int64, members ...osm.Member) *osm.Relation {
	return &osm.Relation{ID: osm.RelationID(id), Members: members}
}

func member(t osm.Type, ref int64) osm.Member {
	return osm.Member{Type: t, Ref: ref}
}

func run(t *testing.T, opts Options, objs ...osm.Object) (*middle.Stores, *Denormalizer, error) {
	t.Helper()
	stores, err := middle.CreateStores(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	d := New(stores, opts)
	err = d.Run(context.Background(), osmsource.NewSliceScanner(context.Background(), objs...))
	return stores, d, err
}

func getWay(t *testing.T, stores *middle.Stores, id int64) (*middle.Way, bool) {
	t.Helper()
	rec, ok, err := stores.Get(middle.KindWay, id)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	return rec.(*middle.Way), true
}

func getRelation(t *testing.T, stores *middle.Stores, id int64) (*middle.Relation, bool) {
	t.Helper()
	rec, ok, err := stores.Get(middle.KindRelation, id)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	return rec.(*middle.Relation), true
}

func TestWayResolution(t *testing.T) {
	stores, d, err := run(t, Options{Workers: 4},
		node(1, 0, 0),
		node(2, 1, 1),
		node(3, 2, 0),
		way(10, 1, 2, 3),
	)
	require.NoError(t, err)

	w, ok := getWay(t, stores, 10)
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}, {2, 0}}, w.Geometry)
	assert.Equal(t, []int64{1, 2, 3}, w.Refs)
	require.NotNil(t, w.BBox)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}}, *w.BBox)

	s := d.Stats().Summary()
	assert.Equal(t, int64(3), s.Nodes.Written)
	assert.Equal(t, int64(1), s.Ways.Written)
	assert.Zero(t, s.Faults())
}

func TestWayMissingReference(t *testing.T) {
	var faults []*middle.Fault
	stores, d, err := run(t, Options{OnFault: func(f *middle.Fault) { faults = append(faults, f) }},
		node(1, 0, 0),
		node(2, 1, 1),
		way(10, 1, 2, 4),
		way(11, 1, 2),
	)
	require.NoError(t, err)

	_, ok := getWay(t, stores, 10)
	assert.False(t, ok)
	_, ok = getWay(t, stores, 11)
	assert.True(t, ok)

	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], middle.ErrUnresolvedReference)
	assert.Equal(t, int64(10), faults[0].ID)
	assert.Equal(t, int64(4), faults[0].Ref)
	assert.Equal(t, int64(1), d.Stats().Summary().Ways.Unresolved)
}

func TestWaySkipMissing(t *testing.T) {
	stores, d, err := run(t, Options{SkipMissing: true},
		node(1, 0, 0),
		node(2, 1, 1),
		way(10, 1, 4, 2),
	)
	require.NoError(t, err)

	w, ok := getWay(t, stores, 10)
	require.True(t, ok)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, w.Geometry)
	assert.Equal(t, []int64{1, 4, 2}, w.Refs)
	assert.Equal(t, int64(1), d.Stats().Summary().Ways.SkippedRefs)
}

func TestRelationBoundUnion(t *testing.T) {
	stores, _, err := run(t, Options{Workers: 2},
		node(1, 0, 0),
		node(2, 1, 1),
		node(3, 3, 3),
		node(4, 2, 2),
		way(10, 1, 2),
		way(11, 2, 4),
		relation(100, member(osm.TypeWay, 10), member(osm.TypeNode, 3)),
		relation(101, member(osm.TypeWay, 11)),
		relation(102, member(osm.TypeRelation, 100), member(osm.TypeRelation, 101)),
	)
	require.NoError(t, err)

	r, ok := getRelation(t, stores, 100)
	require.True(t, ok)
	require.NotNil(t, r.BBox)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{3, 3}}, *r.BBox)
	require.Len(t, r.Members, 2)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, r.Members[0].Line)
	require.NotNil(t, r.Members[1].Point)
	assert.Equal(t, orb.Point{3, 3}, *r.Members[1].Point)

	nested, ok := getRelation(t, stores, 102)
	require.True(t, ok)
	require.NotNil(t, nested.BBox)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{3, 3}}, *nested.BBox)
	assert.Nil(t, nested.Members[0].Line)
	assert.NotNil(t, nested.Members[0].BBox)
}

func TestRelationForwardReference(t *testing.T) {
	objs := []osm.Object{
		node(1, 0, 0),
		node(2, 5, 5),
		relation(100, member(osm.TypeRelation, 101)),
		relation(101, member(osm.TypeNode, 1), member(osm.TypeNode, 2)),
	}

	t.Run("dropped without sweep", func(t *testing.T) {
		stores, d, err := run(t, Options{}, objs...)
		require.NoError(t, err)
		_, ok := getRelation(t, stores, 100)
		assert.False(t, ok)
		_, ok = getRelation(t, stores, 101)
		assert.True(t, ok)
		assert.Equal(t, int64(1), d.Stats().Summary().Relations.Unresolved)
	})

	t.Run("resolved by sweep", func(t *testing.T) {
		stores, d, err := run(t, Options{RelationSweep: true}, objs...)
		require.NoError(t, err)
		r, ok := getRelation(t, stores, 100)
		require.True(t, ok)
		require.NotNil(t, r.BBox)
		assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5, 5}}, *r.BBox)

		s := d.Stats().Summary().Relations
		assert.Equal(t, int64(1), s.Deferred)
		assert.Equal(t, int64(2), s.Written)
		assert.Zero(t, s.Faults())
	})

	t.Run("encoding failure after sweep is a fault", func(t *testing.T) {
		encodeRecord = func(middle.Record) ([]byte, error) { return nil, errors.New("boom") }
		t.Cleanup(func() { encodeRecord = middle.Encode })

		var faults []*middle.Fault
		stores, d, err := run(t, Options{
			RelationSweep: true,
			SkipMissing:   true,
			OnFault:       func(f *middle.Fault) { faults = append(faults, f) },
		}, relation(300, member(osm.TypeRelation, 999)))
		require.NoError(t, err)
		assert.Equal(t, 0, stores.Relations.Len())
		require.Len(t, faults, 1)
		assert.ErrorIs(t, faults[0], middle.ErrMalformedRecord)
		assert.Equal(t, int64(1), d.Stats().Summary().Relations.Malformed)
	})

	t.Run("cycle left unresolved", func(t *testing.T) {
		stores, d, err := run(t, Options{RelationSweep: true},
			relation(200, member(osm.TypeRelation, 201)),
			relation(201, member(osm.TypeRelation, 202)),
			relation(202, member(osm.TypeRelation, 200)),
		)
		require.NoError(t, err)
		assert.Equal(t, 0, stores.Relations.Len())
		assert.Equal(t, int64(3), d.Stats().Summary().Relations.Unresolved)
	})
}

func TestRelationMissingMember(t *testing.T) {
	t.Run("dropped", func(t *testing.T) {
		stores, d, err := run(t, Options{},
			node(1, 0, 0),
			relation(100, member(osm.TypeNode, 1), member(osm.TypeWay, 99)),
		)
		require.NoError(t, err)
		_, ok := getRelation(t, stores, 100)
		assert.False(t, ok)
		assert.Equal(t, int64(1), d.Stats().Summary().Relations.Unresolved)
	})

	t.Run("kept with skip missing", func(t *testing.T) {
		stores, _, err := run(t, Options{SkipMissing: true},
			node(1, 0, 0),
			relation(100, member(osm.TypeNode, 1), member(osm.TypeWay, 99)),
		)
		require.NoError(t, err)
		r, ok := getRelation(t, stores, 100)
		require.True(t, ok)
		require.Len(t, r.Members, 2)
		assert.False(t, r.Members[1].Resolved())
		require.NotNil(t, r.BBox)
		assert.Equal(t, orb.Bound{}, *r.BBox)
	})
}

func TestNullIslandKeepsBounds(t *testing.T) {
	stores, _, err := run(t, Options{},
		node(1, 0, 0),
		node(2, 0, 0),
		way(10, 1, 2),
		relation(100, member(osm.TypeWay, 10)),
		relation(101, member(osm.TypeNode, 1), member(osm.TypeRelation, 100)),
	)
	require.NoError(t, err)

	w, ok := getWay(t, stores, 10)
	require.True(t, ok)
	require.NotNil(t, w.BBox)
	assert.Equal(t, orb.Bound{}, *w.BBox)

	r, ok := getRelation(t, stores, 101)
	require.True(t, ok)
	require.NotNil(t, r.BBox)
	require.Len(t, r.Members, 2)
	require.NotNil(t, r.Members[0].Point)
	require.NotNil(t, r.Members[1].BBox)
	assert.Equal(t, orb.Bound{}, *r.Members[1].BBox)
}

func TestMalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		obj  osm.Object
		kind middle.Kind
	}{
		{"node out of range", node(1, 181, 0), middle.KindNode},
		{"node zero id", node(0, 1, 1), middle.KindNode},
		{"node empty tag key", node(2, 1, 1, osm.Tag{Key: "", Value: "x"}), middle.KindNode},
		{"way negative ref", way(10, 1, -2), middle.KindWay},
		{"relation zero ref", relation(100, member(osm.TypeNode, 0)), middle.KindRelation},
		{"relation unknown member", relation(101, member(osm.Type("changeset"), 1)), middle.KindRelation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *middle.Fault
			_, d, err := run(t, Options{OnFault: func(f *middle.Fault) { got = f }}, tt.obj)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.ErrorIs(t, got, middle.ErrMalformedRecord)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, int64(1), d.Stats().Summary().For(tt.kind).Malformed)
			assert.Zero(t, d.Stats().Summary().Written())
		})
	}
}

func TestHaltOnError(t *testing.T) {
	stores, d, err := run(t, Options{HaltOnError: true, Workers: 1},
		node(1, 0, 0),
		way(10, 1, 2),
		way(11, 1, 1),
	)
	require.Error(t, err)

	var f *middle.Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, int64(10), f.ID)
	assert.ErrorIs(t, err, middle.ErrUnresolvedReference)

	_, ok := getWay(t, stores, 11)
	assert.False(t, ok)
	assert.Zero(t, d.Stats().Summary().Ways.Written)
}

func TestCancelled(t *testing.T) {
	stores, err := middle.CreateStores(t.TempDir())
	require.NoError(t, err)
	defer stores.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(stores, Options{})
	err = d.Run(ctx, osmsource.NewSliceScanner(context.Background(), node(1, 0, 0)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceError(t *testing.T) {
	stores, err := middle.CreateStores(t.TempDir())
	require.NoError(t, err)
	defer stores.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := osmsource.NewSliceScanner(ctx, node(1, 0, 0), node(2, 1, 1))
	cancel()

	err = New(stores, Options{}).Run(context.Background(), s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNodeCache(t *testing.T) {
	cache, err := nodeindex.Create(filepath.Join(t.TempDir(), "flat.nodes"), 1000)
	require.NoError(t, err)
	defer cache.Close()

	stores, _, err := run(t, Options{NodeCache: cache},
		node(1, 10.5, 20.25),
		node(2, -3.5, 7),
		node(5000, 1, 1),
		way(10, 1, 2, 5000),
	)
	require.NoError(t, err)

	lon, lat, ok := cache.Get(1)
	require.True(t, ok)
	assert.InDelta(t, 10.5, lon, 1e-7)
	assert.InDelta(t, 20.25, lat, 1e-7)

	w, ok := getWay(t, stores, 10)
	require.True(t, ok)
	require.Len(t, w.Geometry, 3)
	assert.InDelta(t, -3.5, w.Geometry[1][0], 1e-7)
	assert.Equal(t, orb.Point{1, 1}, w.Geometry[2])
}

func TestMetadata(t *testing.T) {
	n := node(1, 0, 0)
	n.ChangesetID = 42
	n.User = "mapper"
	n.UserID = 7

	t.Run("kept", func(t *testing.T) {
		stores, _, err := run(t, Options{}, n)
		require.NoError(t, err)
		rec, ok, err := stores.Get(middle.KindNode, 1)
		require.NoError(t, err)
		require.True(t, ok)
		meta := rec.(*middle.Node).Meta
		require.NotNil(t, meta)
		assert.Equal(t, int64(42), meta.Changeset)
		assert.Equal(t, "mapper", meta.User)
	})

	t.Run("dropped", func(t *testing.T) {
		stores, _, err := run(t, Options{DropMetadata: true}, n)
		require.NoError(t, err)
		rec, ok, err := stores.Get(middle.KindNode, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, rec.(*middle.Node).Meta)
	})
}

func TestAreaFlag(t *testing.T) {
	tests := []struct {
		name string
		refs []int64
		tags osm.Tags
		want bool
	}{
		{"closed building", []int64{1, 2, 3, 1}, osm.Tags{{Key: "building", Value: "yes"}}, true},
		{"closed highway", []int64{1, 2, 3, 1}, osm.Tags{{Key: "highway", Value: "residential"}}, false},
		{"closed highway area", []int64{1, 2, 3, 1}, osm.Tags{{Key: "highway", Value: "pedestrian"}, {Key: "area", Value: "yes"}}, true},
		{"open building", []int64{1, 2, 3}, osm.Tags{{Key: "building", Value: "yes"}}, false},
		{"closed untagged", []int64{1, 2, 3, 1}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := way(10, tt.refs...)
			w.Tags = tt.tags
			stores, _, err := run(t, Options{}, node(1, 0, 0), node(2, 1, 0), node(3, 1, 1), w)
			require.NoError(t, err)
			got, ok := getWay(t, stores, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Area)
		})
	}
}
