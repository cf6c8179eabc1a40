package spatial

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

func TestFeatureWay(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 1}, {2, 0}}
	w := &middle.Way{
		ID:       10,
		Refs:     []int64{1, 2, 3},
		Geometry: line,
		Tags:     middle.Tags{{Key: "highway", Value: "service"}},
		Meta:     &middle.Metadata{Version: 3, User: "mapper", Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		BBox:     middle.BoundOf(line),
	}

	f := Feature(w)
	assert.Equal(t, "w/10", f.ID)
	assert.Equal(t, line, f.Geometry)
	assert.Equal(t, "service", f.Properties["highway"])
	assert.Equal(t, "way", f.Properties["@osm_type"])
	assert.Equal(t, "2024-01-02T03:04:05Z", f.Properties["@timestamp"])
	assert.Equal(t, []float64{0, 0, 2, 1}, []float64(f.BBox))

	_, err := json.Marshal(f)
	require.NoError(t, err)
}

func TestFeatureRelationWithoutGeometry(t *testing.T) {
	r := &middle.Relation{
		ID:      7,
		Members: []middle.Member{{Type: middle.KindWay, Ref: 99, Role: "outer"}},
	}

	f := Feature(r)
	assert.Equal(t, "r/7", f.ID)
	assert.Equal(t, orb.Collection{}, f.Geometry)
	assert.Nil(t, f.BBox)
	members := f.Properties["@members"].([]map[string]any)
	require.Len(t, members, 1)
	assert.Equal(t, false, members[0]["resolved"])

	_, err := json.Marshal(f)
	require.NoError(t, err)
}

func TestEntryFeature(t *testing.T) {
	f := EntryFeature(Entry{Kind: middle.KindNode, ID: 5, Bound: orb.Point{1, 2}.Bound()})
	assert.Equal(t, "n/5", f.ID)
	assert.Equal(t, orb.Polygon{{{1, 2}, {1, 2}, {1, 2}, {1, 2}, {1, 2}}}, f.Geometry)
	assert.EqualValues(t, 5, f.Properties["@osm_id"])
}
