package osmsource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="0" lon="0" version="1"/>
  <node id="2" lat="1" lon="1" version="1">
    <tag k="name" v="two"/>
  </node>
  <way id="10" version="1">
    <nd ref="1"/>
    <nd ref="2"/>
    <tag k="highway" v="path"/>
  </way>
  <relation id="100" version="1">
    <member type="way" ref="10" role="outer"/>
  </relation>
</osm>
`

func TestOpenXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.osm")
	require.NoError(t, os.WriteFile(path, []byte(sampleXML), 0644))

	src, err := Open(context.Background(), path, 2)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(len(sampleXML)), src.Size())
	assert.Equal(t, path, src.Name())

	var types []osm.Type
	for src.Scan() {
		types = append(types, src.Object().ObjectID().Type())
	}
	if err := src.Err(); err != nil && err != io.EOF {
		t.Fatalf("scan: %v", err)
	}
	assert.Equal(t, []osm.Type{osm.TypeNode, osm.TypeNode, osm.TypeWay, osm.TypeRelation}, types)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.pbf"), 1)
	assert.Error(t, err)
}

func TestSliceScanner(t *testing.T) {
	s := NewSliceScanner(context.Background(),
		&osm.Node{ID: 1},
		&osm.Way{ID: 2},
	)
	var ids []osm.ObjectID
	for s.Scan() {
		ids = append(ids, s.Object().ObjectID())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []osm.ObjectID{osm.NodeID(1).ObjectID(0), osm.WayID(2).ObjectID(0)}, ids)
}

func TestSliceScannerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSliceScanner(ctx, &osm.Node{ID: 1})
	cancel()
	assert.False(t, s.Scan())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}
