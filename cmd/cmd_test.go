package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="0" lon="0" version="1"/>
  <node id="2" lat="1" lon="1" version="1">
    <tag k="amenity" v="bench"/>
  </node>
  <node id="3" lat="0" lon="2" version="1"/>
  <way id="10" version="1">
    <nd ref="1"/>
    <nd ref="2"/>
    <nd ref="3"/>
    <tag k="highway" v="path"/>
  </way>
  <relation id="100" version="1">
    <member type="way" ref="10" role="outer"/>
  </relation>
</osm>
`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestAliases(t *testing.T) {
	for alias, name := range map[string]string{"pbf": "denormalize", "process": "write"} {
		c, _, err := rootCmd.Find([]string{alias})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestVersion(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "osmingest dev")
}

func TestIngestGetQuery(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "sample.osm")
	require.NoError(t, os.WriteFile(input, []byte(sampleXML), 0644))
	outdir := filepath.Join(dir, "out")

	execute(t, "ingest", input, "-o", outdir, "-j", "2", "--metrics-interval", "0")
	assert.DirExists(t, filepath.Join(outdir, "store", "ways"))
	assert.FileExists(t, filepath.Join(outdir, "spatial.db"))

	var feature struct {
		ID         string         `json:"id"`
		BBox       []float64      `json:"bbox"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "get", "way", "10", "-o", outdir)), &feature))
	assert.Equal(t, "w/10", feature.ID)
	assert.Equal(t, []float64{0, 0, 2, 1}, feature.BBox)
	assert.Equal(t, "path", feature.Properties["highway"])

	var fc struct {
		Features []struct {
			ID string `json:"id"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(execute(t, "query", "-o", outdir, "--bbox", "0.5,0.5,1.5,1.5")), &fc))
	var ids []string
	for _, f := range fc.Features {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"n/2", "w/10", "r/100"}, ids)

	err := printRecord(&bytes.Buffer{}, filepath.Join(outdir, "store"), middle.KindWay, 99)
	assert.ErrorContains(t, err, "way 99 not found")

	var limited bytes.Buffer
	require.NoError(t, printMatches(&limited, filepath.Join(outdir, "spatial.db"), 14,
		orb.Bound{Min: orb.Point{0.5, 0.5}, Max: orb.Point{1.5, 1.5}}, 0, 1))
	fc.Features = nil
	require.NoError(t, json.Unmarshal(limited.Bytes(), &fc))
	assert.Len(t, fc.Features, 1)

	fc.Features = nil
	require.NoError(t, json.Unmarshal([]byte(execute(t, "query", "-o", outdir, "--bbox", "0.5,0.5,1.5,1.5", "--kind", "node")), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "n/2", fc.Features[0].ID)
}

func TestPrintErrorsWithoutOutput(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, printRecord(&bytes.Buffer{}, filepath.Join(dir, "store"), middle.KindNode, 1))
	assert.ErrorContains(t, printMatches(&bytes.Buffer{}, filepath.Join(dir, "spatial.db"), 14, orb.Bound{}, 0, 0),
		"spatial index not found")
}
