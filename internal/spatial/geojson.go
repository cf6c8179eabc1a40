package spatial

import (
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// Feature renders a stored record as a GeoJSON feature. Tags become
// properties; identity and metadata use "@" prefixed keys.
func Feature(rec middle.Record) *geojson.Feature {
	g := Geometry(rec)
	if g == nil {
		g = orb.Collection{}
	}
	f := geojson.NewFeature(g)
	f.ID = rec.Kind().Code() + "/" + strconv.FormatInt(rec.OSMID(), 10)
	f.Properties["@osm_id"] = rec.OSMID()
	f.Properties["@osm_type"] = rec.Kind().String()
	if b := rec.Bound(); b != nil {
		f.BBox = geojson.NewBBox(*b)
	}

	for _, tag := range rec.TagList() {
		f.Properties[tag.Key] = tag.Value
	}

	var meta *middle.Metadata
	switch r := rec.(type) {
	case *middle.Node:
		meta = r.Meta
	case *middle.Way:
		meta = r.Meta
		f.Properties["@refs"] = r.Refs
		if r.Area {
			f.Properties["@area"] = true
		}
	case *middle.Relation:
		meta = r.Meta
		members := make([]map[string]any, 0, len(r.Members))
		for _, m := range r.Members {
			members = append(members, map[string]any{
				"type":     m.Type.String(),
				"ref":      m.Ref,
				"role":     m.Role,
				"resolved": m.Resolved(),
			})
		}
		f.Properties["@members"] = members
	}
	if meta != nil {
		f.Properties["@version"] = meta.Version
		f.Properties["@changeset"] = meta.Changeset
		f.Properties["@user"] = meta.User
		f.Properties["@uid"] = meta.UID
		if !meta.Timestamp.IsZero() {
			f.Properties["@timestamp"] = meta.Timestamp.UTC().Format(time.RFC3339)
		}
	}
	return f
}

// EntryFeature renders an index entry as its bounding box polygon.
func EntryFeature(e Entry) *geojson.Feature {
	f := geojson.NewFeature(e.Bound.ToPolygon())
	f.ID = e.Kind.Code() + "/" + strconv.FormatInt(e.ID, 10)
	f.Properties["@osm_id"] = e.ID
	f.Properties["@osm_type"] = e.Kind.String()
	f.BBox = geojson.NewBBox(e.Bound)
	return f
}
