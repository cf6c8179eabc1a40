package denorm

import (
	"time"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

func validateTags(kind middle.Kind, id int64, tags osm.Tags) *middle.Fault {
	for i, tag := range tags {
		if tag.Key == "" {
			return middle.Malformed(kind, id, "tag %d has an empty key", i)
		}
	}
	return nil
}

func validateNode(n *osm.Node) *middle.Fault {
	id := int64(n.ID)
	if id <= 0 {
		return middle.Malformed(middle.KindNode, id, "id must be positive")
	}
	if !middle.ValidLonLat(n.Lon, n.Lat) {
		return middle.Malformed(middle.KindNode, id, "invalid location (%v, %v)", n.Lon, n.Lat)
	}
	return validateTags(middle.KindNode, id, n.Tags)
}

func validateWay(w *osm.Way) *middle.Fault {
	id := int64(w.ID)
	if id <= 0 {
		return middle.Malformed(middle.KindWay, id, "id must be positive")
	}
	for i, wn := range w.Nodes {
		if wn.ID <= 0 {
			return middle.Malformed(middle.KindWay, id, "node ref %d is %d", i, wn.ID)
		}
	}
	return validateTags(middle.KindWay, id, w.Tags)
}

func validateRelation(r *osm.Relation) *middle.Fault {
	id := int64(r.ID)
	if id <= 0 {
		return middle.Malformed(middle.KindRelation, id, "id must be positive")
	}
	for i, m := range r.Members {
		if _, ok := middle.KindOf(m.Type); !ok {
			return middle.Malformed(middle.KindRelation, id, "member %d has unknown type %q", i, m.Type)
		}
		if m.Ref <= 0 {
			return middle.Malformed(middle.KindRelation, id, "member %d ref is %d", i, m.Ref)
		}
	}
	return validateTags(middle.KindRelation, id, r.Tags)
}

// convertTags copies source tags, keeping their order.
func convertTags(tags osm.Tags) middle.Tags {
	if len(tags) == 0 {
		return nil
	}
	out := make(middle.Tags, len(tags))
	for i, tag := range tags {
		out[i] = middle.Tag{Key: tag.Key, Value: tag.Value}
	}
	return out
}

func metadataOf(version int, changeset osm.ChangesetID, ts time.Time, user string, uid osm.UserID) *middle.Metadata {
	if version == 0 && changeset == 0 && ts.IsZero() && user == "" && uid == 0 {
		return nil
	}
	return &middle.Metadata{
		Version:   int32(version),
		Changeset: int64(changeset),
		Timestamp: ts,
		User:      user,
		UID:       int32(uid),
	}
}

// areaKeys decides whether a closed way is a polygon by its first matching
// key. Keys mapped to false mark linear features.
var areaKeys = map[string]bool{
	"building": true,
	"landuse":  true,
	"natural":  true,
	"leisure":  true,
	"amenity":  true,
	"shop":     true,
	"tourism":  true,
	"man_made": true,
	"waterway": false,
	"highway":  false,
	"barrier":  false,
	"railway":  false,
}

// isArea checks if a closed way should be treated as a polygon
func isArea(w *osm.Way, tags middle.Tags) bool {
	if len(w.Nodes) < 4 || w.Nodes[0].ID != w.Nodes[len(w.Nodes)-1].ID {
		return false
	}
	if v, ok := tags.Find("area"); ok {
		return v == "yes"
	}
	for _, tag := range tags {
		if area, ok := areaKeys[tag.Key]; ok {
			return area
		}
	}
	return false
}
