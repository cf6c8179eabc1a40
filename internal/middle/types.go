package middle

import (
	"time"

	"github.com/paulmach/orb"
)

// Tag is one key/value pair. Tags keep their source order.
type Tag struct {
	Key   string `msgpack:"k"`
	Value string `msgpack:"v"`
}

// Tags is an ordered tag list.
type Tags []Tag

// Find returns the value of key and whether it is present.
func (t Tags) Find(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Metadata carries the optional authoring attributes of an entity.
type Metadata struct {
	Version   int32     `msgpack:"ver,omitempty"`
	Changeset int64     `msgpack:"cs,omitempty"`
	Timestamp time.Time `msgpack:"ts,omitempty"`
	User      string    `msgpack:"user,omitempty"`
	UID       int32     `msgpack:"uid,omitempty"`
}

// Record is the common view of a denormalized entity.
type Record interface {
	Kind() Kind
	OSMID() int64
	// Bound returns the bounding box, or nil when the entity has no
	// geometry.
	Bound() *orb.Bound
	TagList() Tags
}

// Node is a stored node.
type Node struct {
	ID   int64     `msgpack:"id"`
	Lon  float64   `msgpack:"lon"`
	Lat  float64   `msgpack:"lat"`
	Tags Tags      `msgpack:"tags,omitempty"`
	Meta *Metadata `msgpack:"meta,omitempty"`
}

func (n *Node) Kind() Kind { return KindNode }
func (n *Node) OSMID() int64 { return n.ID }
func (n *Node) TagList() Tags { return n.Tags }
func (n *Node) Point() orb.Point { return orb.Point{n.Lon, n.Lat} }

// Bound of a node is the degenerate box at its location.
func (n *Node) Bound() *orb.Bound {
	b := n.Point().Bound()
	return &b
}

// Bounds and member points are stored without omitempty: orb.Bound has an
// IsZero method, so a box at (0,0) would otherwise be dropped.

// Way is a stored way with its node references resolved to coordinates.
type Way struct {
	ID       int64          `msgpack:"id"`
	Refs     []int64        `msgpack:"refs,omitempty"`
	Geometry orb.LineString `msgpack:"geom,omitempty"`
	Tags     Tags           `msgpack:"tags,omitempty"`
	Meta     *Metadata      `msgpack:"meta,omitempty"`
	BBox     *orb.Bound     `msgpack:"bbox"`
	Area     bool           `msgpack:"area,omitempty"`
}

func (w *Way) Kind() Kind { return KindWay }
func (w *Way) OSMID() int64 { return w.ID }
func (w *Way) TagList() Tags { return w.Tags }
func (w *Way) Bound() *orb.Bound { return w.BBox }

// Member is one resolved relation member. Node members carry Point, way
// members carry Line, relation members carry only the BBox of the referenced
// relation. A member left unresolved under the skip-missing policy carries
// none of them.
type Member struct {
	Type  Kind           `msgpack:"t"`
	Ref   int64          `msgpack:"ref"`
	Role  string         `msgpack:"role,omitempty"`
	Point *orb.Point     `msgpack:"pt"`
	Line  orb.LineString `msgpack:"line,omitempty"`
	BBox  *orb.Bound     `msgpack:"bbox"`
}

// Resolved reports whether the member carries any geometry.
func (m *Member) Resolved() bool {
	return m.Point != nil || len(m.Line) > 0 || m.BBox != nil
}

// Bound returns the member's contribution to the relation bbox.
func (m *Member) Bound() *orb.Bound {
	switch {
	case m.Point != nil:
		b := m.Point.Bound()
		return &b
	case len(m.Line) > 0:
		return BoundOf(m.Line)
	case m.BBox != nil:
		b := *m.BBox
		return &b
	}
	return nil
}

// Relation is a stored relation with member geometry resolved one level deep.
type Relation struct {
	ID      int64      `msgpack:"id"`
	Members []Member   `msgpack:"members,omitempty"`
	Tags    Tags       `msgpack:"tags,omitempty"`
	Meta    *Metadata  `msgpack:"meta,omitempty"`
	BBox    *orb.Bound `msgpack:"bbox"`
}

func (r *Relation) Kind() Kind { return KindRelation }
func (r *Relation) OSMID() int64 { return r.ID }
func (r *Relation) TagList() Tags { return r.Tags }
func (r *Relation) Bound() *orb.Bound { return r.BBox }
