package middle

import (
	"fmt"

	"github.com/paulmach/osm"
)

// Kind identifies one of the three OSM entity kinds. The values are the
// single-letter codes used in keys and table rows.
type Kind byte

const (
	KindNode     Kind = 'n'
	KindWay      Kind = 'w'
	KindRelation Kind = 'r'
)

// Kinds lists the entity kinds in processing order.
var Kinds = []Kind{KindNode, KindWay, KindRelation}

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Code returns the single-letter code of k.
func (k Kind) Code() string {
	return string([]byte{byte(k)})
}

// Plural returns the name used for per-kind directories and log fields.
func (k Kind) Plural() string {
	return k.String() + "s"
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindNode || k == KindWay || k == KindRelation
}

// ParseKind accepts "node", "way", "relation" and their one-letter forms.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "n", "node", "nodes":
		return KindNode, nil
	case "w", "way", "ways":
		return KindWay, nil
	case "r", "relation", "relations":
		return KindRelation, nil
	}
	return 0, fmt.Errorf("unknown entity kind %q (expected node, way or relation)", s)
}

// KindOf maps an osm member or object type to a Kind.
func KindOf(t osm.Type) (Kind, bool) {
	switch t {
	case osm.TypeNode:
		return KindNode, true
	case osm.TypeWay:
		return KindWay, true
	case osm.TypeRelation:
		return KindRelation, true
	}
	return 0, false
}
