package middle

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a record for storage.
func Encode(rec Record) ([]byte, error) {
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s %d: %w", rec.Kind(), rec.OSMID(), err)
	}
	return b, nil
}

// Decode parses a stored record of the given kind.
func Decode(kind Kind, b []byte) (Record, error) {
	var rec Record
	switch kind {
	case KindNode:
		rec = &Node{}
	case KindWay:
		rec = &Way{}
	case KindRelation:
		rec = &Relation{}
	default:
		return nil, fmt.Errorf("decode: unknown kind %v", kind)
	}
	if err := msgpack.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return rec, nil
}

// DecodeNode parses a stored node.
func DecodeNode(b []byte) (*Node, error) {
	var n Node
	if err := msgpack.Unmarshal(b, &n); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return &n, nil
}

// DecodeWay parses a stored way.
func DecodeWay(b []byte) (*Way, error) {
	var w Way
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode way: %w", err)
	}
	return &w, nil
}

// DecodeRelation parses a stored relation.
func DecodeRelation(b []byte) (*Relation, error) {
	var r Relation
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode relation: %w", err)
	}
	return &r, nil
}
