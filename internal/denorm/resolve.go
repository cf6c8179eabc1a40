package denorm

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// resolve runs on the worker pool. Per-entity problems are returned in the
// item; an error means a store failure and stops the run.
func (d *Denormalizer) resolve(obj osm.Object) (*item, error) {
	switch o := obj.(type) {
	case *osm.Node:
		return d.resolveNode(o)
	case *osm.Way:
		return d.resolveWay(o)
	case *osm.Relation:
		return d.resolveRelation(o)
	}
	return nil, fmt.Errorf("unexpected object %T", obj)
}

func (d *Denormalizer) metadata(version int, cs osm.ChangesetID, ts time.Time, user string, uid osm.UserID) *middle.Metadata {
	if d.opts.DropMetadata {
		return nil
	}
	return metadataOf(version, cs, ts, user, uid)
}

func (d *Denormalizer) resolveNode(n *osm.Node) (*item, error) {
	id := int64(n.ID)
	if f := validateNode(n); f != nil {
		return &item{kind: middle.KindNode, id: id, fault: f}, nil
	}

	node := &middle.Node{
		ID:   id,
		Lon:  n.Lon,
		Lat:  n.Lat,
		Tags: convertTags(n.Tags),
		Meta: d.metadata(n.Version, n.ChangesetID, n.Timestamp, n.User, n.UserID),
	}
	data, err := middle.Encode(node)
	if err != nil {
		return &item{kind: middle.KindNode, id: id, fault: middle.Malformed(middle.KindNode, id, "%v", err)}, nil
	}
	return &item{kind: middle.KindNode, id: id, data: data, node: node}, nil
}

func (d *Denormalizer) resolveWay(w *osm.Way) (*item, error) {
	id := int64(w.ID)
	if f := validateWay(w); f != nil {
		return &item{kind: middle.KindWay, id: id, fault: f}, nil
	}

	way := &middle.Way{
		ID:       id,
		Refs:     make([]int64, len(w.Nodes)),
		Geometry: make(orb.LineString, 0, len(w.Nodes)),
		Tags:     convertTags(w.Tags),
		Meta:     d.metadata(w.Version, w.ChangesetID, w.Timestamp, w.User, w.UserID),
	}
	for i, wn := range w.Nodes {
		ref := int64(wn.ID)
		way.Refs[i] = ref

		p, ok, err := d.nodeCoord(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			if d.opts.SkipMissing {
				d.stats.For(middle.KindWay).SkippedRefs.Add(1)
				continue
			}
			return &item{kind: middle.KindWay, id: id, fault: middle.Unresolved(middle.KindWay, id, middle.KindNode, ref)}, nil
		}
		way.Geometry = append(way.Geometry, p)
	}
	way.BBox = middle.BoundOf(way.Geometry)
	way.Area = isArea(w, way.Tags)

	data, err := middle.Encode(way)
	if err != nil {
		return &item{kind: middle.KindWay, id: id, fault: middle.Malformed(middle.KindWay, id, "%v", err)}, nil
	}
	return &item{kind: middle.KindWay, id: id, data: data}, nil
}

func (d *Denormalizer) resolveRelation(r *osm.Relation) (*item, error) {
	id := int64(r.ID)
	if f := validateRelation(r); f != nil {
		return &item{kind: middle.KindRelation, id: id, fault: f}, nil
	}

	rel := &middle.Relation{
		ID:      id,
		Members: make([]middle.Member, len(r.Members)),
		Tags:    convertTags(r.Tags),
		Meta:    d.metadata(r.Version, r.ChangesetID, r.Timestamp, r.User, r.UserID),
	}
	it := &item{kind: middle.KindRelation, id: id, rel: rel}

	for i, m := range r.Members {
		kind, _ := middle.KindOf(m.Type)
		mem := &rel.Members[i]
		*mem = middle.Member{Type: kind, Ref: m.Ref, Role: m.Role}

		var (
			ok  bool
			err error
		)
		switch kind {
		case middle.KindNode:
			var p orb.Point
			p, ok, err = d.nodeCoord(m.Ref)
			if ok {
				mem.Point = &p
			}
		case middle.KindWay:
			ok, err = d.resolveWayMember(mem)
		case middle.KindRelation:
			ok, err = d.resolveRelationMember(mem)
			if err == nil && !ok {
				// Earlier relations may still be queued for the writer.
				it.pending = append(it.pending, i)
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			if d.opts.SkipMissing {
				d.stats.For(middle.KindRelation).SkippedRefs.Add(1)
				continue
			}
			it.rel = nil
			it.fault = middle.Unresolved(middle.KindRelation, id, kind, m.Ref)
			return it, nil
		}
	}

	if len(it.pending) == 0 {
		if err := encodeRelation(it); err != nil {
			return &item{kind: middle.KindRelation, id: id, fault: middle.Malformed(middle.KindRelation, id, "%v", err)}, nil
		}
	}
	return it, nil
}

// nodeCoord looks up a node location, preferring the flat node cache.
func (d *Denormalizer) nodeCoord(ref int64) (orb.Point, bool, error) {
	if c := d.opts.NodeCache; c != nil {
		if lon, lat, ok := c.Get(ref); ok {
			return orb.Point{lon, lat}, true, nil
		}
	}
	b, ok, err := d.stores.Nodes.Get(uint64(ref))
	if err != nil || !ok {
		return orb.Point{}, false, err
	}
	n, err := middle.DecodeNode(b)
	if err != nil {
		return orb.Point{}, false, fmt.Errorf("stored node %d: %w", ref, err)
	}
	return n.Point(), true, nil
}

func (d *Denormalizer) resolveWayMember(mem *middle.Member) (bool, error) {
	b, ok, err := d.stores.Ways.Get(uint64(mem.Ref))
	if err != nil || !ok {
		return false, err
	}
	w, err := middle.DecodeWay(b)
	if err != nil {
		return false, fmt.Errorf("stored way %d: %w", mem.Ref, err)
	}
	mem.Line = w.Geometry
	return true, nil
}

func (d *Denormalizer) resolveRelationMember(mem *middle.Member) (bool, error) {
	b, ok, err := d.stores.Relations.Get(uint64(mem.Ref))
	if err != nil || !ok {
		return false, err
	}
	r, err := middle.DecodeRelation(b)
	if err != nil {
		return false, fmt.Errorf("stored relation %d: %w", mem.Ref, err)
	}
	mem.BBox = r.BBox
	return true, nil
}

// finishRelation retries relation members that were not stored when the
// worker saw them. It runs on the writer, after every earlier relation has
// been written. It returns false when the relation was deferred or dropped.
func (d *Denormalizer) finishRelation(it *item) (bool, error) {
	if err := d.retryPending(it); err != nil {
		return false, err
	}
	if len(it.pending) > 0 {
		if d.opts.RelationSweep && len(d.deferred) < d.opts.MaxDeferred {
			d.deferred = append(d.deferred, it)
			d.stats.For(middle.KindRelation).Deferred.Add(1)
			return false, nil
		}
		if !d.opts.SkipMissing {
			ref := it.rel.Members[it.pending[0]].Ref
			return false, d.fault(middle.Unresolved(middle.KindRelation, it.id, middle.KindRelation, ref))
		}
		d.stats.For(middle.KindRelation).SkippedRefs.Add(int64(len(it.pending)))
		it.pending = nil
	}
	if err := encodeRelation(it); err != nil {
		return false, d.fault(middle.Malformed(middle.KindRelation, it.id, "%v", err))
	}
	return true, nil
}

func (d *Denormalizer) retryPending(it *item) error {
	remaining := it.pending[:0]
	for _, idx := range it.pending {
		ok, err := d.resolveRelationMember(&it.rel.Members[idx])
		if err != nil {
			return err
		}
		if !ok {
			remaining = append(remaining, idx)
		}
	}
	it.pending = remaining
	return nil
}

// encodeRecord serializes records for the stores. Tests replace it to
// exercise encoding failures.
var encodeRecord = middle.Encode

// encodeRelation computes the relation bbox as the union of its member
// bounds and serializes it.
func encodeRelation(it *item) error {
	var bbox *orb.Bound
	for i := range it.rel.Members {
		bbox = middle.Union(bbox, it.rel.Members[i].Bound())
	}
	it.rel.BBox = bbox

	data, err := encodeRecord(it.rel)
	if err != nil {
		return err
	}
	it.data = data
	return nil
}
