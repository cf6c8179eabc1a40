package spatial

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmingest-go/internal/middle"
	"github.com/wegman-software/osmingest-go/internal/proj"
	"github.com/wegman-software/osmingest-go/internal/wkb"
)

// Payload formats.
const (
	// PayloadRecord stores the serialized record as read from the store.
	PayloadRecord = "record"
	// PayloadWKB stores the entity geometry as EWKB.
	PayloadWKB = "wkb"
	// PayloadNone stores no payload.
	PayloadNone = "none"
)

// ParsePayloadFormat validates a payload format name.
func ParsePayloadFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case "", PayloadRecord:
		return PayloadRecord, nil
	case PayloadWKB, PayloadNone:
		return f, nil
	}
	return "", fmt.Errorf("unknown payload format %q (expected record, wkb or none)", s)
}

// payloader builds entry payloads. It is not safe for concurrent use.
type payloader struct {
	format string
	enc    *wkb.Encoder
	to     *proj.Reprojector
}

func newPayloader(format string, srid int) (*payloader, error) {
	p := &payloader{format: format}
	if format != PayloadWKB {
		return p, nil
	}
	if srid == 0 {
		srid = proj.SRID4326
	}
	to, err := proj.To(srid)
	if err != nil {
		return nil, err
	}
	p.to = to
	p.enc = wkb.NewEncoderWithSRID(256, srid)
	return p, nil
}

// build returns the payload for rec. raw is the stored record and is only
// valid until the next store read, so it is copied.
func (p *payloader) build(rec middle.Record, raw []byte) ([]byte, error) {
	switch p.format {
	case PayloadNone:
		return nil, nil
	case PayloadWKB:
		b, err := p.enc.Encode(p.to.Apply(Geometry(rec)))
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	}
	return append([]byte(nil), raw...), nil
}

// Geometry returns the lon/lat geometry of a stored record: a point for
// nodes, a line or polygon for ways and a collection of member geometries
// for relations. Nested relations contribute their bound as a polygon.
func Geometry(rec middle.Record) orb.Geometry {
	switch r := rec.(type) {
	case *middle.Node:
		return r.Point()
	case *middle.Way:
		if r.Area && len(r.Geometry) >= 4 && orb.Ring(r.Geometry).Closed() {
			return orb.Polygon{orb.Ring(r.Geometry)}
		}
		return r.Geometry
	case *middle.Relation:
		coll := make(orb.Collection, 0, len(r.Members))
		for _, m := range r.Members {
			switch {
			case m.Point != nil:
				coll = append(coll, *m.Point)
			case len(m.Line) > 0:
				coll = append(coll, m.Line)
			case m.BBox != nil:
				coll = append(coll, m.BBox.ToPolygon())
			}
		}
		return coll
	}
	return nil
}
