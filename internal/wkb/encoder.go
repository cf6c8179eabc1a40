package wkb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// WKB type constants (ISO SQL/MM)
const (
	wkbPoint              = 1
	wkbLineString         = 2
	wkbPolygon            = 3
	wkbGeometryCollection = 7

	// SRID flag for EWKB (PostGIS extended WKB)
	wkbSRIDFlag = 0x20000000
)

// Encoder encodes geometries to WKB format
// Uses little-endian byte order and includes SRID (EWKB format)
type Encoder struct {
	buf  []byte
	srid uint32
}

// NewEncoderWithSRID creates a new WKB encoder with specified SRID
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	return &Encoder{
		buf:  make([]byte, 0, initialSize),
		srid: uint32(srid),
	}
}

// reset clears the buffer for reuse
func (e *Encoder) reset() {
	e.buf = e.buf[:0]
}

// Encode encodes g as EWKB with the encoder's SRID. The returned slice is
// reused by the next call.
//
// Supported types are Point, LineString, Polygon and Collection; members of
// a collection are written without SRID.
func (e *Encoder) Encode(g orb.Geometry) ([]byte, error) {
	e.reset()
	if err := e.appendGeometry(g, true); err != nil {
		return nil, err
	}
	return e.buf, nil
}

func (e *Encoder) appendGeometry(g orb.Geometry, top bool) error {
	switch g := g.(type) {
	case orb.Point:
		e.appendHeader(wkbPoint, top)
		e.appendPoint(g)
	case orb.LineString:
		e.ensureCapacity(len(e.buf) + 13 + len(g)*16)
		e.appendHeader(wkbLineString, top)
		e.appendPoints(g)
	case orb.Polygon:
		e.appendHeader(wkbPolygon, top)
		e.appendRings(g)
	case orb.Collection:
		e.appendHeader(wkbGeometryCollection, top)
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(g)))
		for _, member := range g {
			if err := e.appendGeometry(member, false); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	return nil
}

// appendHeader writes the byte order and type. Embedded geometries don't
// carry an SRID.
func (e *Encoder) appendHeader(typ uint32, withSRID bool) {
	e.buf = append(e.buf, 0x01)
	if !withSRID {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, typ)
		return
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, typ|wkbSRIDFlag)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, e.srid)
}

func (e *Encoder) appendRings(p orb.Polygon) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(p)))
	for _, ring := range p {
		e.appendPoints(ring)
	}
}

func (e *Encoder) appendPoints(pts []orb.Point) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(pts)))
	for _, p := range pts {
		e.appendPoint(p)
	}
}

func (e *Encoder) appendPoint(p orb.Point) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(p[0]))
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(p[1]))
}

func (e *Encoder) ensureCapacity(n int) {
	if cap(e.buf) < n {
		buf := make([]byte, len(e.buf), n)
		copy(buf, e.buf)
		e.buf = buf
	}
}
