// Package proj reprojects lon/lat geometries into the output SRID.
package proj

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Supported output SRIDs. Input coordinates are always WGS84.
const (
	SRID4326 = 4326
	SRID3857 = 3857
)

// MaxMercatorLat is the latitude at which web mercator becomes square.
const MaxMercatorLat = 85.0511287798

// Reprojector maps WGS84 geometries into SRID.
type Reprojector struct {
	SRID int
	fn   orb.Projection
}

// To returns the reprojector from WGS84 into srid.
func To(srid int) (*Reprojector, error) {
	switch srid {
	case SRID4326:
		return &Reprojector{SRID: srid}, nil
	case SRID3857:
		return &Reprojector{SRID: srid, fn: toMercator}, nil
	}
	return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", srid)
}

// Identity reports whether Apply returns its input unchanged.
func (r *Reprojector) Identity() bool { return r.fn == nil }

// Apply returns a reprojected copy of g, leaving g untouched.
func (r *Reprojector) Apply(g orb.Geometry) orb.Geometry {
	if r.Identity() || g == nil {
		return g
	}
	return project.Geometry(orb.Clone(g), r.fn)
}

// toMercator clamps the latitude before projecting so polar nodes stay finite.
func toMercator(p orb.Point) orb.Point {
	p[1] = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, p[1]))
	return project.WGS84.ToMercator(p)
}

// ParseSRID accepts "4326", "3857" and their "EPSG:" forms.
func ParseSRID(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "EPSG:"))
	if err != nil || (code != SRID4326 && code != SRID3857) {
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
	return code, nil
}
