package spatial

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	// DefaultMaxZoom is the deepest zoom the bolt index files entries at.
	DefaultMaxZoom = 14

	// mercatorLatLimit is where the square web mercator world ends.
	mercatorLatLimit = 85.0511287798

	// maxCellsPerEntry bounds the tiles one entry is filed under.
	maxCellsPerEntry = 4
)

// Tile is a web mercator tile in the XYZ scheme, Y growing southwards.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// PointToTile returns the tile containing p at zoom. Points outside the
// mercator world are clamped onto its edge tiles.
func PointToTile(p orb.Point, zoom int) Tile {
	side := 1 << zoom
	lon := math.Max(-180, math.Min(180, p[0]))
	lat := math.Max(-mercatorLatLimit, math.Min(mercatorLatLimit, p[1]))

	fx := (lon + 180) / 360
	sinLat := math.Sin(lat * math.Pi / 180)
	fy := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)

	return Tile{Z: zoom, X: clampCell(fx, side), Y: clampCell(fy, side)}
}

// clampCell maps a world fraction onto a cell index in [0, side).
func clampCell(f float64, side int) int {
	c := int(math.Floor(f * float64(side)))
	return max(0, min(side-1, c))
}

// TileRange is the inclusive block of tiles covering a bound at one zoom.
type TileRange struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// BoundToTileRange returns the tiles covering b at zoom.
func BoundToTileRange(b orb.Bound, zoom int) TileRange {
	nw := PointToTile(orb.Point{b.Min[0], b.Max[1]}, zoom)
	se := PointToTile(orb.Point{b.Max[0], b.Min[1]}, zoom)
	return TileRange{Z: zoom, MinX: nw.X, MaxX: se.X, MinY: nw.Y, MaxY: se.Y}
}

func (r TileRange) TileCount() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Tiles lists the range column by column.
func (r TileRange) Tiles() []Tile {
	out := make([]Tile, 0, r.TileCount())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			out = append(out, Tile{Z: r.Z, X: x, Y: y})
		}
	}
	return out
}

// cellRange picks the deepest zoom, no deeper than maxZoom, at which b
// covers at most maxCellsPerEntry tiles. Zoom 0 is a single tile, so a
// range is always found.
func cellRange(b orb.Bound, maxZoom int) TileRange {
	for z := maxZoom; z > 0; z-- {
		if r := BoundToTileRange(b, z); r.TileCount() <= maxCellsPerEntry {
			return r
		}
	}
	return BoundToTileRange(b, 0)
}
