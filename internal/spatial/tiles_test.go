package spatial

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestPointToTile(t *testing.T) {
	tests := []struct {
		name         string
		lon, lat     float64
		zoom         int
		wantX, wantY int
	}{
		{"London at zoom 10", -0.1278, 51.5074, 10, 511, 340},
		{"Monaco at zoom 12", 7.4246, 43.7384, 12, 2132, 1493},
		{"New York at zoom 10", -74.0060, 40.7128, 10, 301, 385},
		{"Origin at zoom 0", 0, 0, 0, 0, 0},
		{"Origin at zoom 1", 0, 0, 1, 1, 1},
		{"North pole clamps", 180, 90, 2, 3, 0},
		{"South pole clamps", -180, -90, 2, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := PointToTile(orb.Point{tt.lon, tt.lat}, tt.zoom)
			if tile.X != tt.wantX || tile.Y != tt.wantY {
				t.Errorf("PointToTile(%f, %f, %d) = (%d, %d), want (%d, %d)",
					tt.lon, tt.lat, tt.zoom, tile.X, tile.Y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestBoundToTileRange(t *testing.T) {
	// Monaco
	b := orb.Bound{Min: orb.Point{7.409, 43.724}, Max: orb.Point{7.440, 43.752}}

	r := BoundToTileRange(b, 14)
	if r.TileCount() < 1 {
		t.Fatalf("expected at least one tile, got %d", r.TileCount())
	}
	if r.MinX > r.MaxX || r.MinY > r.MaxY {
		t.Errorf("inverted range %+v", r)
	}
	if got := len(r.Tiles()); got != r.TileCount() {
		t.Errorf("Tiles() returned %d tiles, TileCount() = %d", got, r.TileCount())
	}

	world := BoundToTileRange(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, 3)
	if world.TileCount() != 64 {
		t.Errorf("world at zoom 3: got %d tiles, want 64", world.TileCount())
	}
}

func TestCellRange(t *testing.T) {
	tests := []struct {
		name     string
		bound    orb.Bound
		maxZoom  int
		wantZoom int
	}{
		{"point goes to max zoom", orb.Point{7.42, 43.73}.Bound(), 14, 14},
		{"world goes to zoom 1", orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}, 14, 1},
		{"respects max zoom", orb.Point{1, 1}.Bound(), 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := cellRange(tt.bound, tt.maxZoom)
			if r.Z != tt.wantZoom {
				t.Errorf("cellRange zoom = %d, want %d", r.Z, tt.wantZoom)
			}
			if r.TileCount() > maxCellsPerEntry {
				t.Errorf("cellRange covers %d tiles", r.TileCount())
			}
		})
	}
}
