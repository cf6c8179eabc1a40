package nodeindex

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestPutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.nodes")
	idx, err := Create(path, 1024)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer idx.Close()

	tests := []struct {
		name     string
		id       int64
		lon, lat float64
	}{
		{"origin", 1, 0, 0},
		{"berlin", 2, 13.4050, 52.5200},
		{"southwest corner", 3, -180, -90},
		{"northeast corner", 4, 180, 90},
		{"highest id", 1023, -0.1278, 51.5074},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := idx.Put(tt.id, tt.lon, tt.lat); err != nil {
				t.Fatalf("Put: %v", err)
			}
			lon, lat, ok := idx.Get(tt.id)
			if !ok {
				t.Fatalf("Get(%d) not found", tt.id)
			}
			if math.Abs(lon-tt.lon) > 1e-7 || math.Abs(lat-tt.lat) > 1e-7 {
				t.Errorf("Get(%d) = (%f, %f), want (%f, %f)", tt.id, lon, lat, tt.lon, tt.lat)
			}
		})
	}

	if _, _, ok := idx.Get(5); ok {
		t.Errorf("Get(5) found a node that was never written")
	}
}

func TestOutOfRange(t *testing.T) {
	idx, err := Create(filepath.Join(t.TempDir(), "flat.nodes"), 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer idx.Close()

	if err := idx.Put(16, 1, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Put(16) error = %v, want ErrOutOfRange", err)
	}
	if _, _, ok := idx.Get(-1); ok {
		t.Errorf("Get(-1) should not be found")
	}
}

func TestCreateTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.nodes")
	idx, err := Create(path, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := idx.Put(7, 10.5, -20.25); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := idx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := Create(path, 64)
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	defer again.Close()
	if _, _, ok := again.Get(7); ok {
		t.Errorf("Get(7) found a node from the previous run")
	}
}
