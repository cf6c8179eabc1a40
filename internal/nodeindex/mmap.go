// Package nodeindex is an optional flat coordinate cache addressed by node
// id. It answers way and relation resolution without decoding node records.
package nodeindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

const (
	// Each node entry: lon (uint32) + lat (uint32) = 8 bytes
	entrySize = 8

	// DefaultMaxNodeID covers current planet node ids with headroom.
	DefaultMaxNodeID = 16_000_000_000

	// bias shifts scaled coordinates so that a stored zero means "absent"
	// while (0,0) stays representable.
	bias = 1 << 31
)

// ErrOutOfRange is returned by Put for ids the index cannot address.
var ErrOutOfRange = errors.New("node id outside flat node index range")

// FlatNodes is a memory-mapped coordinate array. Coordinates live at
// offset nodeID*8, so lookups are O(1). The backing file is sparse; only
// pages holding written nodes use disk space.
type FlatNodes struct {
	file  *os.File
	data  mmap.MMap
	maxID int64
}

// Create makes a new index at path able to hold ids below maxID. An
// existing file is truncated; the file is left on disk after Close.
func Create(path string, maxID int64) (*FlatNodes, error) {
	if maxID <= 0 {
		maxID = DefaultMaxNodeID
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create flat nodes file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(maxID * entrySize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size flat nodes file: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap flat nodes file: %w", err)
	}

	return &FlatNodes{file: f, data: data, maxID: maxID}, nil
}

// Put stores a node's coordinates. Distinct ids may be written concurrently.
func (m *FlatNodes) Put(nodeID int64, lon, lat float64) error {
	if nodeID < 0 || nodeID >= m.maxID {
		return fmt.Errorf("%w: %d", ErrOutOfRange, nodeID)
	}

	offset := nodeID * entrySize
	binary.LittleEndian.PutUint32(m.data[offset:], encode(lon))
	binary.LittleEndian.PutUint32(m.data[offset+4:], encode(lat))
	return nil
}

// Get retrieves a node's coordinates.
func (m *FlatNodes) Get(nodeID int64) (lon, lat float64, ok bool) {
	if nodeID < 0 || nodeID >= m.maxID {
		return 0, 0, false
	}

	offset := nodeID * entrySize
	rawLon := binary.LittleEndian.Uint32(m.data[offset:])
	if rawLon == 0 {
		return 0, 0, false
	}
	rawLat := binary.LittleEndian.Uint32(m.data[offset+4:])
	return decode(rawLon), decode(rawLat), true
}

// Sync flushes changes to disk
func (m *FlatNodes) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index.
func (m *FlatNodes) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// encode stores a coordinate in 1e-7 fixed point, biased so that every
// valid coordinate is non-zero.
func encode(v float64) uint32 {
	return uint32(int64(middle.ScaleCoord(v)) + bias)
}

func decode(raw uint32) float64 {
	return middle.UnscaleCoord(int32(int64(raw) - bias))
}
