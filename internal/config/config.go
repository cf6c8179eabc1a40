package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Default file names below the output directory.
const (
	StoreDirName    = "store"
	BoltFileName    = "spatial.db"
	ParquetFileName = "spatial.parquet"
)

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	b := orb.Bound{Min: orb.Point{coords[0], coords[1]}, Max: orb.Point{coords[2], coords[3]}}
	if b.Min[0] > b.Max[0] {
		return orb.Bound{}, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", b.Min[0], b.Max[0])
	}
	if b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", b.Min[1], b.Max[1])
	}
	return b, nil
}

// Config holds the global configuration for an ingest run
type Config struct {
	// Input settings
	InputFile string

	// Output settings
	OutputDir string
	StoreDir  string // Store directory (default <outdir>/store)
	IndexPath string // Bolt or parquet file (default <outdir>/spatial.db)
	Sink      string // bolt, postgis or parquet

	// Pass 1 settings
	Workers        int
	Buffer         int
	SkipMissing    bool
	HaltOnError    bool
	RelationSweep  bool
	MaxDeferred    int
	DropMetadata   bool   // Omit version, changeset, timestamp and user
	FlatNodesFile  string // Path to flat nodes cache
	FlatNodesMaxID int64

	// Pass 2 settings
	BatchSize  int
	Payload    string // record, wkb or none
	Projection int    // Target SRID of wkb payloads (4326 or 3857)
	StyleFile  string // Path to style YAML file for tag filtering
	MaxZoom    int    // Deepest tile zoom of the bolt index

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string
	DBTable    string
	DBMaxConns int

	// Logging and metrics
	Verbose         bool
	Progress        bool          // Show a terminal progress bar
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "./osm_data",
		Sink:            "bolt",
		Workers:         runtime.NumCPU(),
		Buffer:          4096,
		MaxDeferred:     100_000,
		FlatNodesMaxID:  16_000_000_000,
		BatchSize:       1000,
		Payload:         "record",
		Projection:      4326, // WGS84 by default
		MaxZoom:         14,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		DBTable:         "osm_spatial",
		DBMaxConns:      4,
		MetricsInterval: 30 * time.Second, // Log system metrics every 30 seconds
	}
}

// StorePath returns the directory holding the three kind stores.
func (c *Config) StorePath() string {
	if c.StoreDir != "" {
		return c.StoreDir
	}
	return filepath.Join(c.OutputDir, StoreDirName)
}

// IndexFile returns the bolt or parquet file of the spatial sink.
func (c *Config) IndexFile() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	if c.Sink == "parquet" {
		return filepath.Join(c.OutputDir, ParquetFileName)
	}
	return filepath.Join(c.OutputDir, BoltFileName)
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// ValidatePass1 checks the settings needed to denormalize an input.
func (c *Config) ValidatePass1() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Buffer < 1 {
		return fmt.Errorf("buffer must be at least 1")
	}
	if c.RelationSweep && c.MaxDeferred < 1 {
		return fmt.Errorf("max deferred must be at least 1 with relation sweep")
	}
	if c.FlatNodesFile != "" && c.FlatNodesMaxID < 1 {
		return fmt.Errorf("flat nodes max id must be positive")
	}
	return nil
}

// ValidatePass2 checks the settings needed to write the spatial sink.
func (c *Config) ValidatePass2() error {
	switch c.Sink {
	case "bolt", "postgis", "parquet":
	default:
		return fmt.Errorf("sink must be bolt, postgis or parquet, got %q", c.Sink)
	}
	switch c.Payload {
	case "record", "wkb", "none":
	default:
		return fmt.Errorf("payload must be record, wkb or none, got %q", c.Payload)
	}
	if c.Projection != 4326 && c.Projection != 3857 {
		return fmt.Errorf("projection must be 4326 or 3857, got %d", c.Projection)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.MaxZoom < 0 || c.MaxZoom > 22 {
		return fmt.Errorf("max zoom must be between 0 and 22")
	}
	return nil
}

// Validate checks that the configuration is valid for a full ingest
func (c *Config) Validate() error {
	if err := c.ValidatePass1(); err != nil {
		return err
	}
	return c.ValidatePass2()
}

// ApplyFile reads a YAML file of flag names to values and sets every flag in
// flags that was not given on the command line. One file can serve every
// command; names flags does not define are ignored.
func ApplyFile(path string, flags *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]yaml.Node
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for name, node := range values {
		// Options of other commands are skipped.
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("config file %s: option %q must be a scalar", path, name)
		}
		if err := flags.Set(name, node.Value); err != nil {
			return fmt.Errorf("config file %s: option %q: %w", path, name, err)
		}
	}
	return nil
}
