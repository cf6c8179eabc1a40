package spatial

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/osmingest-go/internal/logger"
	"github.com/wegman-software/osmingest-go/internal/middle"
)

// DefaultTable is the PostGIS table entries are written to.
const DefaultTable = "osm_spatial"

// PostGISSink writes entries to a PostGIS table keyed by (kind, osm_id).
// The bound is stored both as numeric columns and as an envelope geometry.
type PostGISSink struct {
	pool  *pgxpool.Pool
	table string // qualified, quoted
	name  string
}

var (
	_ Sink     = (*PostGISSink)(nil)
	_ Searcher = (*PostGISSink)(nil)
)

// OpenPostGIS connects and makes sure the table exists.
func OpenPostGIS(ctx context.Context, connString, schema, table string, maxConns int) (*PostGISSink, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if schema == "" {
		schema = "public"
	}
	if table == "" {
		table = DefaultTable
	}
	s := &PostGISSink{
		pool:  pool,
		table: pgx.Identifier{schema, table}.Sanitize(),
		name:  table,
	}
	if err := s.ensureSchema(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostGISSink) ensureSchema(ctx context.Context, schema string) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return fmt.Errorf("failed to create PostGIS extension: %w", err)
	}
	if schema != "public" {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize())); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			kind CHAR(1) NOT NULL,
			osm_id BIGINT NOT NULL,
			min_lon DOUBLE PRECISION NOT NULL,
			min_lat DOUBLE PRECISION NOT NULL,
			max_lon DOUBLE PRECISION NOT NULL,
			max_lat DOUBLE PRECISION NOT NULL,
			geom GEOMETRY(Geometry, 4326) NOT NULL,
			payload BYTEA,
			PRIMARY KEY (kind, osm_id)
		)
	`, s.table)
	if _, err := s.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (s *PostGISSink) upsertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (kind, osm_id, min_lon, min_lat, max_lon, max_lat, geom, payload)
		VALUES ($1, $2, $3, $4, $5, $6, ST_MakeEnvelope($3, $4, $5, $6, 4326), $7)
		ON CONFLICT (kind, osm_id) DO UPDATE SET
			min_lon = EXCLUDED.min_lon,
			min_lat = EXCLUDED.min_lat,
			max_lon = EXCLUDED.max_lon,
			max_lat = EXCLUDED.max_lat,
			geom = EXCLUDED.geom,
			payload = EXCLUDED.payload
	`, s.table)
}

// Insert upserts entries in one transaction.
func (s *PostGISSink) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := s.upsertSQL()
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(sql, e.Kind.Code(), e.ID,
			e.Bound.Min[0], e.Bound.Min[1], e.Bound.Max[0], e.Bound.Max[1], e.Payload)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert %d entries: %w", len(entries), err)
	}
	return tx.Commit(ctx)
}

// Search queries the envelope column with the bounding box operator.
func (s *PostGISSink) Search(ctx context.Context, q orb.Bound, fn func(Entry) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT kind, osm_id, min_lon, min_lat, max_lon, max_lat, payload
		FROM %s
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
	`, s.table), q.Min[0], q.Min[1], q.Max[0], q.Max[1])
	if err != nil {
		return fmt.Errorf("failed to query spatial table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			e    Entry
		)
		if err := rows.Scan(&kind, &e.ID, &e.Bound.Min[0], &e.Bound.Min[1], &e.Bound.Max[0], &e.Bound.Max[1], &e.Payload); err != nil {
			return err
		}
		if len(kind) == 1 {
			e.Kind = middle.Kind(kind[0])
		}
		if err := fn(e); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

// Close builds the spatial index, analyzes the table and disconnects.
func (s *PostGISSink) Close() error {
	defer s.pool.Close()
	ctx := context.Background()
	log := logger.Get()

	log.Info("Creating spatial index", zap.String("table", s.table))
	gistIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
		pgx.Identifier{s.name + "_geom_idx"}.Sanitize(), s.table)
	if _, err := s.pool.Exec(ctx, gistIdx); err != nil {
		return fmt.Errorf("failed to create spatial index: %w", err)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", s.table)); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}
	return nil
}
