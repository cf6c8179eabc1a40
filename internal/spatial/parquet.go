package spatial

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

const parquetRowGroup = 100_000

var parquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "min_lon", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "min_lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "max_lon", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "max_lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "payload", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// ParquetSink appends entries to a Parquet file for bulk loading
// elsewhere. It does not deduplicate: each run writes a fresh file.
type ParquetSink struct {
	mu        sync.Mutex
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

var _ Sink = (*ParquetSink)(nil)

// CreateParquet creates (or truncates) the Parquet file at path.
func CreateParquet(path string) (*ParquetSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(parquetSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ParquetSink{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, parquetSchema),
		batchSize: parquetRowGroup,
	}, nil
}

// Insert appends entries, flushing a row group when the batch fills up.
func (w *ParquetSink) Insert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		w.builder.Field(0).(*array.StringBuilder).Append(e.Kind.Code())
		w.builder.Field(1).(*array.Int64Builder).Append(e.ID)
		w.builder.Field(2).(*array.Float64Builder).Append(e.Bound.Min[0])
		w.builder.Field(3).(*array.Float64Builder).Append(e.Bound.Min[1])
		w.builder.Field(4).(*array.Float64Builder).Append(e.Bound.Max[0])
		w.builder.Field(5).(*array.Float64Builder).Append(e.Bound.Max[1])
		if e.Payload == nil {
			w.builder.Field(6).(*array.BinaryBuilder).AppendNull()
		} else {
			w.builder.Field(6).(*array.BinaryBuilder).Append(e.Payload)
		}

		w.count++
		if w.count >= w.batchSize {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ParquetSink) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	if err != nil {
		return fmt.Errorf("failed to write parquet row group: %w", err)
	}
	return nil
}

// Close flushes remaining rows and closes the file.
func (w *ParquetSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	// the parquet writer may already have closed the file
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
