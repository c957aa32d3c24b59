// Package source reads sales inputs as a lazy, forward-only sequence of
// bounded chunks of raw rows.
//
// Only one chunk is held at a time: the rows of a chunk (and the strings
// they reference) are reused by the following call to Next.
package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/eunmann/vendas-agg/pkg/s3fetch"
)

// DefaultChunkSize is the number of rows per chunk when none is configured.
const DefaultChunkSize = 100_000

// RawRow is one data row as read from the input.
type RawRow struct {
	// Line is the 1-based line (CSV) or row ordinal (Parquet).
	Line   int
	Fields []string
}

// Chunk is a bounded batch of raw rows. Index counts from 1.
type Chunk struct {
	Index int
	Rows  []RawRow
}

// Source is a finite, non-restartable sequence of chunks.
type Source interface {
	// Header returns the resolved column layout.
	Header() Header
	// Next returns the next chunk, or io.EOF after the last one.
	Next(ctx context.Context) (*Chunk, error)
	// Rows returns the number of rows delivered so far.
	Rows() int64
	// Skipped returns the number of malformed rows dropped so far.
	Skipped() int64
	// BytesRead returns the input bytes consumed so far.
	BytesRead() int64
	// Size returns the input size in bytes, or -1 when unknown.
	Size() int64
	Close() error
}

// Config controls how an input is opened.
type Config struct {
	// Path is a local path or s3://bucket/key URI.
	Path string
	// ChunkSize is the maximum number of rows per chunk.
	ChunkSize int
	// Format is "csv", "parquet" or empty to use the file extension.
	Format string
	// Encoding is "utf-8" (default), "latin1" or "windows-1252".
	Encoding string
	// Delimiter is the CSV field separator; 0 detects it from the header.
	Delimiter rune
	// Columns overrides header resolution for specific fields.
	Columns ColumnMap
	// S3 is used for s3:// inputs. When nil a client is created from the
	// default AWS configuration.
	S3 *s3fetch.Client
	// OnSkip, if set, is called for every skipped data row.
	OnSkip func(*FormatError)
}

// Open opens the configured input and reads its header.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	format, err := detectFormat(cfg.Path, cfg.Format)
	if err != nil {
		return nil, err
	}

	if s3fetch.IsS3URI(cfg.Path) {
		return openS3(ctx, cfg, format)
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, &IOError{Path: cfg.Path, Op: "open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{Path: cfg.Path, Op: "stat", Err: err}
	}
	if info.IsDir() {
		f.Close()
		return nil, &IOError{Path: cfg.Path, Op: "open", Err: fmt.Errorf("is a directory")}
	}

	if format == formatParquet {
		return newParquetSource(cfg, f, info.Size(), f)
	}
	return newCSVSource(cfg, f, info.Size())
}

func openS3(ctx context.Context, cfg Config, format string) (Source, error) {
	bucket, key, err := s3fetch.ParseS3URI(cfg.Path)
	if err != nil {
		return nil, &IOError{Path: cfg.Path, Op: "parse", Err: err}
	}
	client := cfg.S3
	if client == nil {
		client, err = s3fetch.NewClient(ctx)
		if err != nil {
			return nil, &IOError{Path: cfg.Path, Op: "connect", Err: err}
		}
	}

	if format == formatParquet {
		obj, _, err := client.Download(ctx, bucket, key)
		if err != nil {
			return nil, &IOError{Path: cfg.Path, Op: "download", Err: err}
		}
		return newParquetSource(cfg, obj, obj.Size(), obj)
	}

	obj, err := client.StreamObject(ctx, bucket, key)
	if err != nil {
		return nil, &IOError{Path: cfg.Path, Op: "open", Err: err}
	}
	size := obj.Size
	if size < 0 {
		// Chunked responses omit Content-Length; progress still wants a total.
		if n, err := client.ObjectSize(ctx, bucket, key); err == nil {
			size = n
		}
	}
	return newCSVSource(cfg, obj.Body, size)
}

const (
	formatCSV     = "csv"
	formatParquet = "parquet"
)

func detectFormat(p, explicit string) (string, error) {
	switch strings.ToLower(explicit) {
	case formatCSV:
		return formatCSV, nil
	case formatParquet:
		return formatParquet, nil
	case "":
	default:
		return "", fmt.Errorf("unknown input format %q", explicit)
	}

	base := strings.ToLower(path.Base(p))
	if compression(base) != "" {
		return formatCSV, nil
	}
	if strings.HasSuffix(base, ".parquet") || strings.HasSuffix(base, ".pq") {
		return formatParquet, nil
	}
	return formatCSV, nil
}

// compression returns the codec implied by a file name's extension.
func compression(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "gzip"
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return "zstd"
	}
	return ""
}
