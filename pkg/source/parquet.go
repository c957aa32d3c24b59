package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/eunmann/vendas-agg/pkg/sales"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/shopspring/decimal"
)

// columnType carries the logical annotations valueString needs.
type columnType struct {
	date      bool
	decimal   bool
	scale     int32
	unitsADay int64 // non-zero for timestamp columns
}

func columnTypeOf(lt *format.LogicalType) columnType {
	var ct columnType
	switch {
	case lt == nil:
	case lt.Date != nil:
		ct.date = true
	case lt.Decimal != nil:
		ct.decimal = true
		ct.scale = lt.Decimal.Scale
	case lt.Timestamp != nil:
		switch u := lt.Timestamp.Unit; {
		case u.Millis != nil:
			ct.unitsADay = 86_400_000
		case u.Micros != nil:
			ct.unitsADay = 86_400_000_000
		case u.Nanos != nil:
			ct.unitsADay = 86_400_000_000_000
		}
	}
	return ct
}

// parquetSource presents Parquet row groups as chunks of raw rows so the
// normalizer sees one row shape regardless of input format.
type parquetSource struct {
	path      string
	file      *parquet.File
	closer    io.Closer
	header    Header
	colTypes  []columnType
	chunkSize int

	rowGroups []parquet.RowGroup
	rgIdx     int
	current   parquet.Rows
	buf       []parquet.Row

	rows  []RawRow
	chunk Chunk
	read  int64
	total int64
	size  int64
	done  bool
}

func newParquetSource(cfg Config, r io.ReaderAt, size int64, closer io.Closer) (*parquetSource, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		closer.Close()
		return nil, &FormatError{Path: cfg.Path, Msg: "open parquet file", Err: err}
	}

	fields := file.Schema().Fields()
	names := make([]string, len(fields))
	colTypes := make([]columnType, len(fields))
	for i, field := range fields {
		if !field.Leaf() {
			closer.Close()
			return nil, &FormatError{Path: cfg.Path, Msg: fmt.Sprintf("nested parquet column %q is not supported", field.Name())}
		}
		names[i] = field.Name()
		colTypes[i] = columnTypeOf(field.Type().LogicalType())
	}

	header, err := ResolveHeader(names, cfg.Columns)
	if err != nil {
		closer.Close()
		return nil, &FormatError{Path: cfg.Path, Msg: err.Error()}
	}

	return &parquetSource{
		path:      cfg.Path,
		file:      file,
		closer:    closer,
		header:    header,
		colTypes:  colTypes,
		chunkSize: cfg.ChunkSize,
		rowGroups: file.RowGroups(),
		rgIdx:     -1,
		buf:       make([]parquet.Row, min(cfg.ChunkSize, 1024)),
		total:     file.NumRows(),
		size:      size,
	}, nil
}

func (s *parquetSource) Header() Header { return s.header }

func (s *parquetSource) Next(ctx context.Context) (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := 0
	for n < s.chunkSize {
		if s.current == nil {
			s.rgIdx++
			if s.rgIdx >= len(s.rowGroups) {
				s.done = true
				break
			}
			s.current = s.rowGroups[s.rgIdx].Rows()
		}

		want := min(len(s.buf), s.chunkSize-n)
		k, err := s.current.ReadRows(s.buf[:want])
		for i := 0; i < k; i++ {
			s.put(n, s.buf[i])
			n++
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &IOError{Path: s.path, Op: "read", Err: fmt.Errorf("read parquet rows: %w", err)}
		}
		if err != nil || k == 0 {
			// Current row group exhausted
			s.current.Close()
			s.current = nil
		}
	}

	if n == 0 {
		return nil, io.EOF
	}
	s.chunk.Index++
	s.chunk.Rows = s.rows[:n]
	return &s.chunk, nil
}

func (s *parquetSource) put(n int, row parquet.Row) {
	width := s.header.Width()
	if n == len(s.rows) {
		s.rows = append(s.rows, RawRow{Fields: make([]string, width)})
	}
	s.read++
	raw := &s.rows[n]
	raw.Line = int(s.read)
	raw.Fields = raw.Fields[:width]
	for i := range raw.Fields {
		raw.Fields[i] = ""
	}
	for _, val := range row {
		col := val.Column()
		if col < 0 || col >= width || val.IsNull() {
			continue
		}
		raw.Fields[col] = valueString(val, s.colTypes[col])
	}
}

// valueString renders a Parquet value the way it would appear in a CSV
// export of the same data. Decimals keep their scale and dates and
// timestamps come out as ISO days.
func valueString(val parquet.Value, ct columnType) string {
	switch val.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if ct.decimal {
			unscaled := twosComplement(val.ByteArray())
			return decimal.NewFromBigInt(unscaled, -ct.scale).String()
		}
		return string(val.ByteArray())
	case parquet.Int32:
		switch {
		case ct.date:
			return sales.Date(val.Int32()).String()
		case ct.decimal:
			return decimal.New(int64(val.Int32()), -ct.scale).String()
		}
		return strconv.FormatInt(int64(val.Int32()), 10)
	case parquet.Int64:
		switch {
		case ct.unitsADay != 0:
			return sales.Date(floorDiv(val.Int64(), ct.unitsADay)).String()
		case ct.decimal:
			return decimal.New(val.Int64(), -ct.scale).String()
		}
		return strconv.FormatInt(val.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(val.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(val.Double(), 'f', -1, 64)
	case parquet.Boolean:
		return strconv.FormatBool(val.Boolean())
	}
	return val.String()
}

// twosComplement decodes a big-endian two's complement integer.
func twosComplement(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8))
	}
	return v
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func (s *parquetSource) Rows() int64    { return s.read }
func (s *parquetSource) Skipped() int64 { return 0 }
func (s *parquetSource) Size() int64    { return s.size }

// BytesRead approximates consumption from the share of rows read.
func (s *parquetSource) BytesRead() int64 {
	if s.total <= 0 {
		return 0
	}
	return s.size * s.read / s.total
}

func (s *parquetSource) Close() error {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
