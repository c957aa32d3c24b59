package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type csvSource struct {
	path      string
	r         *csv.Reader
	counter   *countingReader
	closers   []io.Closer
	header    Header
	chunkSize int
	onSkip    func(*FormatError)

	rows    []RawRow
	chunk   Chunk
	size    int64
	read    int64
	skipped int64
	done    bool
}

func newCSVSource(cfg Config, body io.ReadCloser, size int64) (*csvSource, error) {
	s := &csvSource{
		path:      cfg.Path,
		counter:   &countingReader{r: body},
		closers:   []io.Closer{body},
		chunkSize: cfg.ChunkSize,
		onSkip:    cfg.OnSkip,
		size:      size,
	}

	var r io.Reader = s.counter
	switch compression(cfg.Path) {
	case "gzip":
		gzr, err := gzip.NewReader(r)
		if err != nil {
			s.Close()
			return nil, &IOError{Path: cfg.Path, Op: "gunzip", Err: err}
		}
		s.closers = append(s.closers, gzr)
		r = gzr
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			s.Close()
			return nil, &IOError{Path: cfg.Path, Op: "unzstd", Err: err}
		}
		rc := dec.IOReadCloser()
		s.closers = append(s.closers, rc)
		r = rc
	}

	r, err := decodeCharset(r, cfg.Encoding)
	if err != nil {
		s.Close()
		return nil, err
	}

	br := bufio.NewReaderSize(r, 64*1024)
	delim := cfg.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(br)
	}

	s.r = csv.NewReader(br)
	s.r.Comma = delim
	s.r.ReuseRecord = true
	s.r.FieldsPerRecord = -1 // width is checked against the header per row
	s.r.LazyQuotes = true

	names, err := s.r.Read()
	if err != nil {
		s.Close()
		if errors.Is(err, io.EOF) {
			return nil, &FormatError{Path: cfg.Path, Msg: "missing header row"}
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &FormatError{Path: cfg.Path, Line: 1, Msg: "unreadable header row", Err: err}
		}
		return nil, &IOError{Path: cfg.Path, Op: "read", Err: err}
	}

	s.header, err = ResolveHeader(names, cfg.Columns)
	if err != nil {
		s.Close()
		return nil, &FormatError{Path: cfg.Path, Line: 1, Msg: err.Error()}
	}
	return s, nil
}

func decodeCharset(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(encoding, "_", "-")) {
	case "", "utf-8", "utf8":
		// Strips a leading BOM; input without one passes through untouched.
		return transform.NewReader(r, unicode.BOMOverride(transform.Nop)), nil
	case "latin1", "latin-1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	}
	return nil, fmt.Errorf("unsupported input encoding %q", encoding)
}

// sniffDelimiter picks the most frequent candidate separator in the first
// line, defaulting to ','.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', bytes.Count(head, []byte{','})
	for _, c := range []byte{';', '\t', '|'} {
		if n := bytes.Count(head, []byte{c}); n > bestN {
			best, bestN = rune(c), n
		}
	}
	return best
}

func (s *csvSource) Header() Header { return s.header }

func (s *csvSource) Next(ctx context.Context) (*Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width := s.header.Width()
	n := 0
	for n < s.chunkSize {
		rec, err := s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				s.skip(&FormatError{Path: s.path, Line: pe.StartLine, Msg: pe.Err.Error(), Err: err})
				continue
			}
			return nil, &IOError{Path: s.path, Op: "read", Err: err}
		}

		line, _ := s.r.FieldPos(0)
		if len(rec) != width {
			s.skip(&FormatError{
				Path: s.path,
				Line: line,
				Msg:  fmt.Sprintf("row has %d columns, header has %d", len(rec), width),
			})
			continue
		}

		if n < len(s.rows) {
			s.rows[n].Line = line
			s.rows[n].Fields = append(s.rows[n].Fields[:0], rec...)
		} else {
			s.rows = append(s.rows, RawRow{Line: line, Fields: append([]string(nil), rec...)})
		}
		n++
	}

	if n == 0 {
		return nil, io.EOF
	}
	s.read += int64(n)
	s.chunk.Index++
	s.chunk.Rows = s.rows[:n]
	return &s.chunk, nil
}

func (s *csvSource) skip(err *FormatError) {
	s.skipped++
	if s.onSkip != nil {
		s.onSkip(err)
	}
}

func (s *csvSource) Rows() int64      { return s.read }
func (s *csvSource) Skipped() int64   { return s.skipped }
func (s *csvSource) BytesRead() int64 { return s.counter.n }
func (s *csvSource) Size() int64      { return s.size }

// Close releases readers in reverse order (decompressor before body).
func (s *csvSource) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
