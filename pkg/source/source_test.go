package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/text/encoding/charmap"

	"github.com/eunmann/vendas-agg/pkg/s3fetch"
)

const header = "Data,Produto,Quantidade,Preço_Unitário,Loja,Canal,País,Região\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func sampleCSV(rows int) string {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < rows; i++ {
		b.WriteString("2024-01-15,Cereal,2,10.00,Loja 1,Online,Brasil,Sudeste\n")
	}
	return b.String()
}

// drain reads every chunk, copying rows out since chunks are reused.
func drain(t *testing.T, src Source) (sizes []int, rows [][]string) {
	t.Helper()
	ctx := context.Background()
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sizes, rows
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, len(chunk.Rows))
		for _, r := range chunk.Rows {
			rows = append(rows, append([]string(nil), r.Fields...))
		}
	}
}

func TestOpen_Chunking(t *testing.T) {
	path := writeFile(t, "vendas.csv", []byte(sampleCSV(7)))

	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	sizes, rows := drain(t, src)
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("chunk sizes = %v, want [3 3 1]", sizes)
	}
	if len(rows) != 7 || rows[6][1] != "Cereal" {
		t.Errorf("unexpected rows: %v", rows)
	}
	if src.Rows() != 7 {
		t.Errorf("Rows() = %d, want 7", src.Rows())
	}
	if src.BytesRead() != src.Size() {
		t.Errorf("BytesRead() = %d, Size() = %d", src.BytesRead(), src.Size())
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after end = %v, want io.EOF", err)
	}
}

func TestOpen_ExactMultipleOfChunkSize(t *testing.T) {
	path := writeFile(t, "vendas.csv", []byte(sampleCSV(4)))
	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	sizes, _ := drain(t, src)
	if len(sizes) != 2 {
		t.Errorf("chunk sizes = %v, want [2 2]", sizes)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nope.csv")})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "open" {
		t.Errorf("expected *IOError with op open, got %#v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("IOError should wrap the underlying error")
	}
}

func TestOpen_MissingHeader(t *testing.T) {
	path := writeFile(t, "empty.csv", nil)
	_, err := Open(context.Background(), Config{Path: path})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing header") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestOpen_UnrecognizedHeader(t *testing.T) {
	path := writeFile(t, "bad.csv", []byte("a,b,c\n1,2,3\n"))
	_, err := Open(context.Background(), Config{Path: path})
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Line != 1 {
		t.Fatalf("expected header FormatError, got %v", err)
	}
}

func TestNext_SkipsColumnMismatch(t *testing.T) {
	data := header +
		"2024-01-15,Cereal,2,10.00,L1,Online,Brasil,Sul\n" +
		"2024-01-15,Cereal,2\n" +
		"2024-01-16,Snacks,1,5.00,L1,Online,Brasil,Sul,extra\n" +
		"2024-01-17,Snacks,1,5.00,L1,Online,Brasil,Sul\n"
	path := writeFile(t, "ragged.csv", []byte(data))

	var skipped []*FormatError
	src, err := Open(context.Background(), Config{
		Path:      path,
		ChunkSize: 10,
		OnSkip:    func(e *FormatError) { skipped = append(skipped, e) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	_, rows := drain(t, src)
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}
	if src.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", src.Skipped())
	}
	if len(skipped) != 2 || skipped[0].Line != 3 || skipped[1].Line != 4 {
		t.Fatalf("unexpected skip reports: %v", skipped)
	}
	if !errors.Is(skipped[0], ErrFormat) {
		t.Error("skip report should wrap ErrFormat")
	}
}

func TestNext_LineNumbers(t *testing.T) {
	path := writeFile(t, "vendas.csv", []byte(sampleCSV(3)))
	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	first, _ := src.Next(ctx)
	if first.Index != 1 || first.Rows[0].Line != 2 || first.Rows[1].Line != 3 {
		t.Errorf("first chunk index=%d lines=%d,%d", first.Index, first.Rows[0].Line, first.Rows[1].Line)
	}
	second, _ := src.Next(ctx)
	if second.Index != 2 || second.Rows[0].Line != 4 {
		t.Errorf("second chunk index=%d line=%d", second.Index, second.Rows[0].Line)
	}
}

func TestOpen_BOMAndSemicolon(t *testing.T) {
	data := "\ufeffData;Produto;Quantidade;Preço_Unitário;Loja;Canal;País;Região\n" +
		"2024-01-15;Café;2;12,50;L1;Online;Brasil;Sul\n"
	path := writeFile(t, "bom.csv", []byte(data))

	src, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if src.Header().Index(FieldDate) != 0 {
		t.Error("BOM should not break the first header name")
	}
	_, rows := drain(t, src)
	if len(rows) != 1 || rows[0][3] != "12,50" || rows[0][1] != "Café" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestOpen_Latin1(t *testing.T) {
	text := header + "2024-01-15,Pão,1,3.00,L1,Balcão,Brasil,Região Sul\n"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := writeFile(t, "latin1.csv", []byte(encoded))

	src, err := Open(context.Background(), Config{Path: path, Encoding: "latin1"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	_, rows := drain(t, src)
	if len(rows) != 1 || rows[0][1] != "Pão" || rows[0][5] != "Balcão" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestOpen_UnknownEncoding(t *testing.T) {
	path := writeFile(t, "vendas.csv", []byte(sampleCSV(1)))
	if _, err := Open(context.Background(), Config{Path: path, Encoding: "ebcdic"}); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestOpen_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(sampleCSV(5)))
	zw.Close()
	path := writeFile(t, "vendas.csv.gz", buf.Bytes())

	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	_, rows := drain(t, src)
	if len(rows) != 5 {
		t.Errorf("got %d rows, want 5", len(rows))
	}
	if src.BytesRead() != int64(buf.Len()) {
		t.Errorf("BytesRead() = %d, want compressed size %d", src.BytesRead(), buf.Len())
	}
}

func TestOpen_Zstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zw.Write([]byte(sampleCSV(5)))
	zw.Close()
	path := writeFile(t, "vendas.csv.zst", buf.Bytes())

	src, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	_, rows := drain(t, src)
	if len(rows) != 5 {
		t.Errorf("got %d rows, want 5", len(rows))
	}
}

func TestNext_Cancelled(t *testing.T) {
	path := writeFile(t, "vendas.csv", []byte(sampleCSV(3)))
	src, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next with cancelled ctx = %v", err)
	}
}

type parquetSale struct {
	Data       int32   `parquet:"data,date"`
	Produto    string  `parquet:"produto"`
	Quantidade int64   `parquet:"quantidade"`
	Preco      float64 `parquet:"preco_unitario"`
	Canal      string  `parquet:"canal"`
	Pais       string  `parquet:"pais"`
	Regiao     string  `parquet:"regiao"`
}

func TestOpen_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendas.parquet")
	rows := []parquetSale{
		{Data: 19737, Produto: "Cereal", Quantidade: 2, Preco: 10.5, Canal: "Online", Pais: "Brasil", Regiao: "Sul"},
		{Data: 19738, Produto: "Snacks", Quantidade: 3, Preco: 4, Canal: "Offline", Pais: "Brasil", Regiao: "Norte"},
		{Data: 19769, Produto: "Cereal", Quantidade: 1, Preco: 10.5, Canal: "Online", Pais: "Chile", Regiao: "Sul"},
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	h := src.Header()
	if h.Index(FieldStore) != -1 {
		t.Error("store column should be absent")
	}

	sizes, got := drain(t, src)
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("chunk sizes = %v, want [2 1]", sizes)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}

	first := got[0]
	if v := first[h.Index(FieldDate)]; v != "2024-01-15" {
		t.Errorf("date = %q, want 2024-01-15", v)
	}
	if v := first[h.Index(FieldProduct)]; v != "Cereal" {
		t.Errorf("product = %q", v)
	}
	if v := first[h.Index(FieldQuantity)]; v != "2" {
		t.Errorf("quantity = %q", v)
	}
	if v := first[h.Index(FieldUnitPrice)]; v != "10.5" {
		t.Errorf("price = %q", v)
	}
	if v := got[2][h.Index(FieldCountry)]; v != "Chile" {
		t.Errorf("country = %q", v)
	}
	if src.BytesRead() != src.Size() {
		t.Errorf("BytesRead() = %d, want %d after full read", src.BytesRead(), src.Size())
	}
}

type parquetTypedSale struct {
	Data       time.Time `parquet:"data,timestamp(millisecond)"`
	Produto    string    `parquet:"produto"`
	Quantidade int32     `parquet:"quantidade"`
	Preco      int64     `parquet:"preco_unitario,decimal(2:18)"`
	Canal      string    `parquet:"canal"`
	Pais       string    `parquet:"pais"`
	Regiao     string    `parquet:"regiao"`
}

func TestOpen_ParquetLogicalTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendas.parquet")
	rows := []parquetTypedSale{
		{Data: time.Date(2024, time.January, 15, 23, 59, 0, 0, time.UTC), Produto: "Cereal", Quantidade: 2, Preco: 1050, Canal: "Online", Pais: "Brasil", Regiao: "Sul"},
		{Data: time.Date(1969, time.December, 31, 12, 0, 0, 0, time.UTC), Produto: "Snacks", Quantidade: 1, Preco: 7, Canal: "Offline", Pais: "Brasil", Regiao: "Norte"},
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	src, err := Open(context.Background(), Config{Path: path, ChunkSize: 10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	h := src.Header()
	_, got := drain(t, src)
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if v := got[0][h.Index(FieldDate)]; v != "2024-01-15" {
		t.Errorf("timestamp date = %q, want 2024-01-15", v)
	}
	if v := got[0][h.Index(FieldUnitPrice)]; v != "10.5" {
		t.Errorf("decimal price = %q, want 10.5", v)
	}
	if v := got[1][h.Index(FieldDate)]; v != "1969-12-31" {
		t.Errorf("pre-epoch date = %q, want 1969-12-31", v)
	}
	if v := got[1][h.Index(FieldUnitPrice)]; v != "0.07" {
		t.Errorf("decimal price = %q, want 0.07", v)
	}
}

func TestValueString(t *testing.T) {
	dec2 := columnType{decimal: true, scale: 2}
	tests := []struct {
		name string
		val  parquet.Value
		ct   columnType
		want string
	}{
		{"plain int64", parquet.Int64Value(1050), columnType{}, "1050"},
		{"int32 decimal", parquet.Int32Value(1999), dec2, "19.99"},
		{"int64 decimal", parquet.Int64Value(-250), dec2, "-2.5"},
		{"fixed decimal", parquet.FixedLenByteArrayValue([]byte{0x00, 0x04, 0x1a}), dec2, "10.5"},
		{"fixed negative decimal", parquet.FixedLenByteArrayValue([]byte{0xff, 0xfb, 0xe6}), dec2, "-10.5"},
		{"date", parquet.Int32Value(19737), columnType{date: true}, "2024-01-15"},
		{"micros", parquet.Int64Value(19737*86_400_000_000 + 1), columnType{unitsADay: 86_400_000_000}, "2024-01-15"},
		{"nanos before epoch", parquet.Int64Value(-1), columnType{unitsADay: 86_400_000_000_000}, "1969-12-31"},
		{"text", parquet.ByteArrayValue([]byte("Cereal")), columnType{}, "Cereal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valueString(tt.val, tt.ct); got != tt.want {
				t.Errorf("valueString = %q, want %q", got, tt.want)
			}
		})
	}
}

// chunkedS3 serves GetObject without a Content-Length and answers
// HeadObject with the real length.
type chunkedS3 struct {
	body  string
	heads int
}

func (c *chunkedS3) Do(req *http.Request) (*http.Response, error) {
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: -1,
		Request:       req,
	}
	switch req.Method {
	case http.MethodHead:
		c.heads++
		resp.Header.Set("Content-Length", strconv.Itoa(len(c.body)))
		resp.ContentLength = int64(len(c.body))
	case http.MethodGet:
		resp.Body = io.NopCloser(strings.NewReader(c.body))
	}
	return resp, nil
}

func TestOpen_S3SizeFallsBackToHead(t *testing.T) {
	fake := &chunkedS3{body: sampleCSV(5)}
	client := s3fetch.NewClientWithConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  fake,
	})

	src, err := Open(context.Background(), Config{Path: "s3://vendas/2024/vendas.csv", ChunkSize: 10, S3: client})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if fake.heads != 1 {
		t.Errorf("HeadObject calls = %d, want 1", fake.heads)
	}
	if src.Size() != int64(len(fake.body)) {
		t.Errorf("Size() = %d, want %d", src.Size(), len(fake.body))
	}
	if _, rows := drain(t, src); len(rows) != 5 {
		t.Errorf("got %d rows, want 5", len(rows))
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path, explicit, want string
	}{
		{"data/vendas.csv", "", "csv"},
		{"data/vendas.csv.gz", "", "csv"},
		{"s3://b/vendas.parquet", "", "parquet"},
		{"data/vendas.txt", "parquet", "parquet"},
	}
	for _, tc := range tests {
		got, err := detectFormat(tc.path, tc.explicit)
		if err != nil || got != tc.want {
			t.Errorf("detectFormat(%q, %q) = %q, %v, want %q", tc.path, tc.explicit, got, err, tc.want)
		}
	}
	if _, err := detectFormat("x.csv", "orc"); err == nil {
		t.Error("expected error for unknown format")
	}
}
