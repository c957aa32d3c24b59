package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/memdiag"
	"github.com/eunmann/vendas-agg/pkg/salesgen"
	"github.com/eunmann/vendas-agg/pkg/source"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vendas.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func run(t *testing.T, path string, chunkSize int) *aggregate.Report {
	t.Helper()
	rep, err := Run(context.Background(), Config{
		Source: source.Config{Path: path, ChunkSize: chunkSize},
	})
	if err != nil {
		t.Fatalf("Run(chunk=%d): %v", chunkSize, err)
	}
	return rep
}

const scenario = "Data,Produto,Quantidade,Preço_Unitário,Loja,Canal,País,Região\n" +
	"2024-01-03,A,2,10.0,L1,X,Brasil,Sul\n" +
	"2024-01-15,A,-5,10.0,L1,X,Brasil,Sul\n" +
	"2024-01-20,A,3,10.0,L1,X,Brasil,Sul\n" +
	"2024-02-30,A,9,10.0,L1,X,Brasil,Sul\n" +
	"2024-02-10,A,1,10.0,L1,X,Brasil,Sul\n"

func TestRun_Scenario(t *testing.T) {
	path := writeCSV(t, scenario)

	for _, size := range []int{1, 2, 100} {
		rep := run(t, path, size)

		if rep.TopProductChannel == nil || rep.TopProductChannel.Quantity != 6 {
			t.Errorf("chunk=%d: A/X quantity = %+v, want 6", size, rep.TopProductChannel)
		}
		avg, ok := rep.ProductAverage("A")
		if !ok || !avg.Equal(decimal.NewFromInt(30)) {
			t.Errorf("chunk=%d: average(A) = %s, want 30", size, avg)
		}
		if rep.Rejected.Total != 2 ||
			rep.Rejected.ByReason["negative_value"] != 1 ||
			rep.Rejected.ByReason["bad_date"] != 1 {
			t.Errorf("chunk=%d: rejected = %+v, want one negative and one bad date", size, rep.Rejected)
		}
		if rep.Totals.Records != 3 {
			t.Errorf("chunk=%d: records = %d, want 3", size, rep.Totals.Records)
		}
	}
}

func TestRun_HeaderOnly(t *testing.T) {
	path := writeCSV(t, "Data,Produto,Quantidade,Preço_Unitário,Loja,Canal,País,Região\n")

	rep := run(t, path, 10)
	if rep.Totals.Records != 0 {
		t.Errorf("Records = %d, want 0", rep.Totals.Records)
	}
	if rep.TopProduct != nil || rep.TopProductChannel != nil || rep.TopCountry != nil {
		t.Errorf("leaders should be nil on empty input: %+v", rep)
	}
	if len(rep.Products) != 0 {
		t.Errorf("Products = %v, want none", rep.Products)
	}
}

func TestRun_NegativeQuantityLeavesAccumulatorsUntouched(t *testing.T) {
	base := "Data,Produto,Quantidade,Preço_Unitário,Loja,Canal,País,Região\n" +
		"2024-01-03,A,2,10.0,L1,X,Brasil,Sul\n"
	withNegative := base + "2024-01-04,B,-5,10.0,L1,Y,Chile,Norte\n"

	clean := run(t, writeCSV(t, base), 1)
	dirty := run(t, writeCSV(t, withNegative), 1)

	if dirty.Rejected.Total != clean.Rejected.Total+1 {
		t.Errorf("rejected = %d, want %d", dirty.Rejected.Total, clean.Rejected.Total+1)
	}
	dirty.Rejected = clean.Rejected
	if dirty.Fingerprint() != clean.Fingerprint() {
		t.Error("a rejected row must not change any aggregate")
	}
	if len(dirty.Products) != 1 {
		t.Errorf("products = %d, rejected product must not appear", len(dirty.Products))
	}
}

func TestRun_ChunkingInvariance(t *testing.T) {
	cfg := salesgen.DefaultConfig(12_000)
	cfg.BadRowRate = 0.02
	path := filepath.Join(t.TempDir(), "vendas.csv")
	st, err := salesgen.WriteFile(path, cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var want uint64
	for i, size := range []int{1, 100, 10_000, cfg.Rows} {
		rep := run(t, path, size)

		if rep.Totals.Records != int64(st.ValidRows) || rep.Totals.Quantity != st.Quantity {
			t.Errorf("chunk=%d: totals = %d rows / %d qty, want %d / %d",
				size, rep.Totals.Records, rep.Totals.Quantity, st.ValidRows, st.Quantity)
		}
		if got := rep.Rejected.ByReason[ReasonMalformedRow]; got != int64(st.ShortRows) {
			t.Errorf("chunk=%d: malformed = %d, want %d", size, got, st.ShortRows)
		}
		if got := rep.Rejected.ByReason["bad_date"]; got != int64(st.BadDate) {
			t.Errorf("chunk=%d: bad_date = %d, want %d", size, got, st.BadDate)
		}
		if got := rep.Rejected.ByReason["bad_number"]; got != int64(st.BadNumber) {
			t.Errorf("chunk=%d: bad_number = %d, want %d", size, got, st.BadNumber)
		}
		if got := rep.Rejected.ByReason["negative_value"]; got != int64(st.Negative) {
			t.Errorf("chunk=%d: negative_value = %d, want %d", size, got, st.Negative)
		}

		fp := rep.Fingerprint()
		if i == 0 {
			want = fp
		} else if fp != want {
			t.Errorf("chunk=%d: fingerprint %x, want %x", size, fp, want)
		}

		wantChunks := (cfg.Rows - st.ShortRows + size - 1) / size
		if rep.Resources.Chunks != wantChunks {
			t.Errorf("chunk=%d: chunks = %d, want %d", size, rep.Resources.Chunks, wantChunks)
		}
	}
}

func TestRun_GzipMatchesPlain(t *testing.T) {
	dir := t.TempDir()
	cfg := salesgen.DefaultConfig(3000)
	plain := filepath.Join(dir, "vendas.csv")
	gz := filepath.Join(dir, "vendas.csv.gz")
	if _, err := salesgen.WriteFile(plain, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := salesgen.WriteFile(gz, cfg); err != nil {
		t.Fatal(err)
	}

	if run(t, plain, 500).Fingerprint() != run(t, gz, 700).Fingerprint() {
		t.Error("compressed input should aggregate identically")
	}
}

func TestRun_EnglishLayout(t *testing.T) {
	cfg := salesgen.DefaultConfig(2000)
	cfg.Layout = salesgen.English
	cfg.BadRowRate = 0
	path := filepath.Join(t.TempDir(), "sales.csv")
	st, err := salesgen.WriteFile(path, cfg)
	if err != nil {
		t.Fatal(err)
	}

	rep := run(t, path, 256)
	if rep.Totals.Records != int64(st.ValidRows) || rep.Rejected.Total != 0 {
		t.Errorf("records = %d rejected = %d, want %d and 0", rep.Totals.Records, rep.Rejected.Total, st.ValidRows)
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), Config{
		Source: source.Config{Path: filepath.Join(t.TempDir(), "missing.csv")},
	})
	if !errors.Is(err, source.ErrIO) {
		t.Errorf("missing input: err = %v, want ErrIO", err)
	}

	_, err = Run(context.Background(), Config{
		Source: source.Config{Path: writeCSV(t, "")},
	})
	if !errors.Is(err, source.ErrFormat) {
		t.Errorf("empty input: err = %v, want ErrFormat", err)
	}

	_, err = Run(context.Background(), Config{
		Source: source.Config{Path: writeCSV(t, "Data,Produto,Quantidade,Preço_Unitário,Loja\n")},
	})
	if !errors.Is(err, source.ErrFormat) {
		t.Errorf("header without channel columns: err = %v, want ErrFormat", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Config{Source: source.Config{Path: writeCSV(t, scenario)}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_Resources(t *testing.T) {
	tracker := memdiag.NewTracker(memdiag.Config{}, zerolog.Nop())
	rep, err := Run(context.Background(), Config{
		Source:  source.Config{Path: writeCSV(t, scenario), ChunkSize: 2},
		Tracker: tracker,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := rep.Resources
	if res.Chunks != 3 || res.ChunkSize != 2 {
		t.Errorf("chunks = %d size = %d, want 3 and 2", res.Chunks, res.ChunkSize)
	}
	if res.PeakHeapBytes == 0 || res.PeakHeapBytes != tracker.PeakHeap() {
		t.Errorf("peak heap = %d, tracker = %d", res.PeakHeapBytes, tracker.PeakHeap())
	}
	if res.Elapsed <= 0 || res.BytesRead != int64(len(scenario)) {
		t.Errorf("elapsed = %v bytes = %d", res.Elapsed, res.BytesRead)
	}
	if tracker.Samples() < 3 {
		t.Errorf("tracker sampled %d times, want one per chunk", tracker.Samples())
	}
}
