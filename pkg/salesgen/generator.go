// Package salesgen generates synthetic sales CSVs for benchmarks and tests.
package salesgen

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/vendas-agg/pkg/fileutil"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Layout selects the header and date style of the generated file.
type Layout uint8

const (
	// Portuguese writes Data,Produto,...,Região with ISO dates.
	Portuguese Layout = iota
	// English writes the export headers (Order Date, Item Type, ...) with
	// M/D/YYYY dates.
	English
)

// Config configures synthetic data generation.
type Config struct {
	// Rows is the number of data rows, including injected bad rows.
	Rows int
	// Products is the number of distinct products.
	Products int
	// Stores is the number of distinct stores.
	Stores int
	// StartMonth and Months bound the generated dates.
	StartMonth time.Time
	Months     int
	// BadRowRate is the probability (0-1) that a row is corrupted.
	BadRowRate float64
	Layout     Layout
	// Seed for reproducible generation. 0 = use default seed.
	Seed int64
}

// DefaultConfig returns a realistic configuration with a 1% bad-row rate.
func DefaultConfig(rows int) Config {
	return Config{
		Rows:       rows,
		Products:   12,
		Stores:     40,
		StartMonth: time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		Months:     24,
		BadRowRate: 0.01,
		Seed:       DefaultSeed,
	}
}

// DefaultSeed makes generated data reproducible when no seed is given.
const DefaultSeed = 42

var (
	products  = []string{"Baby Food", "Beverages", "Cereal", "Clothes", "Cosmetics", "Fruits", "Household", "Meat", "Office Supplies", "Personal Care", "Snacks", "Vegetables"}
	channels  = []string{"Offline", "Online"}
	geography = []struct{ country, region string }{
		{"Brasil", "Sudeste"}, {"Brasil", "Sul"}, {"Brasil", "Nordeste"}, {"Brasil", "Norte"},
		{"Argentina", "Pampa"}, {"Chile", "Metropolitana"}, {"Portugal", "Norte"}, {"Portugal", "Lisboa"},
	}
)

// Stats describes what was generated. The bad-row counts let tests check
// rejection totals exactly.
type Stats struct {
	Rows       int
	ValidRows  int
	Quantity   uint64
	BadDate    int
	BadNumber  int
	Negative   int
	ShortRows  int
	FirstMonth time.Time
	LastMonth  time.Time
}

// Generator generates synthetic sales rows.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

// NewGenerator creates a new data generator.
func NewGenerator(cfg Config) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	if cfg.Products <= 0 || cfg.Products > len(products) {
		cfg.Products = len(products)
	}
	if cfg.Stores <= 0 {
		cfg.Stores = 1
	}
	if cfg.Months <= 0 {
		cfg.Months = 1
	}
	if cfg.StartMonth.IsZero() {
		cfg.StartMonth = DefaultConfig(0).StartMonth
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Header returns the header row for the configured layout.
func (g *Generator) Header() []string {
	if g.cfg.Layout == English {
		return []string{"Region", "Country", "Item Type", "Sales Channel", "Order Date", "Units Sold", "Unit Price", "Store"}
	}
	return []string{"Data", "Produto", "Quantidade", "Preço_Unitário", "Loja", "Canal", "País", "Região"}
}

// WriteCSV writes the header and all rows to w.
func (g *Generator) WriteCSV(w io.Writer) (Stats, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(g.Header()); err != nil {
		return Stats{}, fmt.Errorf("write header: %w", err)
	}

	var st Stats
	rec := make([]string, 8)
	for i := 0; i < g.cfg.Rows; i++ {
		row := g.row(rec, &st)
		if err := cw.Write(row); err != nil {
			return st, fmt.Errorf("write row %d: %w", i+1, err)
		}
		st.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return st, fmt.Errorf("flush csv: %w", err)
	}
	return st, nil
}

type sale struct {
	date                    time.Time
	product, store, channel string
	country, region         string
	qty, priceCents         int
	badDate, badQty, negQty bool
}

func (g *Generator) row(rec []string, st *Stats) []string {
	s := sale{
		date:       g.cfg.StartMonth.AddDate(0, g.rng.Intn(g.cfg.Months), g.rng.Intn(28)),
		product:    products[g.rng.Intn(g.cfg.Products)],
		store:      "Loja " + strconv.Itoa(1+g.rng.Intn(g.cfg.Stores)),
		channel:    channels[g.rng.Intn(len(channels))],
		qty:        1 + g.rng.Intn(100),
		priceCents: 100 + g.rng.Intn(60_000),
	}
	geo := geography[g.rng.Intn(len(geography))]
	s.country, s.region = geo.country, geo.region

	short := false
	if g.cfg.BadRowRate > 0 && g.rng.Float64() < g.cfg.BadRowRate {
		switch g.rng.Intn(4) {
		case 0:
			s.badDate = true
			st.BadDate++
		case 1:
			s.badQty = true
			st.BadNumber++
		case 2:
			s.negQty = true
			st.Negative++
		default:
			short = true
			st.ShortRows++
		}
	}

	if !s.badDate && !s.badQty && !s.negQty && !short {
		st.ValidRows++
		st.Quantity += uint64(s.qty)
		month := time.Date(s.date.Year(), s.date.Month(), 1, 0, 0, 0, 0, time.UTC)
		if st.FirstMonth.IsZero() || month.Before(st.FirstMonth) {
			st.FirstMonth = month
		}
		if month.After(st.LastMonth) {
			st.LastMonth = month
		}
	}

	row := g.format(rec, s)
	if short {
		return row[:len(row)-3]
	}
	return row
}

func (g *Generator) format(rec []string, s sale) []string {
	date := s.date.Format(time.DateOnly)
	if g.cfg.Layout == English {
		date = s.date.Format("1/2/2006")
	}
	if s.badDate {
		date = "2024-13-45"
	}
	qty := strconv.Itoa(s.qty)
	switch {
	case s.badQty:
		qty = "n/a"
	case s.negQty:
		qty = "-" + qty
	}
	price := fmt.Sprintf("%d.%02d", s.priceCents/100, s.priceCents%100)

	if g.cfg.Layout == English {
		rec[0], rec[1], rec[2], rec[3] = s.region, s.country, s.product, s.channel
		rec[4], rec[5], rec[6], rec[7] = date, qty, price, s.store
		return rec
	}
	price = strings.Replace(price, ".", ",", 1)
	rec[0], rec[1], rec[2], rec[3] = date, s.product, qty, price
	rec[4], rec[5], rec[6], rec[7] = s.store, s.channel, s.country, s.region
	return rec
}

// WriteFile generates a dataset at path, compressing it when the name ends
// in .gz or .zst. The file appears atomically.
func WriteFile(path string, cfg Config) (Stats, error) {
	var st Stats
	err := fileutil.WriteTmpThenMove(path, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmpPath, err)
		}
		defer f.Close()

		bw := bufio.NewWriterSize(f, 256*1024)
		var w io.Writer = bw
		var closer io.Closer
		switch {
		case strings.HasSuffix(path, ".gz"):
			zw := gzip.NewWriter(bw)
			w, closer = zw, zw
		case strings.HasSuffix(path, ".zst"):
			zw, err := zstd.NewWriter(bw)
			if err != nil {
				return fmt.Errorf("create zstd writer: %w", err)
			}
			w, closer = zw, zw
		}

		st, err = NewGenerator(cfg).WriteCSV(w)
		if err != nil {
			return err
		}
		if closer != nil {
			if err := closer.Close(); err != nil {
				return fmt.Errorf("close compressor: %w", err)
			}
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush %s: %w", tmpPath, err)
		}
		return f.Close()
	})
	return st, err
}
