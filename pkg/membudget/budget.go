// Package membudget turns a memory budget into pipeline sizing decisions.
//
// The aggregation pipeline holds one chunk of raw rows plus the accumulators
// at any time, so the budget mostly decides how many rows a chunk may hold.
package membudget

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/eunmann/vendas-agg/pkg/sysmem"
)

// DefaultBudgetBytes is the fallback memory budget when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 2 * 1024 * 1024 * 1024

// BudgetSource indicates how the memory budget was determined.
type BudgetSource string

const (
	// BudgetSourceAuto50Pct indicates the budget was set to 50% of detected RAM.
	BudgetSourceAuto50Pct BudgetSource = "auto-50pct"
	// BudgetSourceDefault indicates the budget used the fallback default.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceConfig indicates the budget came from flags, env or the config file.
	BudgetSourceConfig BudgetSource = "config"
)

// Chunk sizing bounds and the share of the budget one chunk may use.
const (
	FractionChunk = 0.25

	// EstimatedRowBytes approximates one buffered CSV row: the record
	// string, a []string header of eight fields, and slice overhead.
	EstimatedRowBytes = 320

	MinChunkRows = 1_000
	MaxChunkRows = 1_000_000
)

// Budget is an immutable memory budget.
type Budget struct {
	total  uint64
	source BudgetSource
}

// New creates a Budget of total bytes.
func New(total uint64, source BudgetSource) *Budget {
	return &Budget{total: total, source: source}
}

// NewFromSystemRAM creates a Budget set to 50% of system RAM, or
// DefaultBudgetBytes if RAM cannot be detected.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	if !result.Reliable {
		return New(DefaultBudgetBytes, BudgetSourceDefault)
	}
	return New(result.TotalBytes/2, BudgetSourceAuto50Pct)
}

// Resolve parses a configured budget string, or falls back to system RAM
// detection when it is empty.
func Resolve(configured string) (*Budget, error) {
	if configured == "" {
		return NewFromSystemRAM(), nil
	}
	n, err := ParseHumanSize(configured)
	if err != nil {
		return nil, fmt.Errorf("parse memory budget %q: %w", configured, err)
	}
	if n == 0 {
		return nil, errors.New("memory budget must be positive")
	}
	return New(n, BudgetSourceConfig), nil
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource {
	return b.source
}

// ChunkBytes returns the bytes one chunk of raw rows may occupy.
func (b *Budget) ChunkBytes() uint64 {
	return uint64(float64(b.total) * FractionChunk)
}

// ChunkRows returns the number of rows per chunk that fits ChunkBytes,
// clamped to [MinChunkRows, MaxChunkRows].
func (b *Budget) ChunkRows(rowBytes int) int {
	if rowBytes <= 0 {
		rowBytes = EstimatedRowBytes
	}
	rows := b.ChunkBytes() / uint64(rowBytes)
	switch {
	case rows < MinChunkRows:
		return MinChunkRows
	case rows > MaxChunkRows:
		return MaxChunkRows
	default:
		return int(rows)
	}
}

// ParseHumanSize parses a human-readable size string (e.g., "4GiB", "512MB").
// Supported suffixes: B, KB, KiB, K, MB, MiB, M, GB, GiB, G, TB, TiB, T.
func ParseHumanSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size string")
	}

	numEnd := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numEnd = i
			break
		}
	}

	num, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", s[:numEnd])
	}

	multiplier, ok := sizeSuffixes[s[numEnd:]]
	if !ok {
		return 0, fmt.Errorf("unknown size suffix: %q", s[numEnd:])
	}
	return uint64(num * multiplier), nil
}

var sizeSuffixes = map[string]float64{
	"":    1,
	"B":   1,
	"KB":  1e3,
	"KiB": 1 << 10,
	"K":   1 << 10,
	"MB":  1e6,
	"MiB": 1 << 20,
	"M":   1 << 20,
	"GB":  1e9,
	"GiB": 1 << 30,
	"G":   1 << 30,
	"TB":  1e12,
	"TiB": 1 << 40,
	"T":   1 << 40,
}
