// Package normalize turns raw rows into compact sale records.
//
// Rows that cannot be normalized are rejected with a *RowError; rejection
// is never fatal and never touches the catalog.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/eunmann/vendas-agg/pkg/catalog"
	"github.com/eunmann/vendas-agg/pkg/sales"
	"github.com/eunmann/vendas-agg/pkg/source"
	"github.com/shopspring/decimal"
)

// Reason classifies a rejected row.
type Reason uint8

const (
	BadDate Reason = iota
	BadNumber
	NegativeValue
	NumReasons
)

var reasonNames = [NumReasons]string{"bad_date", "bad_number", "negative_value"}

func (r Reason) String() string {
	if r < NumReasons {
		return reasonNames[r]
	}
	return "unknown"
}

// ErrRejected is matched by every *RowError.
var ErrRejected = errors.New("row rejected")

// RowError describes why a row was rejected.
type RowError struct {
	Line   int
	Field  source.Field
	Reason Reason
	Value  string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s: %s %q", e.Line, e.Reason, e.Field, e.Value)
}

func (e *RowError) Is(target error) bool {
	return target == ErrRejected
}

// Config controls parsing of ambiguous values.
type Config struct {
	// DateOrder interprets slash-separated dates.
	DateOrder DateOrder
}

// Normalizer maps raw rows of one input to records. It interns category
// values into the catalog it was given, which it shares with the
// aggregator for the lifetime of a run.
type Normalizer struct {
	cat   *catalog.Catalog
	cfg   Config
	index [source.NumFields]int
}

// New creates a normalizer for rows laid out as header describes.
func New(cat *catalog.Catalog, header source.Header, cfg Config) *Normalizer {
	n := &Normalizer{cat: cat, cfg: cfg}
	for f := source.Field(0); f < source.NumFields; f++ {
		n.index[f] = header.Index(f)
	}
	return n
}

// Normalize converts one raw row. The returned error, if any, is a
// *RowError.
func (n *Normalizer) Normalize(row source.RawRow) (sales.Record, error) {
	var rec sales.Record

	dateStr := n.field(row, source.FieldDate)
	date, ok := ParseDate(dateStr, n.cfg.DateOrder)
	if !ok {
		return rec, reject(row, source.FieldDate, BadDate, dateStr)
	}

	qtyStr := n.field(row, source.FieldQuantity)
	qty, reason, ok := parseQuantity(qtyStr)
	if !ok {
		return rec, reject(row, source.FieldQuantity, reason, qtyStr)
	}

	priceStr := n.field(row, source.FieldUnitPrice)
	price, err := sales.ParsePrice(priceStr)
	if err != nil {
		reason := BadNumber
		if errors.Is(err, sales.ErrNegative) {
			reason = NegativeValue
		}
		return rec, reject(row, source.FieldUnitPrice, reason, priceStr)
	}

	rec.Date = date
	rec.Month = date.Month()
	rec.Quantity = qty
	rec.UnitPrice = price
	rec.Product = n.cat.Intern(catalog.Product, n.field(row, source.FieldProduct))
	rec.Channel = n.cat.Intern(catalog.Channel, n.field(row, source.FieldChannel))
	rec.Store = n.cat.Intern(catalog.Store, n.field(row, source.FieldStore))
	rec.Country = n.cat.Intern(catalog.Country, n.field(row, source.FieldCountry))
	rec.Region = n.cat.Intern(catalog.Region, n.field(row, source.FieldRegion))
	return rec, nil
}

// Chunk normalizes every row of a chunk, appending accepted records to out
// (which is truncated first) and reporting each rejection to onReject.
func (n *Normalizer) Chunk(chunk *source.Chunk, out []sales.Record, onReject func(*RowError)) []sales.Record {
	out = out[:0]
	for _, row := range chunk.Rows {
		rec, err := n.Normalize(row)
		if err != nil {
			if onReject != nil {
				onReject(err.(*RowError))
			}
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (n *Normalizer) field(row source.RawRow, f source.Field) string {
	idx := n.index[f]
	if idx < 0 || idx >= len(row.Fields) {
		return ""
	}
	return strings.TrimSpace(row.Fields[idx])
}

func reject(row source.RawRow, f source.Field, reason Reason, value string) *RowError {
	return &RowError{Line: row.Line, Field: f, Reason: reason, Value: value}
}

// parseQuantity accepts integers, integer-valued decimals ("3.0", "3,00")
// and thousands-grouped integers ("1.000", "1,000", "12.345.678"). A lone
// separator followed by exactly three digits groups thousands.
func parseQuantity(s string) (uint32, Reason, bool) {
	if s == "" {
		return 0, BadNumber, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		canon, ok := canonicalQuantity(s)
		if !ok {
			return 0, BadNumber, false
		}
		d, derr := decimal.NewFromString(canon)
		if derr != nil || !d.IsInteger() {
			return 0, BadNumber, false
		}
		if d.IsNegative() {
			return 0, NegativeValue, false
		}
		if d.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
			return 0, BadNumber, false
		}
		return uint32(d.IntPart()), 0, true
	}
	if v < 0 {
		return 0, NegativeValue, false
	}
	if v > math.MaxUint32 {
		return 0, BadNumber, false
	}
	return uint32(v), 0, true
}

// canonicalQuantity rewrites s with '.' as the only separator. With both
// '.' and ',' present the right-most one is the decimal separator. It
// reports false when thousands groups are malformed.
func canonicalQuantity(s string) (string, bool) {
	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case dot < 0 && comma < 0:
		return s, true
	case dot >= 0 && comma >= 0:
		dec, group := byte('.'), ","
		if comma > dot {
			dec, group = ',', "."
		}
		i := strings.LastIndexByte(s, dec)
		if strings.IndexByte(s, dec) != i || !thousandsGrouped(s[:i], group) {
			return "", false
		}
		return strings.ReplaceAll(s[:i], group, "") + "." + s[i+1:], true
	}
	sep := ","
	if dot >= 0 {
		sep = "."
	}
	if strings.Count(s, sep) > 1 || len(s)-strings.LastIndex(s, sep)-1 == 3 {
		if !thousandsGrouped(s, sep) {
			return "", false
		}
		return strings.ReplaceAll(s, sep, ""), true
	}
	return strings.Replace(s, sep, ".", 1), true
}

// thousandsGrouped reports whether every sep-delimited group after the first
// has exactly three digits and the first has one to three.
func thousandsGrouped(s, sep string) bool {
	groups := strings.Split(strings.TrimPrefix(s, "-"), sep)
	if len(groups) == 1 {
		return true
	}
	for i, g := range groups {
		if g == "" || len(g) > 3 || (i > 0 && len(g) != 3) {
			return false
		}
	}
	return true
}
