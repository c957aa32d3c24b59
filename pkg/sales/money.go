package sales

import (
	"errors"
	"math"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places kept by Price.
const PriceScale = 4

const priceUnit = 10_000

var (
	// ErrSyntax is returned for values that are not numbers.
	ErrSyntax = errors.New("invalid number")
	// ErrRange is returned for numbers outside the representable range.
	ErrRange = errors.New("number out of range")
	// ErrNegative is returned for numbers below zero.
	ErrNegative = errors.New("negative value")
)

var maxPrice = decimal.New(math.MaxInt64, -PriceScale)

// Price is a non-negative unit price in ten-thousandths.
type Price int64

// PriceFromDecimal converts d, rounding half-even to four places.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	d = d.RoundBank(PriceScale)
	if d.GreaterThan(maxPrice) {
		return 0, ErrRange
	}
	return Price(d.Shift(PriceScale).IntPart()), nil
}

// ParsePrice parses a decimal price. Both "12.50" and "12,50" are accepted,
// as are thousands separators in either convention ("1.234,50", "1,234.50").
// More than four fractional digits are rounded half-even.
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrSyntax
	}
	if p, ok := parsePriceFast(s); ok {
		return p, nil
	}

	d, err := decimal.NewFromString(canonicalDecimal(s))
	if err != nil {
		return 0, ErrSyntax
	}
	return PriceFromDecimal(d)
}

// parsePriceFast handles the common "123" / "123.45" shape without
// allocating.
func parsePriceFast(s string) (Price, bool) {
	var units uint64
	frac := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			if frac >= 0 {
				if frac == PriceScale {
					return 0, false
				}
				frac++
			}
			if units > (math.MaxInt64-9)/10 {
				return 0, false
			}
			units = units*10 + uint64(c-'0')
		case (c == '.' || c == ',') && frac < 0 && i > 0 && i < len(s)-1:
			frac = 0
		default:
			return 0, false
		}
	}
	if frac < 0 {
		frac = 0
	}
	for ; frac < PriceScale; frac++ {
		if units > math.MaxInt64/10 {
			return 0, false
		}
		units *= 10
	}
	return Price(units), true
}

// canonicalDecimal rewrites separators so decimal.NewFromString can parse
// the value. The right-most of '.' and ',' is the decimal separator.
func canonicalDecimal(s string) string {
	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case comma < 0:
		return s
	case dot < 0 && strings.Count(s, ",") == 1:
		return strings.Replace(s, ",", ".", 1)
	case comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}

// Decimal returns p as a decimal value.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceScale)
}

func (p Price) String() string {
	return p.Decimal().StringFixed(2)
}

// Sum is an exact non-negative revenue accumulator in ten-thousandths.
// Totals that fit in an int64 stay in lo; anything larger spills into a
// decimal so long runs never wrap. The zero value is an empty sum.
type Sum struct {
	lo int64
	hi decimal.Decimal
}

// Add adds quantity × price.
func (s *Sum) Add(q uint32, p Price) {
	hiBits, loBits := bits.Mul64(uint64(q), uint64(p))
	if hiBits == 0 && loBits <= math.MaxInt64 {
		v := int64(loBits)
		if v <= math.MaxInt64-s.lo {
			s.lo += v
			return
		}
		s.spill(decimal.New(v, -PriceScale))
		return
	}
	s.spill(decimal.NewFromInt(int64(q)).Mul(p.Decimal()))
}

// AddSum adds another accumulator.
func (s *Sum) AddSum(o Sum) {
	if o.lo <= math.MaxInt64-s.lo {
		s.lo += o.lo
	} else {
		s.spill(decimal.New(o.lo, -PriceScale))
	}
	if !o.hi.IsZero() {
		s.hi = s.hi.Add(o.hi)
	}
}

func (s *Sum) spill(v decimal.Decimal) {
	s.hi = s.hi.Add(decimal.New(s.lo, -PriceScale)).Add(v)
	s.lo = 0
}

// Decimal returns the exact total.
func (s Sum) Decimal() decimal.Decimal {
	d := decimal.New(s.lo, -PriceScale)
	if s.hi.IsZero() {
		return d
	}
	return d.Add(s.hi)
}

// IsZero reports whether nothing has been added.
func (s Sum) IsZero() bool {
	return s.lo == 0 && s.hi.IsZero()
}

// Cmp compares two sums.
func (s Sum) Cmp(o Sum) int {
	if s.hi.IsZero() && o.hi.IsZero() {
		switch {
		case s.lo < o.lo:
			return -1
		case s.lo > o.lo:
			return 1
		}
		return 0
	}
	return s.Decimal().Cmp(o.Decimal())
}

func (s Sum) String() string {
	return s.Decimal().StringFixed(2)
}
