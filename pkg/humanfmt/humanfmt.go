// Package humanfmt provides human-readable formatting for bytes, durations,
// row counts and money amounts.
package humanfmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Binary (IEC) units for bytes.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

var byteUnits = []struct {
	size int64
	name string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// Bytes formats a byte count using IEC binary units, e.g. "1.23 GiB".
func Bytes(b int64) string {
	for _, u := range byteUnits {
		if b >= u.size {
			return fmt.Sprintf("%.2f %s", float64(b)/float64(u.size), u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// BytesUint64 is like Bytes but for uint64.
func BytesUint64(b uint64) string {
	return Bytes(int64(b))
}

// Duration formats a duration compactly: "1.23s", "45.6ms", "1m30s", "2h15m".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d >= time.Hour:
		h, m := d/time.Hour, (d%time.Hour)/time.Minute
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	case d >= time.Minute:
		m, s := d/time.Minute, (d%time.Minute)/time.Second
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

// Rate formats a per-second rate of rows, e.g. "1.20M rows/s".
func Rate(n int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	return Count(int64(float64(n)/d.Seconds())) + " rows/s"
}

// Count formats a count with a metric suffix: "1.23M", "456.00K", "789".
func Count(n int64) string {
	switch {
	case n < 0:
		return strconv.FormatInt(n, 10)
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.2fK", float64(n)/1e3)
	default:
		return strconv.FormatInt(n, 10)
	}
}

// Grouped formats an integer with comma thousands separators: "1,234,567".
func Grouped(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	out := groupDigits(s)
	if neg {
		return "-" + out
	}
	return out
}

// Money formats an amount with two decimals and thousands separators,
// e.g. "1,234,567.89".
func Money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	out := groupDigits(intPart) + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

func groupDigits(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
