package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/eunmann/vendas-agg/pkg/sales"
)

// DateOrder selects how slash-separated dates are read.
type DateOrder uint8

const (
	// MDY reads 1/2/2006 as January 2nd.
	MDY DateOrder = iota
	// DMY reads 02/01/2006 as January 2nd.
	DMY
)

// ParseDateOrder parses "mdy" or "dmy". Empty means MDY.
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mdy":
		return MDY, nil
	case "dmy":
		return DMY, nil
	}
	return MDY, fmt.Errorf("unknown date order %q (want mdy or dmy)", s)
}

func (o DateOrder) String() string {
	if o == DMY {
		return "dmy"
	}
	return "mdy"
}

// ParseDate parses an ISO date ("2006-01-02"), an ISO or RFC 3339
// date-time (only the date as written is kept), or a slash date read in
// the given order. A trailing time after a space is ignored.
func ParseDate(s string, order DateOrder) (sales.Date, bool) {
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		if len(s) > 10 && s[10] != 'T' && s[10] != ' ' {
			return 0, false
		}
		y, ok1 := atoi(s[0:4])
		m, ok2 := atoi(s[5:7])
		d, ok3 := atoi(s[8:10])
		if !ok1 || !ok2 || !ok3 {
			return 0, false
		}
		return civil(y, m, d)
	}

	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	a, rest, ok := strings.Cut(s, "/")
	if !ok {
		return 0, false
	}
	b, c, ok := strings.Cut(rest, "/")
	if !ok || len(c) != 4 {
		return 0, false
	}
	x, ok1 := atoi(a)
	z, ok2 := atoi(b)
	y, ok3 := atoi(c)
	if !ok1 || !ok2 || !ok3 || len(a) > 2 || len(b) > 2 {
		return 0, false
	}
	if order == DMY {
		return civil(y, z, x)
	}
	return civil(y, x, z)
}

func civil(y, m, d int) (sales.Date, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return 0, false // 2023-02-30 and friends
	}
	return sales.DateOf(y, time.Month(m), d), true
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
