// Package sales holds the normalized sale record and its compact scalar
// types: day and month ordinals, fixed-point prices and exact revenue sums.
package sales

import (
	"fmt"
	"time"

	"github.com/eunmann/vendas-agg/pkg/catalog"
)

// Date is a calendar day counted from 1970-01-01 (the Parquet DATE encoding).
type Date int32

// DateOf returns the Date for the given civil day.
func DateOf(year int, month time.Month, day int) Date {
	return Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

// Month returns the year-month containing d.
func (d Date) Month() Month {
	t := d.Time()
	return MonthOf(t.Year(), t.Month())
}

func (d Date) String() string {
	return d.Time().Format(time.DateOnly)
}

// Month is a year-month ordinal: year*12 + (month-1).
// Consecutive calendar months have consecutive values.
type Month int32

// MonthOf returns the ordinal of the given year and month.
func MonthOf(year int, month time.Month) Month {
	return Month(year*12 + int(month) - 1)
}

// Year returns the calendar year.
func (m Month) Year() int {
	return int(m) / 12
}

// Num returns the calendar month.
func (m Month) Num() time.Month {
	return time.Month(int(m)%12 + 1)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year(), int(m.Num()))
}

// MarshalText renders the month as "2006-01".
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Record is one normalized sale. Category fields are codes into the run's
// catalog; Month is derived from Date at normalization time.
type Record struct {
	Date      Date
	Month     Month
	Product   catalog.Code
	Channel   catalog.Code
	Store     catalog.Code
	Country   catalog.Code
	Region    catalog.Code
	Quantity  uint32
	UnitPrice Price
}
