package humanfmt

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{1048576, "1.00 MiB"},
		{1610612736, "1.50 GiB"},
		{1099511627776, "1.00 TiB"},
		{-100, "-100 B"},
	}

	for _, tt := range tests {
		if got := Bytes(tt.input); got != tt.want {
			t.Errorf("Bytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0ns"},
		{500 * time.Nanosecond, "500ns"},
		{500 * time.Microsecond, "500.0µs"},
		{1 * time.Millisecond, "1.0ms"},
		{1230 * time.Millisecond, "1.23s"},
		{60 * time.Second, "1m"},
		{90 * time.Second, "1m30s"},
		{3600 * time.Second, "1h"},
		{8100 * time.Second, "2h15m"},
	}

	for _, tt := range tests {
		if got := Duration(tt.input); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.00K"},
		{1_500_000, "1.50M"},
		{2_000_000_000, "2.00B"},
		{-5, "-5"},
	}

	for _, tt := range tests {
		if got := Count(tt.input); got != tt.want {
			t.Errorf("Count(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRate(t *testing.T) {
	if got := Rate(2_000_000, 2*time.Second); got != "1.00M rows/s" {
		t.Errorf("Rate = %q, want 1.00M rows/s", got)
	}
	if got := Rate(10, 0); got != "∞" {
		t.Errorf("Rate with zero duration = %q, want ∞", got)
	}
}

func TestGrouped(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		if got := Grouped(tt.input); got != tt.want {
			t.Errorf("Grouped(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0.00"},
		{"12.5", "12.50"},
		{"1234567.891", "1,234,567.89"},
		{"-1000", "-1,000.00"},
		{"999.999", "1,000.00"},
	}

	for _, tt := range tests {
		got := Money(decimal.RequireFromString(tt.input))
		if got != tt.want {
			t.Errorf("Money(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
