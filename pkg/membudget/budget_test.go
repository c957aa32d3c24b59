package membudget

import (
	"testing"
)

func TestNewFromSystemRAM(t *testing.T) {
	budget := NewFromSystemRAM()

	if budget.Total() == 0 {
		t.Fatal("Total() = 0")
	}
	if budget.Source() != BudgetSourceAuto50Pct && budget.Source() != BudgetSourceDefault {
		t.Errorf("Source = %s, want auto-50pct or default", budget.Source())
	}
}

func TestResolve(t *testing.T) {
	b, err := Resolve("4GiB")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Total() != 4<<30 {
		t.Errorf("Total() = %d, want %d", b.Total(), uint64(4<<30))
	}
	if b.Source() != BudgetSourceConfig {
		t.Errorf("Source() = %s, want %s", b.Source(), BudgetSourceConfig)
	}

	b, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve empty: %v", err)
	}
	if b.Source() == BudgetSourceConfig {
		t.Error("empty budget should be auto-detected")
	}

	if _, err := Resolve("bogus"); err == nil {
		t.Error("expected error for invalid budget")
	}
	if _, err := Resolve("0"); err == nil {
		t.Error("expected error for zero budget")
	}
}

func TestChunkRows(t *testing.T) {
	tests := []struct {
		name     string
		total    uint64
		rowBytes int
		want     int
	}{
		{"clamped low", 1 << 20, 320, MinChunkRows},
		{"clamped high", 64 << 30, 320, MaxChunkRows},
		{"in range", 128 << 20, 128, 262144},
		{"default row size", 128 << 20, 0, 104857},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.total, BudgetSourceConfig).ChunkRows(tt.rowBytes)
			if got != tt.want {
				t.Errorf("ChunkRows(%d) = %d, want %d", tt.rowBytes, got, tt.want)
			}
		})
	}
}

func TestParseHumanSize(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"100B", 100, false},
		{"1KB", 1000, false},
		{"1KiB", 1024, false},
		{"1K", 1024, false},
		{"1MB", 1000000, false},
		{"1MiB", 1024 * 1024, false},
		{"1GiB", 1024 * 1024 * 1024, false},
		{"0.5GiB", 512 * 1024 * 1024, false},
		{"", 0, true},
		{"XYZ", 0, true},
		{"100XB", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseHumanSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHumanSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHumanSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
