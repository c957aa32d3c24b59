package source

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field identifies a logical input column.
type Field uint8

const (
	FieldDate Field = iota
	FieldProduct
	FieldQuantity
	FieldUnitPrice
	FieldStore
	FieldChannel
	FieldCountry
	FieldRegion
	NumFields
)

var fieldNames = [NumFields]string{
	"data", "produto", "quantidade", "preco_unitario",
	"loja", "canal", "pais", "regiao",
}

func (f Field) String() string {
	if f < NumFields {
		return fieldNames[f]
	}
	return "unknown"
}

// aliases lists the folded header names accepted for each field: the
// Portuguese names first, then the English export headers.
var aliases = [NumFields][]string{
	FieldDate:      {"data", "data_venda", "order_date", "date"},
	FieldProduct:   {"produto", "item_type", "product"},
	FieldQuantity:  {"quantidade", "qtd", "units_sold", "quantity"},
	FieldUnitPrice: {"preco_unitario", "preco", "unit_price"},
	FieldStore:     {"loja", "store"},
	FieldChannel:   {"canal", "sales_channel", "channel"},
	FieldCountry:   {"pais", "country"},
	FieldRegion:    {"regiao", "region"},
}

// ColumnMap maps a field to an explicit header name, overriding aliases.
// Channel, country and region may be pointed at any column (for example
// the store column) but are never guessed.
type ColumnMap map[Field]string

// Header is the resolved column layout of an input.
type Header struct {
	Names []string
	index [NumFields]int
}

// Index returns the column of f, or -1 when the input lacks it.
func (h Header) Index(f Field) int {
	return h.index[f]
}

// Width returns the number of columns every data row must have.
func (h Header) Width() int {
	return len(h.Names)
}

// FoldName normalizes a header cell: trimmed, lower-cased, accents
// removed, runs of spaces and hyphens replaced by '_'.
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		folded = strings.TrimSpace(s)
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// ResolveHeader maps header cells to fields. The returned error message
// names every missing column.
func ResolveHeader(names []string, cols ColumnMap) (Header, error) {
	h := Header{Names: make([]string, len(names))}
	folded := make(map[string]int, len(names))
	for i, n := range names {
		h.Names[i] = strings.Clone(n)
		f := FoldName(n)
		if _, dup := folded[f]; !dup {
			folded[f] = i
		}
	}

	var missing []string
	for f := Field(0); f < NumFields; f++ {
		h.index[f] = -1
		if name, ok := cols[f]; ok && name != "" {
			idx, found := folded[FoldName(name)]
			if !found {
				missing = append(missing, fmt.Sprintf("%s (mapped to %q)", f, name))
				continue
			}
			h.index[f] = idx
			continue
		}
		for _, alias := range aliases[f] {
			if idx, found := folded[alias]; found {
				h.index[f] = idx
				break
			}
		}
		if h.index[f] < 0 && f != FieldStore {
			missing = append(missing, f.String())
		}
	}

	if len(missing) > 0 {
		return h, fmt.Errorf("header missing required columns: %s", strings.Join(missing, ", "))
	}
	return h, nil
}

// ParseField parses a field name as used in configuration.
func ParseField(s string) (Field, error) {
	folded := FoldName(s)
	for f := Field(0); f < NumFields; f++ {
		for _, alias := range aliases[f] {
			if alias == folded {
				return f, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown column %q", s)
}
