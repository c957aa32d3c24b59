// Package catalog interns repeated category values (product, channel,
// store, country, region) as small integer codes.
//
// A Catalog is owned by one pipeline run and passed explicitly to the
// normalizer and the aggregator. Its size is bounded by the number of
// distinct category values in the input, never by the row count.
package catalog

import (
	"strings"
)

// Code is the small-integer surrogate for a category value.
type Code uint32

// Kind names one category column.
type Kind uint8

const (
	Product Kind = iota
	Channel
	Store
	Country
	Region
	NumKinds
)

var kindNames = [NumKinds]string{"product", "channel", "store", "country", "region"}

func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return "unknown"
}

// Dictionary is an append-only string to Code mapping.
// It is not safe for concurrent use.
type Dictionary struct {
	codes map[string]Code
	names []string
	bytes int64
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]Code)}
}

// Intern returns the code for s, assigning the next code on first sight.
// The stored name is cloned so callers may pass strings backed by reused
// read buffers.
func (d *Dictionary) Intern(s string) Code {
	if c, ok := d.codes[s]; ok {
		return c
	}
	name := strings.Clone(s)
	c := Code(len(d.names))
	d.codes[name] = c
	d.names = append(d.names, name)
	d.bytes += int64(len(name))
	return c
}

// Lookup returns the code for s without interning it.
func (d *Dictionary) Lookup(s string) (Code, bool) {
	c, ok := d.codes[s]
	return c, ok
}

// Name returns the value for c. It panics if c was not issued by d.
func (d *Dictionary) Name(c Code) string {
	return d.names[c]
}

// Len returns the number of distinct values.
func (d *Dictionary) Len() int {
	return len(d.names)
}

// Names returns the values in code order. The slice must not be modified.
func (d *Dictionary) Names() []string {
	return d.names
}

// MemoryEstimate approximates the bytes held by the dictionary: string
// data, one map entry and one slice slot per value.
func (d *Dictionary) MemoryEstimate() int64 {
	const perEntry = 16 + 4 + 48 + 16
	return d.bytes + int64(len(d.names))*perEntry
}

// Catalog groups one dictionary per category kind.
type Catalog struct {
	dicts [NumKinds]*Dictionary
}

// New creates an empty catalog.
func New() *Catalog {
	c := &Catalog{}
	for i := range c.dicts {
		c.dicts[i] = NewDictionary()
	}
	return c
}

// Intern interns s in the dictionary for kind k.
func (c *Catalog) Intern(k Kind, s string) Code {
	return c.dicts[k].Intern(s)
}

// Name returns the value of code in the dictionary for kind k.
func (c *Catalog) Name(k Kind, code Code) string {
	return c.dicts[k].Name(code)
}

// Dict returns the dictionary for kind k.
func (c *Catalog) Dict(k Kind) *Dictionary {
	return c.dicts[k]
}

// MemoryEstimate sums the estimates of all dictionaries.
func (c *Catalog) MemoryEstimate() int64 {
	var total int64
	for _, d := range c.dicts {
		total += d.MemoryEstimate()
	}
	return total
}
