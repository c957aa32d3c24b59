package catalog

import (
	"github.com/relab/bbhash"
	"github.com/zeebo/xxh3"
)

// hashName keys the minimal perfect hash. Tests replace it to force
// collisions.
var hashName = xxh3.HashString

// Index is a frozen name lookup built after aggregation ends. It maps each
// name to the slot it had in the slice passed to BuildIndex using a minimal
// perfect hash, so lookups cost one hash and one string compare. When two
// names share a 64-bit hash the index falls back to a map.
type Index struct {
	mph   *bbhash.BBHash2
	names []string // by MPHF position
	slots []int    // MPHF position -> caller slot

	byName map[string]int
}

// BuildIndex builds an Index over names, which must be distinct. It never
// fails: inputs the perfect hash cannot represent get a map instead.
func BuildIndex(names []string) (*Index, error) {
	if len(names) == 0 {
		return &Index{}, nil
	}

	keys := make([]uint64, len(names))
	seen := make(map[uint64]struct{}, len(names))
	for i, n := range names {
		keys[i] = hashName(n)
		if _, dup := seen[keys[i]]; dup {
			return mapIndex(names), nil
		}
		seen[keys[i]] = struct{}{}
	}

	mph, err := bbhash.New(keys, bbhash.Gamma(2.0))
	if err != nil {
		return mapIndex(names), nil
	}

	idx := &Index{
		mph:   mph,
		names: make([]string, len(names)),
		slots: make([]int, len(names)),
	}
	for slot, n := range names {
		// BBHash positions are 1-indexed; 0 means not found.
		pos := mph.Find(keys[slot])
		if pos == 0 || pos > uint64(len(names)) || idx.names[pos-1] != "" {
			return mapIndex(names), nil
		}
		idx.names[pos-1] = n
		idx.slots[pos-1] = slot
	}
	return idx, nil
}

func mapIndex(names []string) *Index {
	m := make(map[string]int, len(names))
	for slot, n := range names {
		m[n] = slot
	}
	return &Index{byName: m}
}

// Lookup returns the caller slot for name.
func (x *Index) Lookup(name string) (int, bool) {
	if x == nil {
		return 0, false
	}
	if x.byName != nil {
		slot, ok := x.byName[name]
		return slot, ok
	}
	if x.mph == nil {
		return 0, false
	}
	pos := x.mph.Find(hashName(name))
	if pos == 0 || pos > uint64(len(x.names)) {
		return 0, false
	}
	// A minimal perfect hash maps unknown keys to arbitrary positions.
	if x.names[pos-1] != name {
		return 0, false
	}
	return x.slots[pos-1], true
}

// Len returns the number of indexed names.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	if x.byName != nil {
		return len(x.byName)
	}
	return len(x.names)
}
