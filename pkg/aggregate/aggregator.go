// Package aggregate folds sale records into running totals keyed by
// category codes and derives the final report.
//
// Memory is proportional to the number of distinct keys: (product,
// channel), (country, region) and (product, month). Nothing is retained
// per record.
package aggregate

import (
	"github.com/eunmann/vendas-agg/pkg/catalog"
	"github.com/eunmann/vendas-agg/pkg/sales"
)

// pairKey packs two category codes into one map key.
type pairKey uint64

func pair(a, b catalog.Code) pairKey {
	return pairKey(uint64(a)<<32 | uint64(b))
}

func (k pairKey) split() (catalog.Code, catalog.Code) {
	return catalog.Code(k >> 32), catalog.Code(uint32(k))
}

// productMonth packs a product code and a month ordinal.
type productMonth uint64

func productMonthKey(p catalog.Code, m sales.Month) productMonth {
	return productMonth(uint64(p)<<32 | uint64(uint32(m)))
}

func (k productMonth) split() (catalog.Code, sales.Month) {
	return catalog.Code(k >> 32), sales.Month(int32(uint32(k)))
}

// Aggregator owns the accumulators of one run. It is not safe for
// concurrent use.
type Aggregator struct {
	cat    *catalog.Catalog
	policy AveragePolicy
	state  State

	quantityByProductChannel map[pairKey]uint64
	valueByCountryRegion     map[pairKey]sales.Sum
	monthlyValueByProduct    map[productMonth]sales.Sum
	monthsByProduct          []uint32 // indexed by product code

	records    int64
	firstMonth sales.Month
	lastMonth  sales.Month
}

// New creates an aggregator resolving codes through cat.
func New(cat *catalog.Catalog, policy AveragePolicy) *Aggregator {
	return &Aggregator{
		cat:                      cat,
		policy:                   policy,
		quantityByProductChannel: make(map[pairKey]uint64),
		valueByCountryRegion:     make(map[pairKey]sales.Sum),
		monthlyValueByProduct:    make(map[productMonth]sales.Sum),
	}
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return a.state
}

// Fold adds a batch of records to the running totals.
func (a *Aggregator) Fold(records []sales.Record) error {
	if a.state == Finalized {
		return &StateError{Op: "fold", State: a.state}
	}
	a.state = Streaming

	for i := range records {
		r := &records[i]

		a.quantityByProductChannel[pair(r.Product, r.Channel)] += uint64(r.Quantity)

		cr := pair(r.Country, r.Region)
		v := a.valueByCountryRegion[cr]
		v.Add(r.Quantity, r.UnitPrice)
		a.valueByCountryRegion[cr] = v

		pm := productMonthKey(r.Product, r.Month)
		m, seen := a.monthlyValueByProduct[pm]
		if !seen {
			a.countMonth(r.Product)
		}
		m.Add(r.Quantity, r.UnitPrice)
		a.monthlyValueByProduct[pm] = m

		if a.records == 0 || r.Month < a.firstMonth {
			a.firstMonth = r.Month
		}
		if a.records == 0 || r.Month > a.lastMonth {
			a.lastMonth = r.Month
		}
		a.records++
	}
	return nil
}

func (a *Aggregator) countMonth(p catalog.Code) {
	for int(p) >= len(a.monthsByProduct) {
		a.monthsByProduct = append(a.monthsByProduct, 0)
	}
	a.monthsByProduct[p]++
}

// Records returns the number of records folded so far.
func (a *Aggregator) Records() int64 {
	return a.records
}

// Keys returns the number of distinct accumulator entries.
func (a *Aggregator) Keys() int {
	return len(a.quantityByProductChannel) + len(a.valueByCountryRegion) + len(a.monthlyValueByProduct)
}

// MemoryEstimate approximates the bytes held by the accumulators.
func (a *Aggregator) MemoryEstimate() int64 {
	const (
		qtyEntry = 8 + 8 + 16
		sumEntry = 8 + 48 + 16
	)
	return int64(len(a.quantityByProductChannel))*qtyEntry +
		int64(len(a.valueByCountryRegion)+len(a.monthlyValueByProduct))*sumEntry +
		int64(len(a.monthsByProduct))*4
}

// Start opens the stream. Fold does the same, so Start only matters for
// inputs that deliver no chunk at all.
func (a *Aggregator) Start() error {
	if a.state == Finalized {
		return &StateError{Op: "start", State: a.state}
	}
	a.state = Streaming
	return nil
}

// Finalize closes the stream and computes the report. It succeeds once,
// and only after Start or Fold.
func (a *Aggregator) Finalize() (*Report, error) {
	if a.state != Streaming {
		return nil, &StateError{Op: "finalize", State: a.state}
	}
	a.state = Finalized
	return a.buildReport()
}
