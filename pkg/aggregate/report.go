package aggregate

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/eunmann/vendas-agg/pkg/catalog"
	"github.com/eunmann/vendas-agg/pkg/sales"
	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
)

// averageScale is the number of decimal places kept in monthly averages.
const averageScale = 4

// QuantityRank is a category ranked by units sold.
type QuantityRank struct {
	Name     string `json:"name"`
	Quantity uint64 `json:"quantity"`
}

// RevenueRank is a category ranked by revenue.
type RevenueRank struct {
	Name    string          `json:"name"`
	Revenue decimal.Decimal `json:"revenue"`
}

// ProductChannel is the units sold of one product through one channel.
type ProductChannel struct {
	Product  string `json:"product"`
	Channel  string `json:"channel"`
	Quantity uint64 `json:"quantity"`
}

// CountryRegion is the revenue of one (country, region) pair.
type CountryRegion struct {
	Country string          `json:"country"`
	Region  string          `json:"region"`
	Revenue decimal.Decimal `json:"revenue"`
}

// MonthRevenue is one product's revenue in one month.
type MonthRevenue struct {
	Month   sales.Month     `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
}

// ProductSummary holds the per-product figures.
type ProductSummary struct {
	Name     string          `json:"name"`
	Quantity uint64          `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	// Months is the divisor used for MonthlyAverage under the report policy.
	Months         int             `json:"months"`
	MonthlyAverage decimal.Decimal `json:"monthly_average"`
	Monthly        []MonthRevenue  `json:"monthly"`
}

// MonthSpan is the first and last month with accepted records.
type MonthSpan struct {
	First sales.Month `json:"first"`
	Last  sales.Month `json:"last"`
}

// Months returns the number of calendar months in the span.
func (s MonthSpan) Months() int {
	return int(s.Last-s.First) + 1
}

// Totals are dataset-wide sums over accepted records.
type Totals struct {
	Records  int64           `json:"records"`
	Quantity uint64          `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Span     *MonthSpan      `json:"span,omitempty"`
}

// Rejections counts dropped rows by reason.
type Rejections struct {
	ByReason map[string]int64 `json:"by_reason"`
	Total    int64            `json:"total"`
}

// Add records n rejected rows for reason.
func (r *Rejections) Add(reason string, n int64) {
	if n == 0 {
		return
	}
	if r.ByReason == nil {
		r.ByReason = make(map[string]int64)
	}
	r.ByReason[reason] += n
	r.Total += n
}

// Resources describes the run that produced a report. It is not part of
// the fingerprint.
type Resources struct {
	Elapsed       time.Duration `json:"elapsed_ns"`
	Chunks        int           `json:"chunks"`
	ChunkSize     int           `json:"chunk_size"`
	BytesRead     int64         `json:"bytes_read"`
	PeakHeapBytes uint64        `json:"peak_heap_bytes"`
	PeakRSSBytes  uint64        `json:"peak_rss_bytes,omitempty"`
}

// Report is the result of a finalized aggregation. Leaders are nil when
// no record was accepted.
type Report struct {
	Policy AveragePolicy `json:"average_policy"`

	TopProduct        *QuantityRank   `json:"top_product"`
	TopProductChannel *ProductChannel `json:"top_product_channel"`
	TopCountryRegion  *CountryRegion  `json:"top_country_region"`
	TopChannel        *QuantityRank   `json:"top_channel"`
	TopCountry        *RevenueRank    `json:"top_country"`
	TopRegion         *RevenueRank    `json:"top_region"`

	Products        []ProductSummary `json:"products"`
	ProductChannels []ProductChannel `json:"product_channels"`
	CountryRegions  []CountryRegion  `json:"country_regions"`

	Totals    Totals     `json:"totals"`
	Rejected  Rejections `json:"rejected"`
	Resources Resources  `json:"resources"`

	index *catalog.Index
}

func (a *Aggregator) buildReport() (*Report, error) {
	rep := &Report{Policy: a.policy}
	rep.Totals.Records = a.records

	productNames := a.cat.Dict(catalog.Product).Names()
	channelNames := a.cat.Dict(catalog.Channel).Names()
	countryNames := a.cat.Dict(catalog.Country).Names()
	regionNames := a.cat.Dict(catalog.Region).Names()

	qtyByProduct := make([]uint64, len(productNames))
	qtyByChannel := make([]uint64, len(channelNames))
	channelSeen := make([]bool, len(channelNames))

	rep.ProductChannels = make([]ProductChannel, 0, len(a.quantityByProductChannel))
	for k, q := range a.quantityByProductChannel {
		p, c := k.split()
		qtyByProduct[p] += q
		qtyByChannel[c] += q
		channelSeen[c] = true
		rep.Totals.Quantity += q
		rep.ProductChannels = append(rep.ProductChannels, ProductChannel{
			Product: productNames[p], Channel: channelNames[c], Quantity: q,
		})
	}
	slices.SortFunc(rep.ProductChannels, func(x, y ProductChannel) int {
		return cmp.Or(cmp.Compare(x.Product, y.Product), cmp.Compare(x.Channel, y.Channel))
	})
	for i := range rep.ProductChannels {
		pc := &rep.ProductChannels[i]
		if rep.TopProductChannel == nil || pc.Quantity > rep.TopProductChannel.Quantity {
			top := *pc
			rep.TopProductChannel = &top
		}
	}

	revByCountry := make([]sales.Sum, len(countryNames))
	revByRegion := make([]sales.Sum, len(regionNames))
	countrySeen := make([]bool, len(countryNames))
	regionSeen := make([]bool, len(regionNames))
	var totalRevenue sales.Sum

	rep.CountryRegions = make([]CountryRegion, 0, len(a.valueByCountryRegion))
	for k, v := range a.valueByCountryRegion {
		co, re := k.split()
		revByCountry[co].AddSum(v)
		revByRegion[re].AddSum(v)
		countrySeen[co], regionSeen[re] = true, true
		totalRevenue.AddSum(v)
		rep.CountryRegions = append(rep.CountryRegions, CountryRegion{
			Country: countryNames[co], Region: regionNames[re], Revenue: v.Decimal(),
		})
	}
	rep.Totals.Revenue = totalRevenue.Decimal()
	slices.SortFunc(rep.CountryRegions, func(x, y CountryRegion) int {
		return cmp.Or(cmp.Compare(x.Country, y.Country), cmp.Compare(x.Region, y.Region))
	})
	for i := range rep.CountryRegions {
		cr := &rep.CountryRegions[i]
		if rep.TopCountryRegion == nil || cr.Revenue.GreaterThan(rep.TopCountryRegion.Revenue) {
			top := *cr
			rep.TopCountryRegion = &top
		}
	}

	rep.TopChannel = topByQuantity(channelNames, qtyByChannel, channelSeen)
	rep.TopCountry = topByRevenue(countryNames, revByCountry, countrySeen)
	rep.TopRegion = topByRevenue(regionNames, revByRegion, regionSeen)

	if a.records > 0 {
		rep.Totals.Span = &MonthSpan{First: a.firstMonth, Last: a.lastMonth}
	}

	rep.Products = a.productSummaries(productNames, qtyByProduct, rep.Totals.Span)
	productSeen := make([]bool, len(productNames))
	for i := range a.monthsByProduct {
		productSeen[i] = a.monthsByProduct[i] > 0
	}
	rep.TopProduct = topByQuantity(productNames, qtyByProduct, productSeen)

	names := make([]string, len(rep.Products))
	for i, p := range rep.Products {
		names[i] = p.Name
	}
	idx, err := catalog.BuildIndex(names)
	if err != nil {
		return nil, fmt.Errorf("index products: %w", err)
	}
	rep.index = idx

	return rep, nil
}

func (a *Aggregator) productSummaries(names []string, qty []uint64, span *MonthSpan) []ProductSummary {
	monthly := make([][]MonthRevenue, len(names))
	revenue := make([]sales.Sum, len(names))
	for k, v := range a.monthlyValueByProduct {
		p, m := k.split()
		monthly[p] = append(monthly[p], MonthRevenue{Month: m, Revenue: v.Decimal()})
		revenue[p].AddSum(v)
	}

	out := make([]ProductSummary, 0, len(a.monthsByProduct))
	for p, months := range a.monthsByProduct {
		if months == 0 {
			continue
		}
		slices.SortFunc(monthly[p], func(x, y MonthRevenue) int {
			return cmp.Compare(x.Month, y.Month)
		})

		divisor := int(months)
		if a.policy == CalendarSpan && span != nil {
			divisor = span.Months()
		}
		total := revenue[p].Decimal()
		out = append(out, ProductSummary{
			Name:           names[p],
			Quantity:       qty[p],
			Revenue:        total,
			Months:         divisor,
			MonthlyAverage: total.DivRound(decimal.NewFromInt(int64(divisor)), averageScale),
			Monthly:        monthly[p],
		})
	}
	slices.SortFunc(out, func(x, y ProductSummary) int {
		return cmp.Compare(x.Name, y.Name)
	})
	return out
}

// topByQuantity picks the largest quantity; ties go to the smallest name.
func topByQuantity(names []string, qty []uint64, seen []bool) *QuantityRank {
	var best *QuantityRank
	for i, name := range names {
		if i >= len(seen) || !seen[i] {
			continue
		}
		if best == nil || qty[i] > best.Quantity || (qty[i] == best.Quantity && name < best.Name) {
			best = &QuantityRank{Name: name, Quantity: qty[i]}
		}
	}
	return best
}

// topByRevenue picks the largest revenue; ties go to the smallest name.
func topByRevenue(names []string, rev []sales.Sum, seen []bool) *RevenueRank {
	var best *RevenueRank
	var bestSum sales.Sum
	for i, name := range names {
		if !seen[i] {
			continue
		}
		c := rev[i].Cmp(bestSum)
		if best == nil || c > 0 || (c == 0 && name < best.Name) {
			best = &RevenueRank{Name: name, Revenue: rev[i].Decimal()}
			bestSum = rev[i]
		}
	}
	return best
}

// Product returns the summary for a product name.
func (r *Report) Product(name string) (*ProductSummary, bool) {
	slot, ok := r.index.Lookup(name)
	if !ok {
		return nil, false
	}
	return &r.Products[slot], true
}

// ProductAverage returns the monthly average revenue of a product.
func (r *Report) ProductAverage(name string) (decimal.Decimal, bool) {
	p, ok := r.Product(name)
	if !ok {
		return decimal.Zero, false
	}
	return p.MonthlyAverage, true
}

// Fingerprint hashes the aggregate content of the report: leaders, tables,
// totals and rejections. Runs over the same input agree on it whatever
// their chunk size.
func (r *Report) Fingerprint() uint64 {
	h := xxh3.New()

	fmt.Fprintf(h, "policy=%s\n", r.Policy)
	if r.TopProduct != nil {
		fmt.Fprintf(h, "top_product=%s:%d\n", r.TopProduct.Name, r.TopProduct.Quantity)
	}
	if r.TopProductChannel != nil {
		fmt.Fprintf(h, "top_pc=%s/%s:%d\n", r.TopProductChannel.Product, r.TopProductChannel.Channel, r.TopProductChannel.Quantity)
	}
	if r.TopCountryRegion != nil {
		fmt.Fprintf(h, "top_cr=%s/%s:%s\n", r.TopCountryRegion.Country, r.TopCountryRegion.Region, r.TopCountryRegion.Revenue)
	}
	for _, p := range r.Products {
		fmt.Fprintf(h, "p=%s:%d:%s:%d:%s\n", p.Name, p.Quantity, p.Revenue, p.Months, p.MonthlyAverage)
		for _, m := range p.Monthly {
			fmt.Fprintf(h, "pm=%s:%s\n", m.Month, m.Revenue)
		}
	}
	for _, pc := range r.ProductChannels {
		fmt.Fprintf(h, "pc=%s/%s:%d\n", pc.Product, pc.Channel, pc.Quantity)
	}
	for _, cr := range r.CountryRegions {
		fmt.Fprintf(h, "cr=%s/%s:%s\n", cr.Country, cr.Region, cr.Revenue)
	}
	fmt.Fprintf(h, "totals=%d:%d:%s\n", r.Totals.Records, r.Totals.Quantity, r.Totals.Revenue)

	reasons := make([]string, 0, len(r.Rejected.ByReason))
	for k := range r.Rejected.ByReason {
		reasons = append(reasons, k)
	}
	slices.Sort(reasons)
	for _, k := range reasons {
		fmt.Fprintf(h, "rej=%s:%d\n", k, r.Rejected.ByReason[k])
	}

	return h.Sum64()
}
