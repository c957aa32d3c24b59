package sink

import (
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/fileutil"
	"github.com/eunmann/vendas-agg/pkg/sales"
)

// MonthRow is one product's revenue in one month. Revenue is stored in
// ten-thousandths as a DECIMAL(18,4).
type MonthRow struct {
	Product        string `parquet:"product,dict"`
	Month          int32  `parquet:"month,date"`
	Revenue        int64  `parquet:"revenue,decimal(4:18)"`
	ProductMonths  int32  `parquet:"product_months"`
	MonthlyAverage int64  `parquet:"monthly_average,decimal(4:18)"`
}

// Parquet writes the per-product monthly revenue table to Path.
type Parquet struct {
	Path string
}

func (p *Parquet) Name() string { return "parquet file " + p.Path }

func (p *Parquet) Write(_ context.Context, rep *aggregate.Report) error {
	rows, err := MonthRows(rep)
	if err != nil {
		return err
	}
	return fileutil.WriteTmpThenMove(p.Path, func(tmpPath string) error {
		if err := parquet.WriteFile(tmpPath, rows); err != nil {
			return fmt.Errorf("write parquet: %w", err)
		}
		return nil
	})
}

// MonthRows flattens the report into one row per product and month, in
// product then month order. Month holds the first day of the month.
func MonthRows(rep *aggregate.Report) ([]MonthRow, error) {
	var rows []MonthRow
	for _, p := range rep.Products {
		avg, err := scaled(p.MonthlyAverage)
		if err != nil {
			return nil, fmt.Errorf("product %q average: %w", p.Name, err)
		}
		for _, m := range p.Monthly {
			rev, err := scaled(m.Revenue)
			if err != nil {
				return nil, fmt.Errorf("product %q month %s: %w", p.Name, m.Month, err)
			}
			rows = append(rows, MonthRow{
				Product:        p.Name,
				Month:          int32(sales.DateOf(m.Month.Year(), m.Month.Num(), 1)),
				Revenue:        rev,
				ProductMonths:  int32(p.Months),
				MonthlyAverage: avg,
			})
		}
	}
	return rows, nil
}

// decimalLimit bounds the unscaled value of a DECIMAL(18,4) column.
var decimalLimit = decimal.New(1, 18)

func scaled(d decimal.Decimal) (int64, error) {
	v := d.Shift(sales.PriceScale).Round(0)
	if v.Abs().GreaterThanOrEqual(decimalLimit) {
		return 0, fmt.Errorf("%s does not fit DECIMAL(18,%d)", d, sales.PriceScale)
	}
	return v.IntPart(), nil
}
