package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/humanfmt"
	"github.com/eunmann/vendas-agg/pkg/memdiag"
)

// Text prints the report summary for a person at a terminal.
type Text struct {
	W io.Writer
	// Resources adds elapsed time and memory figures at the end.
	Resources bool
}

func (t *Text) Name() string { return "text" }

func (t *Text) Write(_ context.Context, rep *aggregate.Report) error {
	w := bufio.NewWriter(t.W)

	if rep.TopProduct == nil {
		fmt.Fprintln(w, "Nenhuma venda válida encontrada.")
	} else {
		fmt.Fprintf(w, "Produto mais vendido: %s, Quantidade: %s\n",
			rep.TopProduct.Name, qty(rep.TopProduct.Quantity))
		if pc := rep.TopProductChannel; pc != nil {
			fmt.Fprintf(w, "Produto/canal mais vendido: %s / %s, Quantidade: %s\n",
				pc.Product, pc.Channel, qty(pc.Quantity))
		}
		if cr := rep.TopCountryRegion; cr != nil {
			fmt.Fprintf(w, "País/região com maior volume de vendas: %s / %s, Valor Total: %s\n",
				cr.Country, cr.Region, humanfmt.Money(cr.Revenue))
		}
		if c := rep.TopChannel; c != nil {
			fmt.Fprintf(w, "Canal de vendas mais vendido: %s, Quantidade: %s\n", c.Name, qty(c.Quantity))
		}
		if c := rep.TopCountry; c != nil {
			fmt.Fprintf(w, "País com maior volume de vendas: %s, Valor Total: %s\n", c.Name, humanfmt.Money(c.Revenue))
		}
		if r := rep.TopRegion; r != nil {
			fmt.Fprintf(w, "Região com maior volume de vendas: %s, Valor Total: %s\n", r.Name, humanfmt.Money(r.Revenue))
		}

		fmt.Fprintf(w, "\nMédia de vendas mensais por produto (%s):\n", rep.Policy)
		width := 0
		for _, p := range rep.Products {
			width = max(width, len(p.Name))
		}
		for _, p := range rep.Products {
			fmt.Fprintf(w, "  %-*s  %14s  (%d %s)\n", width, p.Name,
				humanfmt.Money(p.MonthlyAverage), p.Months, plural(p.Months, "mês", "meses"))
		}
	}

	fmt.Fprintf(w, "\nLinhas aceitas: %s, rejeitadas: %s",
		humanfmt.Grouped(rep.Totals.Records), humanfmt.Grouped(rep.Rejected.Total))
	if len(rep.Rejected.ByReason) > 0 {
		reasons := make([]string, 0, len(rep.Rejected.ByReason))
		for k, n := range rep.Rejected.ByReason {
			reasons = append(reasons, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(w, " (%s)", strings.Join(reasons, ", "))
	}
	fmt.Fprintln(w)

	if t.Resources {
		res := rep.Resources
		fmt.Fprintf(w, "Tempo total de execução: %.2f segundos\n", res.Elapsed.Seconds())
		fmt.Fprintf(w, "Chunks: %d de até %s linhas, lidos %s\n",
			res.Chunks, humanfmt.Grouped(int64(res.ChunkSize)), humanfmt.Bytes(res.BytesRead))
		fmt.Fprintf(w, "Memória de pico: heap %s", memdiag.FormatMB(res.PeakHeapBytes))
		if res.PeakRSSBytes > 0 {
			fmt.Fprintf(w, ", RSS %s", memdiag.FormatMB(res.PeakRSSBytes))
		}
		fmt.Fprintln(w)
	}

	return w.Flush()
}

func qty(n uint64) string {
	return humanfmt.Grouped(int64(n))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
