package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/logging"
)

// DefaultTablePrefix names the Postgres tables: <prefix>runs,
// <prefix>products and <prefix>product_months.
const DefaultTablePrefix = "vendas_"

// Postgres stores a report in three tables keyed by run id. Every write is
// one transaction; the tables are created when missing.
type Postgres struct {
	DSN    string
	Prefix string
	// RunID defaults to the report fingerprint plus the write time.
	RunID string
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) table(name string) string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	return prefix + name
}

func (p *Postgres) Write(ctx context.Context, rep *aggregate.Report) error {
	pool, err := pgxpool.New(ctx, p.DSN)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	defer pool.Close()

	runID := p.RunID
	if runID == "" {
		runID = fmt.Sprintf("%016x-%d", rep.Fingerprint(), time.Now().Unix())
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := p.createTables(ctx, tx); err != nil {
		return err
	}
	if err := p.insertRun(ctx, tx, runID, rep); err != nil {
		return err
	}

	products, months, err := productRows(runID, rep)
	if err != nil {
		return err
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{p.table("products")},
		[]string{"run_id", "product", "quantity", "revenue", "months", "monthly_average"},
		pgx.CopyFromRows(products))
	if err != nil {
		return copyError("products", err)
	}
	m, err := tx.CopyFrom(ctx, pgx.Identifier{p.table("product_months")},
		[]string{"run_id", "product", "month", "revenue"},
		pgx.CopyFromRows(months))
	if err != nil {
		return copyError("product_months", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.WithPhase("sink").Debug().
		Str("run_id", runID).
		Int64("products", n).
		Int64("product_months", m).
		Msg("postgres rows copied")
	return nil
}

func (p *Postgres) createTables(ctx context.Context, tx pgx.Tx) error {
	runs := pgx.Identifier{p.table("runs")}.Sanitize()
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id text PRIMARY KEY,
			written_at timestamptz NOT NULL,
			average_policy text NOT NULL,
			records bigint NOT NULL,
			quantity bigint NOT NULL,
			revenue numeric NOT NULL,
			rejected bigint NOT NULL,
			top_product text,
			fingerprint text NOT NULL)`, runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id text NOT NULL REFERENCES %s ON DELETE CASCADE,
			product text NOT NULL,
			quantity bigint NOT NULL,
			revenue numeric NOT NULL,
			months integer NOT NULL,
			monthly_average numeric NOT NULL,
			PRIMARY KEY (run_id, product))`, pgx.Identifier{p.table("products")}.Sanitize(), runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id text NOT NULL REFERENCES %s ON DELETE CASCADE,
			product text NOT NULL,
			month date NOT NULL,
			revenue numeric NOT NULL,
			PRIMARY KEY (run_id, product, month))`, pgx.Identifier{p.table("product_months")}.Sanitize(), runs),
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (p *Postgres) insertRun(ctx context.Context, tx pgx.Tx, runID string, rep *aggregate.Report) error {
	revenue, err := numeric(rep.Totals.Revenue)
	if err != nil {
		return err
	}
	var top *string
	if rep.TopProduct != nil {
		top = &rep.TopProduct.Name
	}
	stmt := fmt.Sprintf(`INSERT INTO %s
		(run_id, written_at, average_policy, records, quantity, revenue, rejected, top_product, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, pgx.Identifier{p.table("runs")}.Sanitize())
	_, err = tx.Exec(ctx, stmt,
		runID, time.Now().UTC(), rep.Policy.String(),
		rep.Totals.Records, int64(rep.Totals.Quantity), revenue, rep.Rejected.Total,
		top, fmt.Sprintf("%016x", rep.Fingerprint()))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func productRows(runID string, rep *aggregate.Report) (products, months [][]any, err error) {
	products = make([][]any, 0, len(rep.Products))
	for _, p := range rep.Products {
		rev, err := numeric(p.Revenue)
		if err != nil {
			return nil, nil, err
		}
		avg, err := numeric(p.MonthlyAverage)
		if err != nil {
			return nil, nil, err
		}
		products = append(products, []any{runID, p.Name, int64(p.Quantity), rev, int32(p.Months), avg})

		for _, m := range p.Monthly {
			mrev, err := numeric(m.Revenue)
			if err != nil {
				return nil, nil, err
			}
			first := time.Date(m.Month.Year(), m.Month.Num(), 1, 0, 0, 0, 0, time.UTC)
			months = append(months, []any{runID, p.Name, first, mrev})
		}
	}
	return products, months, nil
}

func numeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("numeric %s: %w", d, err)
	}
	return n, nil
}

func copyError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("copy into %s: %s (%s): %w", table, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("copy into %s: %w", table, err)
}
