// Package sink writes a finalized report to its destinations: the terminal,
// JSON and Parquet files, and Postgres tables.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/logging"
)

// Sink consumes a finalized report.
type Sink interface {
	// Name identifies the sink in logs and errors.
	Name() string
	Write(ctx context.Context, rep *aggregate.Report) error
}

// WriteAll hands the report to every sink in order and stops at the first
// failure.
func WriteAll(ctx context.Context, rep *aggregate.Report, sinks ...Sink) error {
	log := logging.WithPhase("sink")
	for _, s := range sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := s.Write(ctx, rep); err != nil {
			return fmt.Errorf("write %s: %w", s.Name(), err)
		}
		logging.PhaseComplete(log, "sink", time.Since(start)).
			Str("sink", s.Name()).
			Log("report written")
	}
	return nil
}
