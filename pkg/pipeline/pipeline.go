// Package pipeline drives one aggregation run: it pulls chunks from a
// source, normalizes them and folds them into an aggregator, strictly in
// order, one chunk at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eunmann/vendas-agg/internal/logctx"
	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/catalog"
	"github.com/eunmann/vendas-agg/pkg/logging"
	"github.com/eunmann/vendas-agg/pkg/membudget"
	"github.com/eunmann/vendas-agg/pkg/memdiag"
	"github.com/eunmann/vendas-agg/pkg/normalize"
	"github.com/eunmann/vendas-agg/pkg/sales"
	"github.com/eunmann/vendas-agg/pkg/source"
	"github.com/eunmann/vendas-agg/pkg/sysmem"
)

// ReasonMalformedRow counts rows the source dropped for a column-count or
// quoting problem.
const ReasonMalformedRow = "malformed_row"

// Config holds everything one run needs.
type Config struct {
	Source    source.Config
	Normalize normalize.Config
	Policy    aggregate.AveragePolicy

	// ProgressInterval throttles info-level progress logs. Default: 5s.
	ProgressInterval time.Duration
	// Tracker, if set, is sampled after every chunk.
	Tracker *memdiag.Tracker
	// Budget, if set, triggers a warning when the heap grows past it.
	Budget *membudget.Budget
}

// Run opens the configured input and aggregates it.
func Run(ctx context.Context, cfg Config) (*aggregate.Report, error) {
	ctx = logctx.WithStr(ctx, "input", cfg.Source.Path)
	log := logctx.FromContext(ctx)

	if cfg.Source.OnSkip == nil {
		cfg.Source.OnSkip = func(e *source.FormatError) {
			log.Debug().Int("line", e.Line).Str("reason", e.Msg).Msg("skipped malformed row")
		}
	}

	src, err := source.Open(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer src.Close()

	return RunSource(ctx, src, cfg)
}

// RunSource aggregates an already opened source. The pipeline moves from
// idle to streaming on the first chunk and to finalized after the source
// is exhausted; it never re-reads a chunk.
func RunSource(ctx context.Context, src source.Source, cfg Config) (*aggregate.Report, error) {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if cfg.Source.ChunkSize <= 0 {
		cfg.Source.ChunkSize = source.DefaultChunkSize
	}
	log := logctx.FromContext(ctx).With().Str("phase", "aggregate").Logger()
	if cfg.Tracker != nil {
		cfg.Tracker.SetPhase("aggregate")
	}

	cat := catalog.New()
	norm := normalize.New(cat, src.Header(), cfg.Normalize)
	agg := aggregate.New(cat, cfg.Policy)
	if err := agg.Start(); err != nil {
		return nil, err
	}

	var rejected [normalize.NumReasons]int64
	onReject := func(e *normalize.RowError) {
		rejected[e.Reason]++
		log.Debug().
			Int("line", e.Line).
			Str("reason", e.Reason.String()).
			Str("field", e.Field.String()).
			Str("value", e.Value).
			Msg("rejected row")
	}

	progress := logging.NewProgressTracker(src.Size())
	start := time.Now()
	lastLog := start
	chunks := 0
	var records []sales.Record

	log.Info().
		Int("chunk_size", cfg.Source.ChunkSize).
		Int64("input_bytes", src.Size()).
		Str("average_policy", cfg.Policy.String()).
		Msg("starting aggregation")

	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", chunks+1, err)
		}
		chunkStart := time.Now()

		records = norm.Chunk(chunk, records, onReject)
		if err := agg.Fold(records); err != nil {
			return nil, err
		}
		chunks++
		progress.Update(src.BytesRead())

		clog := logctx.FromContext(logctx.WithInt(ctx, "chunk_index", chunk.Index))
		logging.ChunkComplete(clog, "aggregate", time.Since(chunkStart)).
			Count("rows", int64(len(chunk.Rows))).
			Count("accepted", int64(len(records))).
			Int("keys", agg.Keys()).
			Rate(int64(len(chunk.Rows))).
			LogDebug("chunk folded")

		if cfg.Tracker != nil {
			stats := cfg.Tracker.Observe("chunk")
			if cfg.Budget != nil {
				cfg.Tracker.WarnIfOverBudget(stats, cfg.Budget.Total())
			}
		}

		if time.Since(lastLog) >= cfg.ProgressInterval {
			logging.NewCompletionEvent(log, "progress", "aggregate", progress.Elapsed()).
				Int("chunks", chunks).
				Count("rows", src.Rows()).
				Bytes("bytes_read", src.BytesRead()).
				Bytes("state_bytes", agg.MemoryEstimate()+cat.MemoryEstimate()).
				Progress(progress).
				Rate(src.Rows()).
				Log("aggregation progress")
			lastLog = time.Now()
		}
	}

	rep, err := agg.Finalize()
	if err != nil {
		return nil, err
	}

	rep.Rejected.Add(ReasonMalformedRow, src.Skipped())
	for r := normalize.Reason(0); r < normalize.NumReasons; r++ {
		rep.Rejected.Add(r.String(), rejected[r])
	}

	rep.Resources = aggregate.Resources{
		Elapsed:   time.Since(start),
		Chunks:    chunks,
		ChunkSize: cfg.Source.ChunkSize,
		BytesRead: src.BytesRead(),
	}
	if cfg.Tracker != nil {
		cfg.Tracker.Observe("finalize")
		rep.Resources.PeakHeapBytes = cfg.Tracker.PeakHeap()
	} else {
		rep.Resources.PeakHeapBytes = memdiag.Read().HeapAlloc
	}
	if rss, ok := sysmem.PeakRSS(); ok {
		rep.Resources.PeakRSSBytes = rss
	}

	logging.PhaseComplete(log, "aggregate", rep.Resources.Elapsed).
		Int("chunks", chunks).
		Count("rows", src.Rows()).
		Count("accepted", rep.Totals.Records).
		Count("rejected", rep.Rejected.Total).
		Bytes("bytes_read", src.BytesRead()).
		Rate(src.Rows()).
		Log("aggregation complete")

	return rep, nil
}
