// Package cli implements the command-line interface for vendas-agg.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eunmann/vendas-agg/internal/config"
	"github.com/eunmann/vendas-agg/internal/logctx"
	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/fileutil"
	"github.com/eunmann/vendas-agg/pkg/logging"
	"github.com/eunmann/vendas-agg/pkg/membudget"
	"github.com/eunmann/vendas-agg/pkg/memdiag"
	"github.com/eunmann/vendas-agg/pkg/normalize"
	"github.com/eunmann/vendas-agg/pkg/pipeline"
	"github.com/eunmann/vendas-agg/pkg/salesgen"
	"github.com/eunmann/vendas-agg/pkg/sink"
	"github.com/eunmann/vendas-agg/pkg/source"
)

// ErrUsage marks bad invocations: unknown commands, flags or settings.
var ErrUsage = errors.New("usage")

// Exit codes.
const (
	ExitOK     = 0
	ExitFail   = 1
	ExitUsage  = 2
	ExitIO     = 3
	ExitFormat = 4
)

const usage = `usage: vendas-agg <command> [options]
commands:
  run [options] [input]   aggregate a sales file and print the report
  gen [options] <output>  write a synthetic sales file`

// getenv is swapped out by tests.
var getenv = os.Getenv

// Run executes the CLI with the given arguments, printing reports to stdout.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: %s", ErrUsage, usage)
	}

	switch args[0] {
	case "run":
		return runAggregate(ctx, args[1:], stdout)
	case "gen":
		return runGenerate(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command: %s", ErrUsage, args[0])
	}
}

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, source.ErrIO):
		return ExitIO
	case errors.Is(err, source.ErrFormat):
		return ExitFormat
	default:
		return ExitFail
	}
}

// optionFlag queues a flag value so it can be applied after the config
// file and environment.
type optionFlag struct {
	opt     config.Option
	pending *[][2]string
}

func (f *optionFlag) String() string { return "" }

func (f *optionFlag) Set(v string) error {
	*f.pending = append(*f.pending, [2]string{f.opt.Key, v})
	return nil
}

func (f *optionFlag) IsBoolFlag() bool { return f.opt.Bool }

// loadConfig resolves defaults, the config file, VENDASAGG_* variables and
// flags, in that order.
func loadConfig(args []string) (config.Config, bool, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (env "+config.EnvPrefix+"CONFIG)")
	var pending [][2]string
	for _, o := range config.Options() {
		fs.Var(&optionFlag{opt: o, pending: &pending}, o.FlagName(), o.Usage)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 1 {
		return config.Config{}, false, fmt.Errorf("%w: at most one input file, got %d", ErrUsage, fs.NArg())
	}

	path := *configPath
	if path == "" {
		path = getenv(config.EnvPrefix + "CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, false, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, false, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	for _, kv := range pending {
		if err := cfg.Set(kv[0], kv[1]); err != nil {
			return cfg, false, fmt.Errorf("%w: --%s: %v", ErrUsage, strings.ReplaceAll(kv[0], "_", "-"), err)
		}
	}
	if fs.NArg() == 1 {
		cfg.InputPath = fs.Arg(0)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return cfg, true, nil
}

func runAggregate(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, ok, err := loadConfig(args)
	if err != nil || !ok {
		return err
	}
	logging.Init(cfg.Debug, cfg.Human)
	log := logging.WithPhase("run")
	ctx = logctx.WithLogger(ctx, log)

	// Validate has already checked these.
	policy, _ := aggregate.ParseAveragePolicy(cfg.AveragePolicy)
	order, _ := normalize.ParseDateOrder(cfg.DateOrder)
	delim, _ := cfg.DelimiterRune()

	budget, err := membudget.Resolve(cfg.MemBudget)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = budget.ChunkRows(membudget.EstimatedRowBytes)
	}
	log.Info().
		Str("budget", memdiag.FormatMB(budget.Total())).
		Str("budget_source", string(budget.Source())).
		Int("chunk_size", chunkSize).
		Msg("memory budget resolved")

	tracker := memdiag.NewTracker(memdiag.DefaultConfig(), log)
	pcfg := pipeline.Config{
		Source: source.Config{
			Path:      cfg.InputPath,
			ChunkSize: chunkSize,
			Format:    cfg.InputFormat,
			Encoding:  cfg.Encoding,
			Delimiter: delim,
			Columns:   cfg.Columns(),
		},
		Normalize: normalize.Config{DateOrder: order},
		Policy:    policy,
		Tracker:   tracker,
		Budget:    budget,
	}

	var rep *aggregate.Report
	g, gctx := errgroup.WithContext(ctx)
	trackCtx, stopTracker := context.WithCancel(gctx)
	g.Go(func() error {
		return tracker.Run(trackCtx)
	})
	g.Go(func() error {
		defer stopTracker()
		var err error
		rep, err = pipeline.Run(gctx, pcfg)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return sink.WriteAll(ctx, rep, sinks(cfg, stdout)...)
}

func sinks(cfg config.Config, stdout io.Writer) []sink.Sink {
	var out []sink.Sink
	if cfg.Format == config.OutputJSON {
		out = append(out, &sink.JSON{W: stdout})
	} else {
		out = append(out, &sink.Text{W: stdout, Resources: cfg.ShowResources})
	}
	if cfg.JSONOut != "" {
		cleanupTmp(cfg.JSONOut)
		out = append(out, &sink.JSONFile{Path: cfg.JSONOut})
	}
	if cfg.ParquetOut != "" {
		cleanupTmp(cfg.ParquetOut)
		out = append(out, &sink.Parquet{Path: cfg.ParquetOut})
	}
	if cfg.PGDSN != "" {
		out = append(out, &sink.Postgres{DSN: cfg.PGDSN, Prefix: cfg.PGTablePrefix})
	}
	return out
}

// cleanupTmp removes temporary files a crashed run left beside an output.
func cleanupTmp(outPath string) {
	if err := fileutil.CleanupTmpFiles(filepath.Dir(outPath)); err != nil {
		logging.L().Warn().Err(err).Str("path", outPath).Msg("could not clean temporary files")
	}
}

func runGenerate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	def := salesgen.DefaultConfig(1_000_000)
	rows := fs.Int("rows", def.Rows, "data rows to write")
	products := fs.Int("products", def.Products, "distinct products (at most 12)")
	stores := fs.Int("stores", def.Stores, "distinct stores")
	months := fs.Int("months", def.Months, "months covered, starting January 2023")
	badRate := fs.Float64("bad-rate", def.BadRowRate, "fraction of corrupted rows (0-1)")
	layout := fs.String("layout", "pt", "header and date layout: pt or en")
	seed := fs.Int64("seed", def.Seed, "random seed")
	force := fs.Bool("force", false, "replace an existing non-empty output file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: gen needs exactly one output path", ErrUsage)
	}
	if *rows <= 0 {
		return fmt.Errorf("%w: --rows must be positive", ErrUsage)
	}
	if *badRate < 0 || *badRate > 1 {
		return fmt.Errorf("%w: --bad-rate must be within [0, 1]", ErrUsage)
	}

	cfg := def
	cfg.Rows, cfg.Products, cfg.Stores, cfg.Months = *rows, *products, *stores, *months
	cfg.BadRowRate, cfg.Seed = *badRate, *seed
	switch strings.ToLower(*layout) {
	case "pt":
		cfg.Layout = salesgen.Portuguese
	case "en":
		cfg.Layout = salesgen.English
	default:
		return fmt.Errorf("%w: --layout %q: want pt or en", ErrUsage, *layout)
	}

	out := fs.Arg(0)
	if !*force && fileutil.IsNonEmpty(out) {
		return fmt.Errorf("%w: %s already exists (use -force to replace it)", ErrUsage, out)
	}
	start := time.Now()
	st, err := salesgen.WriteFile(out, cfg)
	if err != nil {
		return err
	}
	logging.PhaseComplete(logging.WithPhase("gen"), "gen", time.Since(start)).
		Str("output", out).
		Count("rows", int64(st.Rows)).
		Count("valid_rows", int64(st.ValidRows)).
		Rate(int64(st.Rows)).
		Log("dataset written")

	fmt.Fprintf(stdout, "%s: %d rows (%d valid, %d bad date, %d bad number, %d negative, %d short), %s to %s\n",
		out, st.Rows, st.ValidRows, st.BadDate, st.BadNumber, st.Negative, st.ShortRows,
		st.FirstMonth.Format("2006-01"), st.LastMonth.Format("2006-01"))
	return nil
}
