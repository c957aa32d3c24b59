// Package config resolves run settings from, lowest to highest precedence:
// built-in defaults, a YAML file, VENDASAGG_* environment variables and
// command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/membudget"
	"github.com/eunmann/vendas-agg/pkg/normalize"
	"github.com/eunmann/vendas-agg/pkg/source"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "VENDASAGG_"

// DefaultInputPath is read when no input is configured.
const DefaultInputPath = "data/vendas.csv"

// Output formats for the stdout report.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds every setting of a run.
type Config struct {
	InputPath   string `yaml:"input_path"`
	InputFormat string `yaml:"input_format"`
	// ChunkSize is rows per chunk; 0 derives it from the memory budget.
	ChunkSize int    `yaml:"chunk_size"`
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`
	DateOrder string `yaml:"date_order"`

	AveragePolicy string `yaml:"average_policy"`

	ChannelColumn string `yaml:"channel_column"`
	CountryColumn string `yaml:"country_column"`
	RegionColumn  string `yaml:"region_column"`

	Format        string `yaml:"format"`
	ParquetOut    string `yaml:"parquet_out"`
	JSONOut       string `yaml:"json_out"`
	PGDSN         string `yaml:"pg_dsn"`
	PGTablePrefix string `yaml:"pg_table_prefix"`

	MemBudget     string `yaml:"mem_budget"`
	Debug         bool   `yaml:"debug"`
	Human         bool   `yaml:"human"`
	ShowResources bool   `yaml:"show_resources"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		InputPath:     DefaultInputPath,
		Encoding:      "utf-8",
		DateOrder:     "mdy",
		AveragePolicy: aggregate.ActiveMonths.String(),
		Format:        OutputText,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Option is one setting addressable by key. The key is the YAML key, the
// environment variable suffix and, with '_' turned into '-', the flag name.
type Option struct {
	Key   string
	Usage string
	Bool  bool
	set   func(*Config, string) error
	get   func(*Config) string
}

// FlagName returns the command-line spelling of the option.
func (o Option) FlagName() string {
	return strings.ReplaceAll(o.Key, "_", "-")
}

// EnvName returns the environment variable that sets the option.
func (o Option) EnvName() string {
	return EnvPrefix + strings.ToUpper(o.Key)
}

// Get renders the option's current value in c.
func (o Option) Get(c *Config) string {
	return o.get(c)
}

func stringOpt(key, usage string, field func(*Config) *string) Option {
	return Option{
		Key:   key,
		Usage: usage,
		set:   func(c *Config, v string) error { *field(c) = v; return nil },
		get:   func(c *Config) string { return *field(c) },
	}
}

func intOpt(key, usage string, field func(*Config) *int) Option {
	return Option{
		Key:   key,
		Usage: usage,
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: not an integer: %q", key, v)
			}
			*field(c) = n
			return nil
		},
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
	}
}

func boolOpt(key, usage string, field func(*Config) *bool) Option {
	return Option{
		Key:   key,
		Usage: usage,
		Bool:  true,
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: not a boolean: %q", key, v)
			}
			*field(c) = b
			return nil
		},
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
	}
}

var options = []Option{
	stringOpt("input_path", "input file: local path or s3://bucket/key", func(c *Config) *string { return &c.InputPath }),
	stringOpt("input_format", "input format: csv or parquet (default: from the file name)", func(c *Config) *string { return &c.InputFormat }),
	intOpt("chunk_size", "rows per chunk (0: derive from the memory budget)", func(c *Config) *int { return &c.ChunkSize }),
	stringOpt("encoding", "CSV character encoding: utf-8, latin1 or windows-1252", func(c *Config) *string { return &c.Encoding }),
	stringOpt("delimiter", "CSV field separator (default: detected from the header)", func(c *Config) *string { return &c.Delimiter }),
	stringOpt("date_order", "order of slash-separated dates: mdy or dmy", func(c *Config) *string { return &c.DateOrder }),
	stringOpt("average_policy", "monthly average divisor: active-months or calendar-span", func(c *Config) *string { return &c.AveragePolicy }),
	stringOpt("channel_column", "header of the sales channel column", func(c *Config) *string { return &c.ChannelColumn }),
	stringOpt("country_column", "header of the country column", func(c *Config) *string { return &c.CountryColumn }),
	stringOpt("region_column", "header of the region column", func(c *Config) *string { return &c.RegionColumn }),
	stringOpt("format", "stdout report format: text or json", func(c *Config) *string { return &c.Format }),
	stringOpt("parquet_out", "write monthly revenue rows to this Parquet file", func(c *Config) *string { return &c.ParquetOut }),
	stringOpt("json_out", "write the JSON report to this file", func(c *Config) *string { return &c.JSONOut }),
	stringOpt("pg_dsn", "store the report in Postgres at this DSN", func(c *Config) *string { return &c.PGDSN }),
	stringOpt("pg_table_prefix", "prefix of the Postgres report tables", func(c *Config) *string { return &c.PGTablePrefix }),
	stringOpt("mem_budget", "memory budget, e.g. 2GiB (default: half of system RAM)", func(c *Config) *string { return &c.MemBudget }),
	boolOpt("debug", "enable debug logging", func(c *Config) *bool { return &c.Debug }),
	boolOpt("human", "human-friendly console logs", func(c *Config) *bool { return &c.Human }),
	boolOpt("show_resources", "print elapsed time and memory with the text report", func(c *Config) *bool { return &c.ShowResources }),
}

// Options lists every setting in display order.
func Options() []Option {
	return options
}

// Set assigns the option named key from its string form.
func (c *Config) Set(key, value string) error {
	for _, o := range options {
		if o.Key == key {
			return o.set(c, value)
		}
	}
	return fmt.Errorf("unknown option %q", key)
}

// ApplyEnv overlays every non-empty VENDASAGG_* variable found by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for _, o := range options {
		v := getenv(o.EnvName())
		if v == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.EnvName(), err)
		}
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.InputPath) == "" {
		errs = append(errs, errors.New("input_path is empty"))
	}
	switch strings.ToLower(c.InputFormat) {
	case "", "csv", "parquet":
	default:
		errs = append(errs, fmt.Errorf("input_format %q: want csv or parquet", c.InputFormat))
	}
	if c.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk_size %d: must not be negative", c.ChunkSize))
	}
	switch strings.ToLower(strings.ReplaceAll(c.Encoding, "_", "-")) {
	case "", "utf-8", "utf8", "latin1", "latin-1", "iso-8859-1", "windows-1252", "cp1252":
	default:
		errs = append(errs, fmt.Errorf("encoding %q: want utf-8, latin1 or windows-1252", c.Encoding))
	}
	if _, err := c.DelimiterRune(); err != nil {
		errs = append(errs, err)
	}
	if _, err := normalize.ParseDateOrder(c.DateOrder); err != nil {
		errs = append(errs, err)
	}
	if _, err := aggregate.ParseAveragePolicy(c.AveragePolicy); err != nil {
		errs = append(errs, err)
	}
	switch c.Format {
	case OutputText, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("format %q: want text or json", c.Format))
	}
	if c.MemBudget != "" {
		if _, err := membudget.ParseHumanSize(c.MemBudget); err != nil {
			errs = append(errs, fmt.Errorf("mem_budget %q: %w", c.MemBudget, err))
		}
	}
	return errors.Join(errs...)
}

// DelimiterRune returns the configured separator, or 0 to detect it.
// "tab" and "\t" both mean a tab.
func (c *Config) DelimiterRune() (rune, error) {
	switch c.Delimiter {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(c.Delimiter)
	if size != len(c.Delimiter) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("delimiter %q: want a single character", c.Delimiter)
	}
	return r, nil
}

// Columns returns the explicit column mappings.
func (c *Config) Columns() source.ColumnMap {
	cols := source.ColumnMap{}
	if c.ChannelColumn != "" {
		cols[source.FieldChannel] = c.ChannelColumn
	}
	if c.CountryColumn != "" {
		cols[source.FieldCountry] = c.CountryColumn
	}
	if c.RegionColumn != "" {
		cols[source.FieldRegion] = c.RegionColumn
	}
	return cols
}
