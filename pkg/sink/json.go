package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/eunmann/vendas-agg/pkg/aggregate"
	"github.com/eunmann/vendas-agg/pkg/fileutil"
)

type jsonReport struct {
	*aggregate.Report
	Fingerprint string `json:"fingerprint"`
}

func encodeJSON(w io.Writer, rep *aggregate.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Report: rep, Fingerprint: fmt.Sprintf("%016x", rep.Fingerprint())})
}

// JSON writes the full report as indented JSON to a stream.
type JSON struct {
	W io.Writer
}

func (j *JSON) Name() string { return "json" }

func (j *JSON) Write(_ context.Context, rep *aggregate.Report) error {
	return encodeJSON(j.W, rep)
}

// JSONFile writes the full report as JSON to Path.
type JSONFile struct {
	Path string
}

func (j *JSONFile) Name() string { return "json file " + j.Path }

func (j *JSONFile) Write(_ context.Context, rep *aggregate.Report) error {
	return fileutil.WriteTmpThenMove(j.Path, func(tmpPath string) error {
		f, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmpPath, err)
		}
		if err := encodeJSON(f, rep); err != nil {
			f.Close()
			return fmt.Errorf("encode report: %w", err)
		}
		return f.Close()
	})
}
