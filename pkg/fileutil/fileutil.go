// Package fileutil writes output files with tmp+mv semantics so a crashed
// run never leaves a half-written report behind.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/vendas-agg/pkg/logging"
)

// TmpSuffix marks in-progress files.
const TmpSuffix = ".tmp"

// IsNonEmpty returns true if the file exists and has non-zero size.
func IsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// WriteTmpThenMove writes to a temporary file next to outPath, then
// renames it into place. The writeFunc receives the temporary path and
// should write the complete file.
func WriteTmpThenMove(outPath string, writeFunc func(tmpPath string) error) error {
	outDir := filepath.Dir(outPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + TmpSuffix

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

// syncFile opens, syncs, and closes a file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// CleanupTmpFiles removes leftover .tmp files directly inside dir.
func CleanupTmpFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	var removed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TmpSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.L().Debug().Int("files_removed", removed).Str("dir", dir).Msg("cleaned up tmp files")
	}
	return nil
}
