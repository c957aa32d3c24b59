package s3fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DownloaderConfig configures the S3 download manager.
type DownloaderConfig struct {
	// Concurrency is the number of concurrent download parts.
	// Default: NumCPU clamped to [4, 16].
	Concurrency int

	// PartSize is the size of each download part in bytes. Default: 16MB.
	PartSize int64

	// TempDir is the directory for temporary download files.
	// If empty, os.TempDir() is used.
	TempDir string
}

// DefaultDownloaderConfig returns defaults based on the current machine.
func DefaultDownloaderConfig() DownloaderConfig {
	concurrency := min(max(runtime.NumCPU(), 4), 16)
	return DownloaderConfig{
		Concurrency: concurrency,
		PartSize:    16 * 1024 * 1024,
	}
}

// Downloader wraps the AWS S3 download manager for parallel range downloads.
type Downloader struct {
	manager *manager.Downloader
	config  DownloaderConfig
}

// NewDownloader creates a Downloader from an existing S3 client.
func NewDownloader(s3Client *s3.Client, cfg DownloaderConfig) *Downloader {
	def := DefaultDownloaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(s3Client, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
	})

	return &Downloader{manager: mgr, config: cfg}
}

// Config returns the downloader configuration.
func (d *Downloader) Config() DownloaderConfig {
	return d.config
}

// DownloadResult contains information about a completed download.
type DownloadResult struct {
	BytesDownloaded int64
	Duration        time.Duration
	Concurrency     int
	PartSize        int64
}

// DownloadToTemp downloads an object into a temp file. The returned
// TempObject removes the file on Close.
func (d *Downloader) DownloadToTemp(ctx context.Context, bucket, key string) (*TempObject, *DownloadResult, error) {
	start := time.Now()

	f, err := os.CreateTemp(d.config.TempDir, "vendas-s3-*.tmp")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp file: %w", err)
	}

	n, err := d.manager.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return &TempObject{file: f, path: f.Name(), size: n}, &DownloadResult{
		BytesDownloaded: n,
		Duration:        time.Since(start),
		Concurrency:     d.config.Concurrency,
		PartSize:        d.config.PartSize,
	}, nil
}

// TempObject is a downloaded object backed by a temp file.
type TempObject struct {
	file *os.File
	path string
	size int64
}

// OpenTempObject wraps an existing file that should be removed on Close.
func OpenTempObject(path string) (*TempObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat temp file: %w", err)
	}
	return &TempObject{file: f, path: path, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (t *TempObject) ReadAt(p []byte, off int64) (int, error) {
	n, err := t.file.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read temp file at offset %d: %w", off, err)
	}
	return n, err
}

// Size returns the object length.
func (t *TempObject) Size() int64 {
	return t.size
}

// Close closes and removes the temp file.
func (t *TempObject) Close() error {
	err := t.file.Close()
	os.Remove(t.path)
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}
