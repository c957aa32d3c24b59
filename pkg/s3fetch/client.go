// Package s3fetch reads sales inputs stored in S3.
//
// CSV inputs are streamed straight from GetObject. Parquet inputs need random
// access, so they are fetched with the S3 download manager into a temp file.
package s3fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client provides the S3 operations used by the row source.
type Client struct {
	s3Client   *s3.Client
	downloader *Downloader
}

// NewClient creates a new S3 client using default AWS configuration.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(cfg), nil
}

// NewClientWithConfig creates a new S3 client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config) *Client {
	s3Client := s3.NewFromConfig(cfg)
	return &Client{
		s3Client:   s3Client,
		downloader: NewDownloader(s3Client, DefaultDownloaderConfig()),
	}
}

// Object is a streaming S3 object body.
type Object struct {
	Body io.ReadCloser
	// Size is the object length in bytes, or -1 if S3 did not report it.
	Size int64
}

// StreamObject opens an S3 object for sequential reading.
func (c *Client) StreamObject(ctx context.Context, bucket, key string) (*Object, error) {
	resp, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}

	size := int64(-1)
	if resp.ContentLength != nil {
		size = aws.ToInt64(resp.ContentLength)
	}
	return &Object{Body: resp.Body, Size: size}, nil
}

// ObjectSize returns the length of an S3 object without downloading it.
func (c *Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	resp, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object s3://%s/%s: %w", bucket, key, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

// Download fetches an object into a temp file for random access.
func (c *Client) Download(ctx context.Context, bucket, key string) (*TempObject, *DownloadResult, error) {
	return c.downloader.DownloadToTemp(ctx, bucket, key)
}
