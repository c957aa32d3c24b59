package s3fetch

import (
	"errors"
	"strings"
)

// IsS3URI reports whether path names an S3 object.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseS3URI parses an S3 URI (s3://bucket/key) into bucket and key components.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", errors.New("invalid S3 URI: missing object key")
	}

	return parts[0], parts[1], nil
}
