package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrObjectNotFound is returned by Get when the object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Location addresses one object as bucket + key. Its string form is an
// s3://bucket/key URI regardless of the backing store.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParseLocation parses an s3://bucket/key URI.
func ParseLocation(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "s3://") {
		return Location{}, fmt.Errorf("storage: invalid location %q: must start with s3://", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(key, "/") == "" {
		return Location{}, fmt.Errorf("storage: invalid location %q: bucket and key required", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// ObjectStore is the durable store used for async job handoff.
type ObjectStore interface {
	Put(ctx context.Context, loc Location, data []byte, contentType string) error
	Get(ctx context.Context, loc Location) ([]byte, error)
	Exists(ctx context.Context, loc Location) (bool, error)
	Delete(ctx context.Context, loc Location) error
}
