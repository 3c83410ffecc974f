package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/cascade-labs/cascade-go/internal/platform/objectstore"
)

// ObjectStoreLister counts artifacts under a prefix in the artifact bucket.
type ObjectStoreLister struct {
	client *minio.Client
	bucket string
}

func NewObjectStoreLister(client *minio.Client, bucket string) (*ObjectStoreLister, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectStoreLister{client: client, bucket: bucket}, nil
}

func (l *ObjectStoreLister) Count(ctx context.Context, prefix string) (int, error) {
	return objectstore.CountObjects(ctx, l.client, l.bucket, prefix)
}
