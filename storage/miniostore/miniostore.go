// Package miniostore implements storage.Client with the MinIO client.
package miniostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Params ...
type Params struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Store ...
type Store struct {
	client *minio.Client
	region string
	logger log.Logger
}

// New creates a Store. No request is sent until the first call.
func New(params Params, logger log.Logger) (*Store, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}

	client, err := minio.New(params.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params.AccessKey, params.SecretKey, ""),
		Secure: params.UseSSL,
		Region: params.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Store{client: client, region: params.Region, logger: logger}, nil
}

// ContainerExists ...
func (s *Store) ContainerExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, &storage.TransportError{Op: "bucket exists", Container: bucket, Err: err}
	}
	return exists, nil
}

// CreateContainer ...
func (s *Store) CreateContainer(ctx context.Context, bucket string) error {
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return &storage.TransportError{Op: "make bucket", Container: bucket, Err: err}
	}
	return nil
}

// Exists ...
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &storage.TransportError{Op: "stat object", Container: bucket, Key: key, Err: err}
	}
	return true, nil
}

// Put ...
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return &storage.TransportError{Op: "put object", Container: bucket, Key: key, Err: err}
	}
	s.logger.Debugf("Uploaded %s/%s (etag %s)", bucket, key, info.ETag)
	return nil
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound || errResp.Code == "NoSuchKey"
	}
	return false
}
