// Package s3store implements storage.Client on Amazon S3 and S3 compatible services.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-utils/v2/log"
)

const partSizeMB = 10

// Params ...
type Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint points the client to an S3 compatible service. Path style addressing is
	// used when it is set.
	Endpoint string
}

// API is the subset of the S3 client the store uses.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	manager.UploadAPIClient
}

// Store ...
type Store struct {
	client   API
	region   string
	uploader *manager.Uploader
	logger   log.Logger
}

// New loads the AWS configuration and creates a Store.
func New(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, params.Region, logger), nil
}

// NewWithClient creates a Store on top of an existing client.
func NewWithClient(client API, region string, logger log.Logger) *Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSizeMB * 1024 * 1024
	})
	return &Store{
		client:   client,
		region:   region,
		uploader: uploader,
		logger:   logger,
	}
}

// ContainerExists ...
func (s *Store) ContainerExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &storage.TransportError{Op: "head bucket", Container: bucket, Err: err}
	}
	return true, nil
}

// CreateContainer ...
func (s *Store) CreateContainer(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return &storage.TransportError{Op: "create bucket", Container: bucket, Err: err}
	}
	return nil
}

// Exists ...
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &storage.TransportError{Op: "head object", Container: bucket, Key: key, Err: err}
	}
	return true, nil
}

// Put ...
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	s.logger.Debugf("Uploading %d bytes to s3://%s/%s", size, bucket, key)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Body:          body,
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return &storage.TransportError{Op: "put object", Container: bucket, Key: key, Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return false
	}
	switch apiError.(type) {
	case *types.NotFound, *types.NoSuchKey, *types.NoSuchBucket:
		return true
	}
	switch apiError.ErrorCode() {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("Using static aws credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
