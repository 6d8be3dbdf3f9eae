// Package storage provides the blob stores that hold uploaded invoice files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/invoice"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

// DefaultMaxObjectBytes caps how much of an uploaded file is read.
const DefaultMaxObjectBytes int64 = 10 << 20

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3ObjectStorage implements invoice.ObjectStorage on an S3 bucket. Any
// S3-compatible backend works (AWS, MinIO, LocalStack).
type S3ObjectStorage struct {
	client            s3API
	presign           func(ctx context.Context, in *s3.PutObjectInput, expires time.Duration) (string, error)
	bucket            string
	presignExpiration time.Duration
	maxObjectBytes    int64
	now               func() time.Time
	logger            *zap.Logger
}

// S3ObjectStorageOption is a functional option for configuring S3ObjectStorage
type S3ObjectStorageOption func(*S3ObjectStorage)

// WithLogger sets a custom logger for S3ObjectStorage
func WithLogger(logger *zap.Logger) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) {
		s.logger = logger
	}
}

// WithPresignExpiration sets the expiry used when a caller passes none.
func WithPresignExpiration(d time.Duration) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) {
		s.presignExpiration = d
	}
}

// WithMaxObjectBytes limits the size Get will read.
func WithMaxObjectBytes(n int64) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) {
		s.maxObjectBytes = n
	}
}

// NewS3ObjectStorage creates a store for bucket from an SDK config.
func NewS3ObjectStorage(awsCfg aws.Config, bucket string, usePathStyle bool, opts ...S3ObjectStorageOption) (*S3ObjectStorage, error) {
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})
	presignClient := s3.NewPresignClient(client)
	presign := func(ctx context.Context, in *s3.PutObjectInput, expires time.Duration) (string, error) {
		req, err := presignClient.PresignPutObject(ctx, in, s3.WithPresignExpires(expires))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return newS3ObjectStorage(client, presign, bucket, opts...), nil
}

func newS3ObjectStorage(client s3API, presign func(context.Context, *s3.PutObjectInput, time.Duration) (string, error), bucket string, opts ...S3ObjectStorageOption) *S3ObjectStorage {
	s := &S3ObjectStorage{
		client:         client,
		presign:        presign,
		bucket:         bucket,
		maxObjectBytes: DefaultMaxObjectBytes,
		now:            time.Now,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.presignExpiration == 0 {
		s.presignExpiration = 5 * time.Minute
	}
	return s
}

// EnsureBucket creates the bucket if it doesn't exist. Local stacks call it
// at startup; production buckets are provisioned by the deployment.
func (s *S3ObjectStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating storage bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// GenerateUploadURL presigns a PUT for key valid for expires.
func (s *S3ObjectStorage) GenerateUploadURL(ctx context.Context, key string, expires time.Duration) (invoice.UploadTarget, error) {
	if key == "" {
		return invoice.UploadTarget{}, shared.ErrValidation.Withf("storage key is required")
	}
	if expires <= 0 {
		expires = s.presignExpiration
	}
	url, err := s.presign(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, expires)
	if err != nil {
		return invoice.UploadTarget{}, shared.ErrTransientStore.Wrap(fmt.Errorf("presign upload: %w", err))
	}
	return invoice.UploadTarget{URL: url, Key: key, ExpiresAt: s.now().Add(expires).UTC()}, nil
}

// Get reads the object. Objects larger than the configured limit are rejected.
func (s *S3ObjectStorage) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, shared.ErrNotFound.Withf("object %s not found", key)
		}
		return nil, shared.ErrTransientStore.Wrap(fmt.Errorf("get object %s: %w", key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxObjectBytes+1))
	if err != nil {
		return nil, shared.ErrTransientStore.Wrap(fmt.Errorf("read object %s: %w", key, err))
	}
	if int64(len(data)) > s.maxObjectBytes {
		return nil, shared.ErrValidation.Withf("object %s exceeds %d bytes", key, s.maxObjectBytes)
	}
	return data, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3ObjectStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return shared.ErrTransientStore.Wrap(fmt.Errorf("delete object %s: %w", key, err))
	}
	return nil
}

// Bucket returns the bucket name
func (s *S3ObjectStorage) Bucket() string {
	return s.bucket
}

var _ invoice.ObjectStorage = (*S3ObjectStorage)(nil)
