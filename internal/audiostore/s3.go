package audiostore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nadzzz/agrivoice/internal/config"
)

// S3API is the subset of the S3 client used by S3.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores audio in a bucket. URLs use PublicBaseURL when set, otherwise a
// presigned GET valid for PresignTTL.
type S3 struct {
	client     S3API
	presign    *s3.PresignClient
	bucket     string
	prefix     string
	publicBase string
	ttl        time.Duration
}

// NewS3 wraps an existing client.
func NewS3(client *s3.Client, cfg config.S3AudioConfig) *S3 {
	return newS3(client, s3.NewPresignClient(client), cfg)
}

func newS3(client S3API, presign *s3.PresignClient, cfg config.S3AudioConfig) *S3 {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &S3{
		client:     client,
		presign:    presign,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:        ttl,
	}
}

// NewS3FromConfig loads AWS credentials from the environment.
func NewS3FromConfig(ctx context.Context, cfg config.S3AudioConfig) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("audiostore: failed to load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(awsCfg), cfg), nil
}

// Put uploads the clip and returns its URL.
func (s *S3) Put(ctx context.Context, key, ext, contentType string, data []byte) (string, error) {
	objectKey := s.prefix + key + ext
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=86400"),
	})
	if err != nil {
		return "", fmt.Errorf("audiostore: s3 put %s: %w", objectKey, err)
	}

	if s.publicBase != "" {
		return s.publicBase + "/" + objectKey, nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("audiostore: presign %s: %w", objectKey, err)
	}
	slog.Debug("audio uploaded", "bucket", s.bucket, "key", objectKey)
	return req.URL, nil
}

// Check confirms the bucket is reachable.
func (s *S3) Check(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
