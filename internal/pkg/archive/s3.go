package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	appconfig "github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// S3Store writes archive objects to an S3-compatible bucket
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates the S3 client and checks that the bucket is reachable
func NewS3Store(ctx context.Context, cfg appconfig.ArchiveConfig) (*S3Store, error) {
	if !cfg.Enabled {
		return nil, errors.New("S3 archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible providers (MinIO, B2) need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	store := &S3Store{client: client, bucket: cfg.BucketName}
	if err := store.checkBucket(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Successfully initialized S3 client for bucket: %s", cfg.BucketName)
	return store, nil
}

func (s *S3Store) checkBucket(ctx context.Context, cfg appconfig.ArchiveConfig) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !env.IsDev() {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}

	log.Warnf("[Archive] Bucket %s not found, attempting to create it", s.bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 and custom endpoints reject a location constraint
	if cfg.EndpointURL == "" && cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(cfg.Region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	log.Infof("[Archive] Successfully created bucket: %s", s.bucket)
	return nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
