package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"document-generation-service/internal/config"
	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/ports/adapter"
)

var _ adapter.ArtifactStore = (*S3Store)(nil)

// S3Store publishes artifacts to an S3-compatible bucket. outputRef is the
// s3:// URL of the stored object.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

func NewS3Store(cfg *config.StoreConfig) (*S3Store, error) {
	s3cfg := cfg.S3
	if s3cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}
	if s3cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: s3cfg.Endpoint}, nil
			})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    s3cfg.Bucket,
		keyPrefix: s3cfg.KeyPrefix,
	}, nil
}

func (s *S3Store) Publish(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error) {
	key := path.Join(s.keyPrefix, time.Now().UTC().Format("2006/01/02"), meta.CorrelationID, meta.Filename)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(meta.ContentType),
		Metadata: map[string]string{
			"template-id":    meta.TemplateID,
			"correlation-id": meta.CorrelationID,
		},
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
