package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/IshaanNene/templatescout/internal/config"
)

// S3Store writes assets to an S3 bucket.
type S3Store struct {
	client *s3.Client
	cfg    config.S3Config
	logger *slog.Logger
}

// NewS3Store connects an S3 client. Static credentials are used when an
// access key is configured; otherwise the default AWS chain applies.
func NewS3Store(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*S3Store, error) {
	logger = logger.With("component", "s3_store")

	opts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsCfg.WithCredentialsProvider(
			crd.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.BaseEndpoint != "" {
		opts = append(opts, awsCfg.WithBaseEndpoint(cfg.BaseEndpoint))
	}

	awsConfig, err := awsCfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	// LocalStack and MinIO need path-style addressing.
	pathStyle := cfg.PathStyle || cfg.AccessKey == "test"
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
	cfg.PathStyle = pathStyle

	logger.Info("s3 store ready", "bucket", cfg.Bucket, "path_style", pathStyle)
	return &S3Store{client: client, cfg: cfg, logger: logger}, nil
}

func (s *S3Store) Name() string { return "s3" }

// Put uploads data and returns its object URL.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.cfg.KeyPrefix != "" {
		k = strings.Trim(s.cfg.KeyPrefix, "/") + "/" + k
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(k),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put %s: %w", k, err)
	}

	s.logger.Debug("asset uploaded", "key", k, "bytes", len(data))
	return objectURL(s.cfg, k), nil
}

// objectURL builds the public URL of an object.
func objectURL(cfg config.S3Config, key string) string {
	if cfg.BaseEndpoint != "" && cfg.PathStyle {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.BaseEndpoint, "/"), cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", cfg.Bucket, cfg.Region, key)
}
