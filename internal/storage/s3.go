// Package storage uploads result artifacts to an S3-compatible object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/renderfleet/comfyrelay/internal/config"
)

// Config holds the S3-compatible endpoint settings.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// ConfigFrom extracts storage settings from the process configuration.
func ConfigFrom(cfg config.Config) Config {
	bucket := cfg.BucketName
	if bucket == "" {
		bucket = config.DefaultBucket
	}
	return Config{
		EndpointURL:     cfg.BucketEndpointURL,
		AccessKeyID:     cfg.BucketAccessKeyID,
		SecretAccessKey: cfg.BucketSecretAccessKey,
		Bucket:          bucket,
	}
}

// Configured reports whether all required settings are present. The bucket
// name is optional; endpoint and both credentials are not.
func (c Config) Configured() bool {
	return c.EndpointURL != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Store is an S3-compatible object store client.
type Store struct {
	client *s3.Client
	cfg    Config
	logger *slog.Logger
}

// New builds a store from configuration. Returns an error when required
// settings are missing.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("s3 storage is not configured")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = config.DefaultBucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		awsconfig.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.EndpointURL)
		// Path-style addressing works across MinIO, R2 and the rest of the
		// S3-compatible services we deploy against.
		o.UsePathStyle = true
	})

	logger.Info("s3 client created", "endpoint", cfg.EndpointURL, "bucket", cfg.Bucket)

	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.cfg.Bucket }

// PutObject uploads bytes under key and returns the public URL.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	url := s.PublicURL(key)
	s.logger.Info("uploaded object", "key", key, "url", url)
	return url, nil
}

// UploadFile uploads a local file under key, defaulting key to the file's
// base name, and returns the public URL.
func (s *Store) UploadFile(ctx context.Context, path, key string) (string, error) {
	if key == "" {
		key = filepath.Base(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	return s.PutObject(ctx, key, data, "")
}

// PublicURL synthesizes the externally reachable URL for a stored object:
// endpoint/bucket/key.
func (s *Store) PublicURL(key string) string {
	endpoint := strings.TrimRight(s.cfg.EndpointURL, "/")
	return fmt.Sprintf("%s/%s/%s", endpoint, s.cfg.Bucket, key)
}
