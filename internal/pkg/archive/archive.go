// Package archive writes cold click evidence to S3-compatible object storage
// (Cloudflare R2 in production, MinIO locally).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// Config holds bucket connection settings
type Config struct {
	Endpoint        string // empty for AWS S3
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// Store uploads archive objects.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates a Store. R2 and MinIO need path-style addressing and an explicit endpoint.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is empty")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.AccessKeySecret,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads one object.
func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to upload %s: %s: %w", key, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Key builds `<prefix>/<kind>/YYYY/MM/DD/<uuid>.jsonl` for the given day.
func (s *Store) Key(kind string, day time.Time) string {
	return ObjectKey(s.prefix, kind, day, uuid.New())
}

// ObjectKey is Key without the random part.
func ObjectKey(prefix, kind string, day time.Time, id uuid.UUID) string {
	day = day.UTC()
	return path.Join(prefix, kind, day.Format("2006"), day.Format("01"), day.Format("02"), id.String()+".jsonl")
}

// EncodeJSONL renders one JSON document per line.
func EncodeJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
