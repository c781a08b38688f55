// Package signer issues short-lived presigned URLs for attachment objects
// stored in S3-compatible object storage. Attachment rows only carry the
// storage key; every URL handed to a client is minted on demand so nothing
// long-lived ever leaves the server.
package signer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ratemate/ratemate-go/internal/logging"
)

// DefaultExpiry is how long a presigned attachment URL stays valid.
const DefaultExpiry = 15 * time.Minute

// Config holds the object storage connection settings.
type Config struct {
	// Region is the bucket region.
	Region string
	// Endpoint overrides the AWS endpoint, for S3-compatible stores.
	Endpoint string
	// Bucket is the bucket holding attachment objects.
	Bucket string
	// AccessKey and SecretKey are static credentials.
	AccessKey string
	SecretKey string
	// Expiry is the presigned URL lifetime. Zero means DefaultExpiry.
	Expiry time.Duration
}

// presigner is the slice of the S3 presign client the signer uses.
// It exists so tests can substitute a fake.
type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Signer mints presigned GET URLs for objects in a single bucket.
type S3Signer struct {
	presign presigner
	bucket  string
	expiry  time.Duration
}

// New builds an S3Signer from config.
func New(cfg Config) (*S3Signer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("signer: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("signer: access key and secret key are required")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		// Strip a trailing bucket path so path-style addressing does not double it.
		endpoint := strings.TrimSuffix(cfg.Endpoint, "/"+cfg.Bucket)
		opts.BaseEndpoint = aws.String(endpoint)
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	return &S3Signer{
		presign: s3.NewPresignClient(s3.New(opts)),
		bucket:  cfg.Bucket,
		expiry:  expiry,
	}, nil
}

// URL returns a presigned GET URL for the object at key.
func (s *S3Signer) URL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("signer: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// URLs presigns a batch of keys best-effort. Keys that fail to sign are
// logged and absent from the result, so one bad key does not take down a
// whole response.
func (s *S3Signer) URLs(ctx context.Context, keys []string) map[string]string {
	log := logging.FromContext(ctx)
	urls := make(map[string]string, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		u, err := s.URL(ctx, key)
		if err != nil {
			log.Warn("signer: could not presign attachment", slog.String("key", key), slog.Any("error", err))
			continue
		}
		urls[key] = u
	}
	return urls
}
