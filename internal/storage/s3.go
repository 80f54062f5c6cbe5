// Package storage implements the blob-store contract (fetch/put) used
// by every other component: an S3-compatible client pointed at
// Cloudflare R2, adapted from this codebase's existing object-storage
// client.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Fetch when a key does not exist; callers
// decide whether a missing object is fatal.
var ErrNotFound = errors.New("object not found")

// ObjectMeta describes a successfully stored object.
type ObjectMeta struct {
	Key         string
	Bytes       int
	SHA256      string
	ContentType string
}

// Client wraps an S3-compatible object store (Cloudflare R2) with the
// adaptive-backoff retry policy for blob fetch/put.
type Client struct {
	s3Client   *s3.Client
	bucket     string
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a blob-store client. endpoint/accessKey/secretKey
// are required; an empty endpoint falls back to AWS's default resolver
// (useful for a plain S3 bucket in tests).
func NewClient(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, maxRetries int, retryDelay time.Duration) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		configOpts = append(configOpts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// Path-style addressing and relaxed checksum handling: R2 does not
	// fully implement the newer SDK default of mandatory CRC32 request
	// checksums and response validation.
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	log.Info().Str("endpoint", endpoint).Str("bucket", bucket).Msg("blob store client initialized")

	return &Client{
		s3Client:   s3Client,
		bucket:     bucket,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// shouldRetry reports whether a blob-store error is worth retrying:
// connection failures and 5xx/429/slow-down responses, matching
// R2Client._should_retry in the source worker.
func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code >= 500 || code == 429
	}
	// Anything else surfaced this deep is typically a transport-level
	// failure (connection reset, timeout) — worth one more try.
	return true
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt >= c.maxRetries || !shouldRetry(lastErr) {
			return lastErr
		}
		wait := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt)))
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("wait", wait).Msg("blob store operation failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// Fetch downloads an object and returns its bytes. Returns ErrNotFound
// if the key does not exist.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, func() error {
		result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *s3.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return ErrNotFound
			}
			return fmt.Errorf("get object: %w", err)
		}
		defer result.Body.Close()
		data, err = io.ReadAll(result.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// FetchText is a convenience wrapper over Fetch for UTF-8 text assets.
func (c *Client) FetchText(ctx context.Context, key string) (string, error) {
	data, err := c.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Put uploads data to the blob store and returns its metadata.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (ObjectMeta, error) {
	err := c.retry(ctx, func() error {
		_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		return err
	})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("put object %s: %w", key, err)
	}

	sum := sha256.Sum256(data)
	log.Info().Str("key", key).Int("bytes", len(data)).Msg("uploaded to blob store")
	return ObjectMeta{
		Key:         key,
		Bytes:       len(data),
		SHA256:      hex.EncodeToString(sum[:]),
		ContentType: contentType,
	}, nil
}

// PutText uploads a UTF-8 text object.
func (c *Client) PutText(ctx context.Context, key, text string) (ObjectMeta, error) {
	return c.Put(ctx, key, []byte(text), "text/plain; charset=utf-8")
}

// Exists reports whether a key is present in the store.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.retry(ctx, func() error {
		_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *s3.NotFound
			if errors.As(err, &notFound) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}
