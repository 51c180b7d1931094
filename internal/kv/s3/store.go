// Package s3 provides a kv.Backend on S3-compatible object storage (AWS S3 or
// MinIO).
//
// A database maps to a bucket named BucketPrefix+database, created on first
// Open if missing. A store is the key prefix "<store>/"; stores exist
// implicitly, so creating one costs nothing. Values are object bodies.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/roach88/normstore/internal/kv"
)

var _ kv.Backend = (*Backend)(nil)

// Config holds construction parameters. Empty credentials fall back to the
// default AWS credentials chain.
type Config struct {
	Region          string
	Endpoint        string // optional; set for MinIO and other S3-compatible servers
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	BucketPrefix    string
}

// Backend stores records as objects.
//
// Thread-safety: safe for concurrent use.
type Backend struct {
	client *s3.Client
	prefix string

	mu      sync.Mutex
	buckets map[string]bool // buckets known to exist
	closed  bool
}

// New creates a backend from cfg. No request is made until Open.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.BucketPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucketPrefix string) *Backend {
	return &Backend{
		client:  client,
		prefix:  bucketPrefix,
		buckets: make(map[string]bool),
	}
}

// Bucket returns the bucket used for a database name.
func (b *Backend) Bucket(database string) string {
	return b.prefix + kv.CanonicalKey(database)
}

// Open ensures the database's bucket exists.
func (b *Backend) Open(ctx context.Context, database, store string) (kv.Handle, error) {
	if err := kv.ValidateNames(database, store); err != nil {
		return nil, err
	}
	if strings.Contains(store, "/") {
		return nil, fmt.Errorf("s3: store name %q must not contain '/'", store)
	}
	bucket := b.Bucket(database)

	b.mu.Lock()
	closed, known := b.closed, b.buckets[bucket]
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("s3: backend closed")
	}
	if !known {
		if err := b.ensureBucket(ctx, bucket); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.buckets[bucket] = true
		b.mu.Unlock()
	}
	return &handle{client: b.client, bucket: bucket}, nil
}

func (b *Backend) ensureBucket(ctx context.Context, bucket string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket}); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Close marks the backend closed. The HTTP client holds no resources that
// need releasing.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type handle struct {
	client *s3.Client
	bucket string
}

func objectKey(store, key string) string {
	return kv.CanonicalKey(store) + "/" + kv.CanonicalKey(key)
}

func (h *handle) Get(ctx context.Context, store, key string) ([]byte, error) {
	k := objectKey(store, key)
	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &h.bucket, Key: &k})
	if err != nil {
		if isNotFound(err) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", store, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", store, key, err)
	}
	return data, nil
}

func (h *handle) Put(ctx context.Context, store, key string, value []byte) error {
	k := objectKey(store, key)
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &h.bucket,
		Key:           &k,
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", store, key, err)
	}
	return nil
}

func (h *handle) Delete(ctx context.Context, store, key string) error {
	k := objectKey(store, key)
	if _, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &h.bucket, Key: &k}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", store, key, err)
	}
	return nil
}

// Iterate lists the store's keys, then fetches and visits each object in key
// order. Objects deleted between listing and fetching are skipped.
func (h *handle) Iterate(ctx context.Context, store string, fn func(kv.Entry) error) error {
	keys, err := h.list(ctx, kv.CanonicalKey(store)+"/")
	if err != nil {
		return fmt.Errorf("list %s: %w", store, err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := h.Get(ctx, store, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(kv.Entry{Key: key, Value: value}); err != nil {
			return err
		}
	}
	return nil
}

// list returns every key under prefix with the prefix removed, sorted.
func (h *handle) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := h.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &h.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

// isNotFound reports whether err means the bucket or object does not exist.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
