package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// DefaultEndpoint is used when no endpoint is configured
const DefaultEndpoint = "s3.amazonaws.com"

// statConcurrency bounds metadata lookups for objects listed without it
const statConcurrency = 8

// Config holds the connection settings of an S3 compatible store
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// S3 implements Store on an S3 compatible bucket
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3 creates a client for the configured bucket. Without static keys the
// credentials come from the AWS and MinIO environment variables or the shared
// AWS credentials file.
func NewS3(cfg Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket configured")
	}

	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &S3{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// parseEndpoint accepts either a bare host[:port] or a URL; a URL scheme
// overrides useSSL.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	if raw == "" {
		return DefaultEndpoint, true, nil
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), useSSL, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid S3 endpoint %q: %w", raw, err)
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") {
		return "", false, fmt.Errorf("invalid S3 endpoint %q: expected scheme://host[:port]", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("invalid S3 endpoint %q: unsupported scheme %s", raw, u.Scheme)
	}
}

// Bucket returns the target bucket name
func (s *S3) Bucket() string {
	return s.bucket
}

// Ping verifies the bucket is reachable with the configured credentials
func (s *S3) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// List returns all objects under prefix. Objects whose listing entry lacks
// the fingerprint metadata are looked up individually.
func (s *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	opts := minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}

	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		objects = append(objects, Object{
			Key:         info.Key,
			Size:        info.Size,
			Fingerprint: lookupFingerprint(info.UserMetadata),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)
	for i := range objects {
		if objects[i].Fingerprint != "" {
			continue
		}
		obj := &objects[i]
		g.Go(func() error {
			st, err := s.client.StatObject(gctx, s.bucket, obj.Key, minio.StatObjectOptions{})
			if err != nil {
				return fmt.Errorf("failed to stat s3://%s/%s: %w", s.bucket, obj.Key, err)
			}
			obj.Fingerprint = lookupFingerprint(st.UserMetadata)
			if obj.Fingerprint == "" {
				s.logger.Debug("remote object has no fingerprint", "key", obj.Key)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return objects, nil
}

// Put uploads an object and records its fingerprint as user metadata
func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
	}
	if opts.Fingerprint != "" {
		putOpts.UserMetadata = map[string]string{FingerprintKey: opts.Fingerprint}
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, putOpts); err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
