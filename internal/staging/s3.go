package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	Register("s3", newS3Bucket)
}

// s3Bucket stages exports in any S3 compatible store (AWS S3, MinIO).
type s3Bucket struct {
	client *minio.Client
	bucket string
}

func newS3Bucket(_ context.Context, cfg Config) (Bucket, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("staging s3: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("staging s3: bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("staging s3: credentials are required (S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY)")
	}

	host, secure := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		host = u.Host
		secure = secure || u.Scheme == "https"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("staging s3: %w", err)
	}
	return &s3Bucket{client: client, bucket: cfg.Bucket}, nil
}

func (b *s3Bucket) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if size <= 0 {
		size = -1
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType(key)})
	return err
}

func (b *s3Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key now.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	return obj, nil
}

func (b *s3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (b *s3Bucket) Location(key string) string {
	return "s3://" + b.bucket + "/" + key
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
