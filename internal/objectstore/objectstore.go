// Package objectstore reads and publishes catalog files on an S3 compatible
// bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pbaille/dramabot/internal/config"
)

// Objects is the raw object API a Client works on
type Objects interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

type minioObjects struct {
	api *minio.Client
}

func (m minioObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func (m minioObjects) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := m.api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv; charset=utf-8",
	})
	return err
}

// Client is a bucket-bound object store client
type Client struct {
	objects  Objects
	bucket   string
	maxBytes int64
}

// New creates a client from the S3 section of the configuration
func New(cfg config.S3Config, maxBytes int64) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return NewWithObjects(minioObjects{api: api}, cfg.Bucket, maxBytes), nil
}

// NewWithObjects creates a client over any Objects implementation.
// maxBytes 0 disables the download limit.
func NewWithObjects(objects Objects, bucket string, maxBytes int64) *Client {
	return &Client{objects: objects, bucket: bucket, maxBytes: maxBytes}
}

// Bucket returns the default bucket
func (c *Client) Bucket() string {
	return c.bucket
}

// ParseRef splits s3://bucket/key. A reference without a bucket
// (s3:///key) uses the default bucket.
func (c *Client) ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 reference: %s", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		bucket = c.bucket
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference needs a bucket and a key: %s", ref)
	}
	return bucket, key, nil
}

// Fetch downloads the object behind an s3://bucket/key reference
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := c.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, bucket, key)
}

// Download reads a whole object
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.objects.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	var r io.Reader = obj
	if c.maxBytes > 0 {
		r = io.LimitReader(obj, c.maxBytes+1)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	if c.maxBytes > 0 && int64(buf.Len()) > c.maxBytes {
		return nil, fmt.Errorf("object %s/%s is larger than %d bytes", bucket, key, c.maxBytes)
	}
	return buf.Bytes(), nil
}

// Upload writes data to key in the default bucket and returns its reference
func (c *Client) Upload(ctx context.Context, key string, data []byte) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if err := c.objects.Put(ctx, c.bucket, key, data); err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", c.bucket, key, err)
	}
	return "s3://" + c.bucket + "/" + key, nil
}
