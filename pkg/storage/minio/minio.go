package minio

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/faeln1/go-whatsapp-council/pkg/storage"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
	// Prefix namespaces every key, e.g. "council".
	Prefix string
}

type Client struct {
	core      *minio.Client
	bucket    string
	publicURL string
	prefix    string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio: endpoint and bucket are required")
	}
	core, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	if err := ensureBucket(ctx, core, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}

	return &Client{
		core:      core,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (c *Client) key(k string) string {
	k = strings.TrimLeft(k, "/")
	if c.prefix == "" {
		return k
	}
	return path.Join(c.prefix, k)
}

// PutObject overwrites the object at in.Key; snapshots keep a stable URL.
func (c *Client) PutObject(ctx context.Context, in storage.UploadInput) (string, error) {
	key := c.key(in.Key)
	opts := minio.PutObjectOptions{ContentType: in.ContentType, CacheControl: in.CacheControl}
	if _, err := c.core.PutObject(ctx, c.bucket, key, in.Body, in.Size, opts); err != nil {
		return "", err
	}
	return c.objectURL(key), nil
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	return c.core.RemoveObject(ctx, c.bucket, c.key(key), minio.RemoveObjectOptions{})
}

func (c *Client) objectURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(c.publicURL, "/"), key)
	}
	if endpoint := c.core.EndpointURL(); endpoint != nil {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint.String(), "/"), c.bucket, key)
	}
	return fmt.Sprintf("/%s/%s", c.bucket, key)
}

var _ storage.Service = (*Client)(nil)
