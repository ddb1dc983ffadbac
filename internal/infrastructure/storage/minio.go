package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

// headerACL is sent verbatim by minio-go instead of being prefixed as user metadata.
const headerACL = "x-amz-acl"

// objectReader abstracts minio.Object for testability.
// *minio.Object satisfies this interface.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient defines the interface for MinIO operations.
// This abstraction allows for easier unit testing with mocks.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// minioClientAdapter wraps *minio.Client to implement minioClient interface.
// This is necessary because *minio.Client.GetObject returns *minio.Object,
// but our interface returns objectReader for testability.
type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	return a.client.PresignedGetObject(ctx, bucketName, objectName, expiry, reqParams)
}

func (a *minioClientAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (a *minioClientAdapter) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.FPutObject(ctx, bucketName, objectName, filePath, opts)
}

func (a *minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	return a.client.FGetObject(ctx, bucketName, objectName, filePath, opts)
}

func (a *minioClientAdapter) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	return a.client.CopyObject(ctx, dst, src)
}

func (a *minioClientAdapter) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return a.client.RemoveObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.client.StatObject(ctx, bucketName, objectName, opts)
}

// ClientConfig holds configuration for the storage client.
type ClientConfig struct {
	// Endpoint is host[:port] of the S3 API for object I/O.
	Endpoint string
	// EndpointURL is scheme://host[:port] of the S3 API. Endpoint URLs carry
	// the bucket in the path. Also used by the ACL/listing client.
	EndpointURL string
	// PublicHost is the CDN base URL objects are served from.
	PublicHost string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	// MaxRetries bounds retries of transient object I/O failures.
	MaxRetries int
}

// Client implements repository.ObjectStorage. Object I/O goes through
// minio-go; ACLs and listing go through the AWS SDK client, which signs
// those requests the way stricter S3-compatible stores expect.
type Client struct {
	client     minioClient
	s3         s3API
	bucket     string
	publicHost string
	endpoint   *url.URL
	retry      failsafe.Executor[any]
}

var _ repository.ObjectStorage = (*Client)(nil)

// NewClient creates the storage client.
// It verifies the bucket exists during initialization to fail fast on misconfiguration.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return newClientWithMinioClient(ctx, &minioClientAdapter{client: client}, s3Client, cfg)
}

// newClientWithMinioClient creates a Client with given SDK implementations.
// This is used for dependency injection in tests.
func newClientWithMinioClient(ctx context.Context, client minioClient, s3 s3API, cfg ClientConfig) (*Client, error) {
	endpoint, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url %q: %w", cfg.EndpointURL, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, cfg.Bucket)
	}

	return &Client{
		client:     client,
		s3:         s3,
		bucket:     cfg.Bucket,
		publicHost: strings.TrimRight(cfg.PublicHost, "/"),
		endpoint:   endpoint,
		retry:      newRetryExecutor(cfg.MaxRetries),
	}, nil
}

// Head returns object metadata, or nil when the object does not exist.
func (c *Client) Head(ctx context.Context, key string) (*model.ObjectHead, error) {
	var info minio.ObjectInfo
	err := c.do(ctx, func() error {
		var err error
		info, err = c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
		return mapMinioError(err)
	})
	if errors.Is(err, repository.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return &model.ObjectHead{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		UserMetadata: map[string]string(info.UserMetadata),
	}, nil
}

// GetText reads a small object into memory.
func (c *Client) GetText(ctx context.Context, key string) (string, error) {
	b, err := c.read(ctx, key, minio.GetObjectOptions{}, -1)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadHead returns up to n leading bytes of the object.
func (c *Client) ReadHead(ctx context.Context, key string, n int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(0, n-1); err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}
	return c.read(ctx, key, opts, n)
}

func (c *Client) read(ctx context.Context, key string, opts minio.GetObjectOptions, limit int64) ([]byte, error) {
	var body []byte
	err := c.do(ctx, func() error {
		obj, err := c.client.GetObject(ctx, c.bucket, key, opts)
		if err != nil {
			return mapMinioError(err)
		}
		defer obj.Close()

		var r io.Reader = obj
		if limit > 0 {
			r = io.LimitReader(obj, limit)
		}
		body, err = io.ReadAll(r)
		return mapMinioError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return body, nil
}

// PutText stores body at key with ACL public-read.
func (c *Client) PutText(ctx context.Context, key, body, contentType string) error {
	err := c.do(ctx, func() error {
		_, err := c.client.PutObject(ctx, c.bucket, key, strings.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{headerACL: model.ACLPublicRead},
		})
		return mapMinioError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// UploadFile stores the local file at path under key.
func (c *Client) UploadFile(ctx context.Context, key, path string, opts repository.PutOptions) error {
	err := c.do(ctx, func() error {
		_, err := c.client.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{
			ContentType:  opts.ContentType,
			UserMetadata: withACL(opts.UserMetadata, opts.ACL),
		})
		return mapMinioError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// DownloadFile writes the object to path.
func (c *Client) DownloadFile(ctx context.Context, key, path string) error {
	err := c.do(ctx, func() error {
		return mapMinioError(c.client.FGetObject(ctx, c.bucket, key, path, minio.GetObjectOptions{}))
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return nil
}

// Copy copies src to dst with the metadata REPLACE directive. The content
// type and ACL travel as headers alongside the user metadata.
func (c *Client) Copy(ctx context.Context, src, dst string, opts repository.PutOptions) error {
	meta := withACL(opts.UserMetadata, opts.ACL)
	if opts.ContentType != "" {
		meta["Content-Type"] = opts.ContentType
	}

	err := c.do(ctx, func() error {
		_, err := c.client.CopyObject(ctx,
			minio.CopyDestOptions{
				Bucket:          c.bucket,
				Object:          dst,
				ReplaceMetadata: true,
				UserMetadata:    meta,
			},
			minio.CopySrcOptions{Bucket: c.bucket, Object: src},
		)
		return mapMinioError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes an object from the storage.
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// PresignedGet creates a presigned URL for downloading an object.
func (c *Client) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presignedURL, err := c.client.PresignedGetObject(ctx, c.bucket, key, ttl, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return presignedURL.String(), nil
}

// Ping verifies the connection is alive by checking bucket access.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to ping storage: %w", err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) do(ctx context.Context, fn func() error) error {
	return c.retry.WithContext(ctx).Run(fn)
}

func withACL(meta map[string]string, acl string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if acl != "" {
		out[headerACL] = acl
	}
	return out
}

func mapMinioError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == 404:
		return fmt.Errorf("%w: %s", repository.ErrObjectNotFound, err)
	case resp.Code == "AccessDenied" || resp.StatusCode == 403:
		return fmt.Errorf("%w: %s", repository.ErrAccessDenied, err)
	}
	return err
}
