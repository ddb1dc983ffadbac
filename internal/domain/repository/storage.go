package repository

import (
	"context"
	"time"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
)

// PutOptions configures an upload.
type PutOptions struct {
	ContentType  string
	ACL          string
	UserMetadata map[string]string
}

// ListPage is one page of a v2 listing.
type ListPage struct {
	Objects               []ObjectInfo
	IsTruncated           bool
	NextContinuationToken string
}

// ObjectStorage defines the object store operations the pipeline uses.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
type ObjectStorage interface {
	// PublicURL returns the CDN URL of key.
	PublicURL(key string) string

	// KeyFromURLOrKey accepts a bare key, a CDN URL, or an endpoint URL
	// (bucket in path) and returns the decoded bare key.
	KeyFromURLOrKey(input string) (string, error)

	// Head returns object metadata, or (nil, nil) when the object does not exist.
	Head(ctx context.Context, key string) (*model.ObjectHead, error)

	// GetText reads a small object (playlists) into memory.
	GetText(ctx context.Context, key string) (string, error)

	// ReadHead returns up to n leading bytes of the object.
	ReadHead(ctx context.Context, key string, n int64) ([]byte, error)

	// PutText stores body at key with ACL public-read.
	PutText(ctx context.Context, key, body, contentType string) error

	// UploadFile stores the local file at path under key.
	UploadFile(ctx context.Context, key, path string, opts PutOptions) error

	// DownloadFile writes the object to the local path.
	DownloadFile(ctx context.Context, key, path string) error

	// Copy copies src to dst replacing metadata. src == dst is a copy-in-place.
	Copy(ctx context.Context, src, dst string, opts PutOptions) error

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// IsPublicRead reports whether the AllUsers principal may read key.
	// Returns ErrACLUnsupported or ErrAccessDenied when that cannot be determined.
	IsPublicRead(ctx context.Context, key string) (bool, error)

	// PutACL applies a canned ACL to key.
	PutACL(ctx context.Context, key, canned string) error

	// PresignedGet returns a time-limited download URL.
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns one page of keys under prefix starting at token.
	List(ctx context.Context, prefix, token string, pageSize int) (*ListPage, error)
}

// ObjectInfo contains metadata about a listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ReferenceRewriter replaces stored references to an object key.
type ReferenceRewriter interface {
	// Rewrite replaces every known form of oldKey with newKey inside one
	// transaction. oldKey == newKey is a no-op.
	Rewrite(ctx context.Context, oldKey, newKey string, dryRun bool) (*model.RewriteResult, error)
}
