package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

// mockObjectReader implements objectReader interface for testing.
type mockObjectReader struct {
	data   []byte
	offset int
	closed bool
}

func (m *mockObjectReader) Read(p []byte) (n int, err error) {
	if m.offset >= len(m.data) {
		return 0, io.EOF
	}
	n = copy(p, m.data[m.offset:])
	m.offset += n
	return n, nil
}

func (m *mockObjectReader) Close() error {
	m.closed = true
	return nil
}

func (m *mockObjectReader) Stat() (minio.ObjectInfo, error) {
	return minio.ObjectInfo{Size: int64(len(m.data))}, nil
}

// mockMinioClient implements minioClient interface for testing.
type mockMinioClient struct {
	bucketExistsFunc       func(ctx context.Context, bucketName string) (bool, error)
	presignedGetObjectFunc func(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	putObjectFunc          func(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	fPutObjectFunc         func(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	getObjectFunc          func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	fGetObjectFunc         func(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	copyObjectFunc         func(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	removeObjectFunc       func(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	statObjectFunc         func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

func (m *mockMinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if m.bucketExistsFunc != nil {
		return m.bucketExistsFunc(ctx, bucketName)
	}
	return true, nil
}

func (m *mockMinioClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	if m.presignedGetObjectFunc != nil {
		return m.presignedGetObjectFunc(ctx, bucketName, objectName, expiry, reqParams)
	}
	return nil, nil
}

func (m *mockMinioClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, bucketName, objectName, reader, objectSize, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockMinioClient) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.fPutObjectFunc != nil {
		return m.fPutObjectFunc(ctx, bucketName, objectName, filePath, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockMinioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, bucketName, objectName, opts)
	}
	return &mockObjectReader{}, nil
}

func (m *mockMinioClient) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	if m.fGetObjectFunc != nil {
		return m.fGetObjectFunc(ctx, bucketName, objectName, filePath, opts)
	}
	return nil
}

func (m *mockMinioClient) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	if m.copyObjectFunc != nil {
		return m.copyObjectFunc(ctx, dst, src)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockMinioClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	if m.removeObjectFunc != nil {
		return m.removeObjectFunc(ctx, bucketName, objectName, opts)
	}
	return nil
}

func (m *mockMinioClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if m.statObjectFunc != nil {
		return m.statObjectFunc(ctx, bucketName, objectName, opts)
	}
	return minio.ObjectInfo{}, nil
}

var notFound = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404, Message: "The specified key does not exist."}

func testConfig() ClientConfig {
	return ClientConfig{
		EndpointURL: "https://storage.example.com",
		PublicHost:  "https://cdn.example.com",
		Bucket:      "videos",
		MaxRetries:  2,
	}
}

func newTestClient(t *testing.T, mc *mockMinioClient, s3 *mockS3) *Client {
	t.Helper()
	if s3 == nil {
		s3 = &mockS3{}
	}
	c, err := newClientWithMinioClient(context.Background(), mc, s3, testConfig())
	if err != nil {
		t.Fatalf("newClientWithMinioClient: %v", err)
	}
	return c
}

func TestNewClientWithMinioClient(t *testing.T) {
	tests := []struct {
		name       string
		mockClient *mockMinioClient
		wantErr    error
	}{
		{
			name:       "bucket exists",
			mockClient: &mockMinioClient{},
		},
		{
			name: "bucket does not exist",
			mockClient: &mockMinioClient{
				bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
					return false, nil
				},
			},
			wantErr: repository.ErrBucketNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newClientWithMinioClient(context.Background(), tt.mockClient, &mockS3{}, testConfig())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("bucket check error", func(t *testing.T) {
		mc := &mockMinioClient{bucketExistsFunc: func(ctx context.Context, bucketName string) (bool, error) {
			return false, errors.New("connection refused")
		}}
		if _, err := newClientWithMinioClient(context.Background(), mc, &mockS3{}, testConfig()); err == nil {
			t.Error("expected error")
		}
	})
}

func TestClient_Head(t *testing.T) {
	t.Run("returns metadata", func(t *testing.T) {
		mc := &mockMinioClient{
			statObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
				return minio.ObjectInfo{
					Key:          objectName,
					Size:         2048,
					ContentType:  "video/mp4",
					UserMetadata: minio.StringMap{"Faststart": "true"},
				}, nil
			},
		}
		c := newTestClient(t, mc, nil)

		head, err := c.Head(context.Background(), "a/intro.mp4")
		if err != nil {
			t.Fatalf("Head: %v", err)
		}
		if head.Size != 2048 || !head.Faststart() {
			t.Errorf("head = %+v", head)
		}
	})

	t.Run("not found is nil without error", func(t *testing.T) {
		calls := 0
		mc := &mockMinioClient{
			statObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
				calls++
				return minio.ObjectInfo{}, notFound
			},
		}
		c := newTestClient(t, mc, nil)

		head, err := c.Head(context.Background(), "missing.mp4")
		if err != nil || head != nil {
			t.Fatalf("Head = %v, %v; want nil, nil", head, err)
		}
		if calls != 1 {
			t.Errorf("not-found was retried: %d calls", calls)
		}
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		calls := 0
		mc := &mockMinioClient{
			statObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
				calls++
				if calls == 1 {
					return minio.ObjectInfo{}, errors.New("connection reset by peer")
				}
				return minio.ObjectInfo{Size: 1}, nil
			},
		}
		c := newTestClient(t, mc, nil)

		head, err := c.Head(context.Background(), "a.mp4")
		if err != nil || head == nil {
			t.Fatalf("Head = %v, %v", head, err)
		}
		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})
}

func TestClient_GetTextAndReadHead(t *testing.T) {
	var gotOpts minio.GetObjectOptions
	mc := &mockMinioClient{
		getObjectFunc: func(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
			if objectName == "missing.m3u8" {
				return nil, notFound
			}
			gotOpts = opts
			return &mockObjectReader{data: []byte("#EXTM3U\nindex.m3u8\n")}, nil
		},
	}
	c := newTestClient(t, mc, nil)

	body, err := c.GetText(context.Background(), "a/.hls/x/playlist.m3u8")
	if err != nil || !strings.HasPrefix(body, "#EXTM3U") {
		t.Fatalf("GetText = %q, %v", body, err)
	}

	head, err := c.ReadHead(context.Background(), "a.mp4", 4)
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if string(head) != "#EXT" {
		t.Errorf("ReadHead = %q, want first 4 bytes", head)
	}
	if gotOpts.Header().Get("Range") != "bytes=0-3" {
		t.Errorf("Range = %q", gotOpts.Header().Get("Range"))
	}

	if _, err := c.GetText(context.Background(), "missing.m3u8"); !errors.Is(err, repository.ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestClient_PutText(t *testing.T) {
	var gotOpts minio.PutObjectOptions
	var gotBody string
	mc := &mockMinioClient{
		putObjectFunc: func(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			b, _ := io.ReadAll(reader)
			gotBody = string(b)
			gotOpts = opts
			return minio.UploadInfo{}, nil
		},
	}
	c := newTestClient(t, mc, nil)

	if err := c.PutText(context.Background(), "a/.hls/x/playlist.m3u8", "#EXTM3U\n", "application/vnd.apple.mpegurl"); err != nil {
		t.Fatalf("PutText: %v", err)
	}
	if gotBody != "#EXTM3U\n" {
		t.Errorf("body = %q", gotBody)
	}
	if gotOpts.ContentType != "application/vnd.apple.mpegurl" {
		t.Errorf("ContentType = %q", gotOpts.ContentType)
	}
	if gotOpts.UserMetadata["x-amz-acl"] != "public-read" {
		t.Errorf("acl header missing: %v", gotOpts.UserMetadata)
	}
}

func TestClient_UploadFile(t *testing.T) {
	var gotPath string
	var gotOpts minio.PutObjectOptions
	mc := &mockMinioClient{
		fPutObjectFunc: func(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			gotPath = filePath
			gotOpts = opts
			return minio.UploadInfo{}, nil
		},
	}
	c := newTestClient(t, mc, nil)

	err := c.UploadFile(context.Background(), "a.mp4", "/tmp/out.mp4", repository.PutOptions{
		ContentType:  "video/mp4",
		ACL:          "public-read",
		UserMetadata: map[string]string{"faststart": "true"},
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotPath != "/tmp/out.mp4" || gotOpts.ContentType != "video/mp4" {
		t.Errorf("path=%q opts=%+v", gotPath, gotOpts)
	}
	if gotOpts.UserMetadata["faststart"] != "true" || gotOpts.UserMetadata["x-amz-acl"] != "public-read" {
		t.Errorf("metadata = %v", gotOpts.UserMetadata)
	}
}

func TestClient_Copy(t *testing.T) {
	var gotDst minio.CopyDestOptions
	var gotSrc minio.CopySrcOptions
	mc := &mockMinioClient{
		copyObjectFunc: func(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
			gotDst, gotSrc = dst, src
			return minio.UploadInfo{}, nil
		},
	}
	c := newTestClient(t, mc, nil)

	meta := map[string]string{"faststart": "true"}
	err := c.Copy(context.Background(), "old.mp4", "new.mp4", repository.PutOptions{
		ContentType:  "video/mp4",
		ACL:          "public-read",
		UserMetadata: meta,
	})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if gotSrc.Object != "old.mp4" || gotDst.Object != "new.mp4" || gotDst.Bucket != "videos" {
		t.Errorf("src=%+v dst=%+v", gotSrc, gotDst)
	}
	if !gotDst.ReplaceMetadata {
		t.Error("ReplaceMetadata must be set")
	}
	if gotDst.UserMetadata["Content-Type"] != "video/mp4" || gotDst.UserMetadata["x-amz-acl"] != "public-read" {
		t.Errorf("metadata = %v", gotDst.UserMetadata)
	}
	if len(meta) != 1 {
		t.Error("Copy mutated caller metadata")
	}
}

func TestClient_DownloadFile_NotFound(t *testing.T) {
	mc := &mockMinioClient{
		fGetObjectFunc: func(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
			return notFound
		},
	}
	c := newTestClient(t, mc, nil)

	err := c.DownloadFile(context.Background(), "missing.mp4", "/tmp/x")
	if !errors.Is(err, repository.ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestClient_PresignedGet(t *testing.T) {
	mc := &mockMinioClient{
		presignedGetObjectFunc: func(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
			return url.Parse("https://storage.example.com/videos/" + objectName + "?X-Amz-Signature=abc")
		},
	}
	c := newTestClient(t, mc, nil)

	got, err := c.PresignedGet(context.Background(), "a.mp4", time.Hour)
	if err != nil {
		t.Fatalf("PresignedGet: %v", err)
	}
	if !strings.Contains(got, "X-Amz-Signature") {
		t.Errorf("url = %q", got)
	}
}
