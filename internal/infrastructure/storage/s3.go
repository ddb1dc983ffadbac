package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hszk-dev/vidmaint/internal/domain/repository"
)

// allUsersURI is the grantee URI of the anonymous principal.
const allUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// s3API is the subset of *s3.Client used for ACLs and listing.
type s3API interface {
	GetObjectAcl(ctx context.Context, params *s3.GetObjectAclInput, optFns ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func newS3Client(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// IsPublicRead reports whether the AllUsers group holds READ on key.
func (c *Client) IsPublicRead(ctx context.Context, key string) (bool, error) {
	out, err := c.s3.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get acl of %s: %w", key, mapS3Error(err))
	}

	for _, g := range out.Grants {
		if g.Grantee == nil || aws.ToString(g.Grantee.URI) != allUsersURI {
			continue
		}
		if g.Permission == types.PermissionRead || g.Permission == types.PermissionFullControl {
			return true, nil
		}
	}
	return false, nil
}

// PutACL applies a canned ACL to key.
func (c *Client) PutACL(ctx context.Context, key, canned string) error {
	_, err := c.s3.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACL(canned),
	})
	if err != nil {
		return fmt.Errorf("failed to put acl on %s: %w", key, mapS3Error(err))
	}
	return nil
}

// List returns one page of a v2 listing under prefix starting at token.
func (c *Client) List(ctx context.Context, prefix, token string, pageSize int) (*repository.ListPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	if pageSize > 0 {
		in.MaxKeys = aws.Int32(int32(pageSize))
	}

	out, err := c.s3.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", mapS3Error(err))
	}

	page := &repository.ListPage{
		Objects:     make([]repository.ObjectInfo, 0, len(out.Contents)),
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	if page.IsTruncated {
		page.NextContinuationToken = aws.ToString(out.NextContinuationToken)
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, repository.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return page, nil
}

func mapS3Error(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NotImplemented", "XNotImplemented", "MethodNotAllowed", "UnsupportedOperation":
		return fmt.Errorf("%w: %s", repository.ErrACLUnsupported, apiErr.ErrorMessage())
	case "AccessDenied", "AllAccessDisabled":
		return fmt.Errorf("%w: %s", repository.ErrAccessDenied, apiErr.ErrorMessage())
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", repository.ErrObjectNotFound, apiErr.ErrorMessage())
	}
	return err
}
