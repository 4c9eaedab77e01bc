// Package s3 archives documents in AWS S3 or any S3-compatible service
// (MinIO, DigitalOcean Spaces) addressed through a custom endpoint. Besides
// static keys it can authenticate through the default AWS chain, a web
// identity token, or an assumed IAM role, which covers EC2 instance
// profiles, EKS service accounts, and cross-account setups.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/chronobill/chronobill/internal/archive"
	appconfig "github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/pkg/checksum"
)

func init() {
	archive.Register("s3", func(cfg *appconfig.Config) (archive.Store, error) {
		return New(&cfg.Archive.S3)
	})
}

// checksumMetaKey is the object metadata key carrying the document digest,
// so later metadata reads do not have to download the body to recompute it.
const checksumMetaKey = "sha256"

const (
	authDefault    = "default"
	authStatic     = "static"
	authOIDC       = "oidc"
	authAssumeRole = "assume_role"
)

// Store archives documents as objects in one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New validates cfg, resolves credentials, and returns a Store bound to the
// configured bucket. Credential providers are lazy, so nothing talks to AWS
// until the first archive operation.
func New(cfg *appconfig.S3StorageConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	method := authMethod(cfg)
	switch method {
	case authDefault, authStatic, authOIDC, authAssumeRole:
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', 'oidc', or 'assume_role')", method)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if method == authStatic {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("static auth requires access_key_id and secret_access_key")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if method == authOIDC || method == authAssumeRole {
		provider, err := roleCredentials(sts.NewFromConfig(awsCfg), cfg, method)
		if err != nil {
			return nil, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Compatible services generally want path-style addressing.
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// authMethod resolves the configured method. Older configs expressed static
// auth by just setting the keys, so key presence implies static when no
// method is named.
func authMethod(cfg *appconfig.S3StorageConfig) string {
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return authStatic
	}
	return authDefault
}

// roleCredentials builds the STS-backed provider for web identity and
// assume-role auth. Both defer the actual role assumption to first use.
func roleCredentials(stsClient *sts.Client, cfg *appconfig.S3StorageConfig, method string) (aws.CredentialsProvider, error) {
	if cfg.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required for %s auth", method)
	}

	if method == authOIDC {
		if cfg.WebIdentityTokenFile == "" {
			return nil, fmt.Errorf("web_identity_token_file is required for oidc auth (or set AWS_WEB_IDENTITY_TOKEN_FILE)")
		}
		return stscreds.NewWebIdentityRoleProvider(
			stsClient,
			cfg.RoleARN,
			stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
			func(o *stscreds.WebIdentityRoleOptions) {
				if cfg.RoleSessionName != "" {
					o.RoleSessionName = cfg.RoleSessionName
				}
			},
		), nil
	}

	return stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		if cfg.RoleSessionName != "" {
			o.RoleSessionName = cfg.RoleSessionName
		}
		if cfg.ExternalID != "" {
			o.ExternalID = aws.String(cfg.ExternalID)
		}
	}), nil
}

// Upload buffers the document, computes its digest, and uploads both. The
// archive holds small JSON snapshots, so buffering to hash up front costs
// little and lets the digest travel in object metadata.
func (s *Store) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*archive.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	sum := checksum.SumBytes(data)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{checksumMetaKey: sum},
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	return &archive.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the object body.
func (s *Store) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
		}
		return nil, fmt.Errorf("downloading %s: %w", path, err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing key is
// already success.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Exists probes the key with a HEAD request.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.head(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: %w", path, err)
	}
}

// GetMetadata reads size, modification time, and digest from the HEAD
// response. Objects uploaded before digest metadata existed are downloaded
// and hashed instead.
func (s *Store) GetMetadata(ctx context.Context, path string) (*archive.FileMetadata, error) {
	head, err := s.head(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading metadata for %s: %w", path, err)
	}

	sum := head.Metadata[checksumMetaKey]
	if sum == "" {
		body, err := s.Download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if sum, err = checksum.Sum(body); err != nil {
			return nil, fmt.Errorf("hashing %s: %w", path, err)
		}
	}

	meta := &archive.FileMetadata{Path: path, Checksum: sum}
	if head.ContentLength != nil {
		meta.Size = *head.ContentLength
	}
	if head.LastModified != nil {
		meta.LastModified = *head.LastModified
	}
	return meta, nil
}

func (s *Store) head(ctx context.Context, path string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
}

// isNotFound recognizes the shapes an absent key comes back as: the typed
// NotFound/NoSuchKey errors, or a bare 404 code from HEAD responses that
// carry no error body.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
