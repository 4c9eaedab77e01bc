// Package gcs archives documents in a Google Cloud Storage bucket. It
// authenticates through Application Default Credentials by default, which
// covers GOOGLE_APPLICATION_CREDENTIALS, the GCE/GKE metadata server, and
// gcloud user credentials; service account keys and Workload Identity
// Federation are available for everything else.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/chronobill/chronobill/internal/archive"
	appconfig "github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/pkg/checksum"
)

func init() {
	archive.Register("gcs", func(cfg *appconfig.Config) (archive.Store, error) {
		return New(&cfg.Archive.GCS)
	})
}

// checksumMetaKey is the object metadata key carrying the document digest.
const checksumMetaKey = "sha256"

// Store archives documents as objects in one GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New validates cfg and builds the GCS client. Construction does not talk to
// GCS; bad credentials surface on the first operation.
func New(cfg *appconfig.GCSStorageConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// clientOptions translates the config into client options. With no explicit
// credentials the client falls back to Application Default Credentials.
func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	method := cfg.AuthMethod
	if method == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			method = "service_account"
		} else {
			method = "default"
		}
	}

	switch method {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("service_account auth requires credentials_file or credentials_json")
		}
	case "default", "workload_identity":
		// Both ride on ADC; workload identity is ADC underneath on GKE and
		// federated CI runners.
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", method)
	}

	return opts, nil
}

func (s *Store) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path)
}

// Upload buffers the document, computes its digest, and writes both. GCS
// commits the object when the writer closes, so errors surface from Close.
func (s *Store) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*archive.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	sum := checksum.SumBytes(data)

	w := s.object(path).NewWriter(ctx)
	w.ObjectAttrs.Metadata = map[string]string{checksumMetaKey: sum}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("committing %s: %w", path, err)
	}

	return &archive.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the object body.
func (s *Store) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", path, err)
	}
	return r, nil
}

// Delete removes the object. A missing object is already success.
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.object(path).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: %w", path, err)
	}
}

// GetMetadata reads size, modification time, and digest from object
// attributes. Objects uploaded before digest metadata existed are downloaded
// and hashed instead.
func (s *Store) GetMetadata(ctx context.Context, path string) (*archive.FileMetadata, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", path, err)
	}

	sum := attrs.Metadata[checksumMetaKey]
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

	return &archive.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     sum,
		LastModified: attrs.Updated,
	}, nil
}

// Close releases the underlying client connections.
func (s *Store) Close() error {
	return s.client.Close()
}
