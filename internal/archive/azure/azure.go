// Package azure archives documents in an Azure Blob Storage container using
// shared key auth. Uploads carry the document digest in blob metadata so
// metadata reads can answer without transferring the blob body.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/chronobill/chronobill/internal/archive"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/pkg/checksum"
)

func init() {
	archive.Register("azure", func(cfg *config.Config) (archive.Store, error) {
		return New(&cfg.Archive.Azure)
	})
}

// checksumMetaKey is the blob metadata key carrying the document digest.
const checksumMetaKey = "sha256"

// Store archives documents as blobs in one container.
type Store struct {
	container *container.Client
}

// New builds a shared-key client for the configured account and binds it to
// the container. Nothing talks to Azure here; bad credentials surface on the
// first operation.
func New(cfg *config.AzureStorageConfig) (*Store, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("building Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building Azure blob client: %w", err)
	}

	return &Store{container: client.ServiceClient().NewContainerClient(cfg.ContainerName)}, nil
}

// Upload buffers the document, computes its digest, and uploads both.
func (s *Store) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*archive.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	sum := checksum.SumBytes(data)

	_, err = s.container.NewBlockBlobClient(path).Upload(ctx,
		streaming.NopCloser(bytes.NewReader(data)),
		&blockblob.UploadOptions{Metadata: map[string]*string{checksumMetaKey: &sum}},
	)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	return &archive.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the blob body.
func (s *Store) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.container.NewBlobClient(path).DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
		}
		return nil, fmt.Errorf("downloading %s: %w", path, err)
	}
	return resp.Body, nil
}

// Delete removes the blob. A missing blob is already success.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.container.NewBlobClient(path).Delete(ctx, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// Exists probes the blob's properties.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.container.NewBlobClient(path).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: %w", path, err)
	}
}

// GetMetadata reads size, modification time, and digest from blob
// properties. Blobs uploaded before digest metadata existed are downloaded
// and hashed instead.
func (s *Store) GetMetadata(ctx context.Context, path string) (*archive.FileMetadata, error) {
	props, err := s.container.NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading metadata for %s: %w", path, err)
	}

	sum := digestFromMetadata(props.Metadata)
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
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}

// digestFromMetadata finds the stored digest. The SDK canonicalizes metadata
// keys on the way back (sha256 returns as Sha256), so the lookup has to be
// case-insensitive.
func digestFromMetadata(meta map[string]*string) string {
	for key, value := range meta {
		if strings.EqualFold(key, checksumMetaKey) && value != nil {
			return *value
		}
	}
	return ""
}

// isNotFound matches both the service error code and, for endpoints that
// answer with a bare 404, the HTTP status itself.
func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
