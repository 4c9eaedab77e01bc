// Package local is the filesystem archive backend, meant for development and
// single-node installs. Replicas only share an archive if they share the
// filesystem underneath, so clustered deployments use a cloud backend instead.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chronobill/chronobill/internal/archive"
	"github.com/chronobill/chronobill/internal/config"
	"github.com/chronobill/chronobill/pkg/checksum"
)

func init() {
	archive.Register("local", func(cfg *config.Config) (archive.Store, error) {
		return New(&cfg.Archive.Local)
	})
}

// Store keeps archived documents as plain files under a base directory.
type Store struct {
	root string
}

// New prepares the base directory and returns a Store rooted there.
func New(cfg *config.LocalStorageConfig) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local archive base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("preparing archive directory: %w", err)
	}
	return &Store{root: cfg.BasePath}, nil
}

// abs maps an archive key onto the filesystem.
func (s *Store) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Upload writes the document to a temporary file beside the destination and
// renames it into place once fully written. A crash mid-write leaves at worst
// a stray temp file, never a half-written document under the final name.
func (s *Store) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*archive.UploadResult, error) {
	dst := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return nil, fmt.Errorf("preparing directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", path, err)
	}

	hasher := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(reader, hasher))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("publishing %s: %w", path, err)
	}

	return &archive.UploadResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download opens the stored file for reading.
func (s *Store) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Delete removes the document and then prunes any directories the removal
// left empty, so month buckets disappear once their last document does.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.abs(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	for dir := filepath.Dir(s.abs(path)); dir != s.root; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Exists reports whether a document is stored at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("probing %s: %w", path, err)
	}
}

// GetMetadata stats the file and hashes its contents. The filesystem keeps no
// digest for us, so unlike the cloud backends this always reads the document.
func (s *Store) GetMetadata(ctx context.Context, path string) (*archive.FileMetadata, error) {
	f, err := os.Open(s.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	sum, err := checksum.Sum(f)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}

	return &archive.FileMetadata{
		Path:         path,
		Size:         stat.Size(),
		Checksum:     sum,
		LastModified: stat.ModTime(),
	}, nil
}
