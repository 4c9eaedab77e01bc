// Package checksum fingerprints archived documents. Every snapshot written to
// the export archive is stored alongside a SHA-256 digest so that a copy
// retrieved years later, for an audit or a bookkeeping dispute, can be proven
// byte-identical to what was exported. All digests are lowercase hex.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Sum reads r to EOF and returns the SHA-256 digest of its contents.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes returns the SHA-256 digest of data. Convenience for callers that
// already hold the whole document in memory.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the contents of r hash to want. Digests produced by
// this package are always lowercase, and the comparison is case-sensitive.
func Verify(r io.Reader, want string) (bool, error) {
	got, err := Sum(r)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
