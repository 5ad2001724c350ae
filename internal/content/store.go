// Package content implements the content-addressed blob store backing
// the chain. Blobs live under content/<hh>/<digest>, keyed by the
// sha256 of the normalized payload. Writes go through a temp file and
// an atomic rename, so duplicate and concurrent puts are idempotent.
package content

import (
	"os"
	"path/filepath"

	"github.com/SeMmyT/openclaw-memory-chain/internal/canonical"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// RedactionSentinel replaces a blob's bytes when its entry is redacted.
// The chain position and signed header survive; the payload does not.
const RedactionSentinel = "[REDACTED]"

// Store is a content-addressed blob store rooted at a chain directory.
type Store struct {
	root string
}

// New opens (creating if needed) the blob store under dir/content.
func New(dir string) (*Store, error) {
	root := filepath.Join(dir, "content")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

// Put normalizes text, stores it under its digest, and returns the
// digest. Storing the same content twice is a no-op.
func (s *Store) Put(text string) (string, error) {
	normalized := canonical.NormalizeText(text)
	digest := canonical.ContentDigest(normalized)
	if err := s.writeBlob(digest, []byte(normalized)); err != nil {
		return "", err
	}
	return digest, nil
}

// Get returns the stored bytes for digest, or an UnknownSeq-flavored
// NotFound for a digest the store has never seen.
func (s *Store) Get(digest string) (string, error) {
	if len(digest) < 2 {
		return "", types.NewError(types.ErrInvalidInput, "malformed digest %q", digest)
	}
	raw, err := os.ReadFile(s.blobPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.NewError(types.ErrUnknownSeq, "no blob for digest %s", digest)
		}
		return "", types.WrapError(types.ErrIo, err)
	}
	return string(raw), nil
}

// Has reports whether a blob exists for digest.
func (s *Store) Has(digest string) bool {
	if len(digest) < 2 {
		return false
	}
	_, err := os.Stat(s.blobPath(digest))
	return err == nil
}

// Redact overwrites the blob for digest with the sentinel. The digest
// keeps naming the chain position; only the payload bytes are destroyed.
func (s *Store) Redact(digest string) error {
	if !s.Has(digest) {
		return types.NewError(types.ErrUnknownSeq, "no blob for digest %s", digest)
	}
	return s.overwriteBlob(digest, []byte(RedactionSentinel))
}

// writeBlob is the idempotent put path: existing blobs are left alone.
func (s *Store) writeBlob(digest string, data []byte) error {
	path := s.blobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return s.overwriteBlob(digest, data)
}

func (s *Store) overwriteBlob(digest string, data []byte) error {
	path := s.blobPath(digest)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}
