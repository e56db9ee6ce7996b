// Package blobstore implements content-addressed storage of encoded image
// bytes on the local filesystem, grounded on s3.Client.DownloadImage's
// atomic temp-file-then-rename write path: a temp file in the destination
// directory is written and fsynced, then renamed into place, so a reader
// never observes a partially-written blob.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// Store is a content-addressed blob store rooted at a single directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating it with owner-only
// permissions (0700) if it does not exist yet.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "create blob root", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "chmod blob root", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the configured root directory.
func (s *Store) Root() string { return s.root }

// Path returns the on-disk path a blob with the given sha256 hex digest
// would live at, without checking existence.
func (s *Store) Path(sha256Hex string) (string, error) {
	if len(sha256Hex) < 4 {
		return "", ditoxerr.New(ditoxerr.InvalidInput, "sha256 digest too short")
	}
	return filepath.Join(s.root, sha256Hex[0:2], sha256Hex[2:4], sha256Hex), nil
}

// Put writes bytes to the store and returns the lowercase hex SHA-256
// digest of the content. Put is idempotent: a second Put of the same
// bytes returns the same digest and performs no additional write once the
// target already exists.
func (s *Store) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	dest, err := s.Path(digest)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create blob shard dir", err)
	}

	if _, err := os.Stat(dest); err == nil {
		return digest, nil // already present, deduplicated
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create temp blob file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	hash := sha256.New()
	mw := io.MultiWriter(tmp, hash)
	if _, err := mw.Write(data); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "write temp blob file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "fsync temp blob file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "close temp blob file", err)
	}
	if hex.EncodeToString(hash.Sum(nil)) != digest {
		return "", ditoxerr.New(ditoxerr.Corruption, "blob checksum mismatch during write")
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		// Another writer may have raced us to the same content; that's fine.
		if _, statErr := os.Stat(dest); statErr == nil {
			return digest, nil
		}
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "publish blob file", err)
	}
	return digest, nil
}

// OpenBlob opens a blob for reading. Callers must Close the returned stream.
func (s *Store) OpenBlob(sha256Hex string) (io.ReadCloser, error) {
	p, err := s.Path(sha256Hex)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ditoxerr.Wrap(ditoxerr.NotFound, fmt.Sprintf("blob %s", sha256Hex), err)
		}
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "open blob", err)
	}
	return f, nil
}

// Exists reports whether a blob with the given digest is present.
func (s *Store) Exists(sha256Hex string) (bool, error) {
	p, err := s.Path(sha256Hex)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ditoxerr.Wrap(ditoxerr.Fatal, "stat blob", err)
}

// Verify checks that the blob at digest exists and that its content hash
// matches the digest.
func (s *Store) Verify(sha256Hex string) error {
	r, err := s.OpenBlob(sha256Hex)
	if err != nil {
		return err
	}
	defer r.Close()
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "read blob for verification", err)
	}
	if hex.EncodeToString(h.Sum(nil)) != sha256Hex {
		return ditoxerr.New(ditoxerr.Corruption, fmt.Sprintf("blob %s failed checksum verification", sha256Hex))
	}
	return nil
}
