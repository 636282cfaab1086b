// Package blockstore persists and fetches EncryptedBlockObjects under the
// destination directory, content-addressed by plaintext SHA-1 hash (C3).
// It never fsyncs per block — crash safety comes from the index's commit
// barrier (§5), not from the store itself — and every write is an atomic
// temp-then-rename so a concurrent identical put converges cleanly.
package blockstore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coldvault/coldvault/internal/engerr"
)

// Store is a content-addressed object store rooted at a destination
// directory.
type Store struct {
	root string
}

// Open returns a Store rooted at dest, creating dest if it does not exist.
func Open(dest string) (*Store, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create destination %s: %v", engerr.ErrIO, dest, err)
	}
	return &Store{root: dest}, nil
}

// HashBlock returns the hex SHA-1 of plaintext — the content address a
// Block is identified by.
func HashBlock(plaintext []byte) string {
	sum := sha1.Sum(plaintext)
	return hex.EncodeToString(sum[:])
}

// path computes the two-level fan-out path for hash: <root>/<h0h1>/<h2h3>/<hash>.
func (s *Store) path(hash string) (string, error) {
	if len(hash) < 4 {
		return "", fmt.Errorf("%w: hash %q too short for fan-out", engerr.ErrFormat, hash)
	}
	return filepath.Join(s.root, hash[0:2], hash[2:4], hash), nil
}

// Put writes an EncryptedBlockObject under hash. It is retry-safe: if the
// destination already exists, the new write is discarded and Put reports
// success (idempotent on hash).
func (s *Store) Put(hash string, object []byte) error {
	dst, err := s.path(hash)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", engerr.ErrIO, dir, err)
	}

	if _, err := os.Stat(dst); err == nil {
		return nil // already present, put is idempotent
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+hash[:8]+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", engerr.ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(object); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp file: %v", engerr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp file: %v", engerr.ErrIO, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		// If another writer beat us to it with identical content, treat the
		// collision as the idempotent success it is.
		if _, statErr := os.Stat(dst); statErr == nil {
			return nil
		}
		return fmt.Errorf("%w: rename into place: %v", engerr.ErrIO, err)
	}
	return nil
}

// Get reads and returns the EncryptedBlockObject stored at hash.
func (s *Store) Get(hash string) ([]byte, error) {
	p, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: block %s missing at destination", engerr.ErrIO, hash)
		}
		return nil, fmt.Errorf("%w: read block %s: %v", engerr.ErrIO, hash, err)
	}
	return data, nil
}

// Delete removes the object stored at hash. It succeeds whether or not the
// object existed (IGNORE_MISSING), so repeated cleanup passes are
// idempotent per §9's open-question resolution.
func (s *Store) Delete(hash string) error {
	p, err := s.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete block %s: %v", engerr.ErrIO, hash, err)
	}
	return nil
}

// Exists reports whether an object is present at hash.
func (s *Store) Exists(hash string) (bool, error) {
	p, err := s.path(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat block: %v", engerr.ErrIO, err)
}

// WriteBlob writes an arbitrary non-content-addressed blob (used for the
// encrypted index copy, §6) directly under dest/name via the same
// temp-then-rename discipline as Put.
func WriteBlob(dest, name string, data []byte) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", engerr.ErrIO, dest, err)
	}
	tmp, err := os.CreateTemp(dest, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", engerr.ErrIO, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp file: %v", engerr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp file: %v", engerr.ErrIO, err)
	}
	dst := filepath.Join(dest, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename into place: %v", engerr.ErrIO, err)
	}
	return nil
}

// ReadBlob reads back a blob written by WriteBlob.
func ReadBlob(dest, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dest, name))
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", engerr.ErrIO, name, err)
	}
	return data, nil
}
