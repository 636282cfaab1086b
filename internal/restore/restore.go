// Package restore resolves the snapshot visible at a chosen timestamp,
// fetches and decrypts its blocks, and reassembles files on disk (C8).
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/compress"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/engerr"
	"github.com/coldvault/coldvault/internal/globmatch"
	"github.com/coldvault/coldvault/internal/index"
)

// Options configures one restore run.
type Options struct {
	TimestampMs int64  // defaults to time.Now() if zero — see Run
	Glob        string // defaults to "**" if empty
}

// Result summarizes a restore run. Failure of any single file does not
// abort the restore (§4.8) — Errors collects what went wrong per path.
type Result struct {
	FilesRestored int
	FilesSkipped  int // present in the snapshot but excluded by the glob
	Errors        []engerr.FileError
}

// Run resolves the snapshot at opts.TimestampMs (or now), filters by
// opts.Glob (or "**"), and writes every selected file under outDir.
func Run(ctx context.Context, idx *index.Index, store *blockstore.Store, cipher *crypto.Cipher, outDir string, opts Options) (Result, error) {
	var result Result

	ts := opts.TimestampMs
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	pattern := opts.Glob
	if pattern == "" {
		pattern = "**"
	}
	matcher, err := globmatch.Compile(pattern)
	if err != nil {
		return result, err
	}

	entries, err := idx.SnapshotAt(ctx, ts)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if !matcher.Match(entry.Path) {
			result.FilesSkipped++
			continue
		}

		if err := restoreFile(ctx, store, cipher, outDir, entry); err != nil {
			result.Errors = append(result.Errors, engerr.FileError{Path: entry.Path, Err: err})
			continue
		}
		result.FilesRestored++
	}

	return result, nil
}

// restoreFile fetches every block of entry in order, decrypts and
// decompresses each, and writes the reassembled content via a
// temp-and-rename so a crash mid-restore leaves either the old file or
// none at that path (§4.8).
func restoreFile(ctx context.Context, store *blockstore.Store, cipher *crypto.Cipher, outDir string, entry index.SnapshotEntry) error {
	dst := filepath.Join(outDir, filepath.FromSlash(entry.Path))
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", engerr.ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", engerr.ErrIO, err)
	}
	tmpPath := tmp.Name()
	cleanTemp := true
	defer func() {
		if cleanTemp {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	for _, hash := range entry.BlockHashes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		object, err := store.Get(hash)
		if err != nil {
			return err
		}
		plaintext, err := cipher.Decrypt(object)
		if err != nil {
			return fmt.Errorf("%w: block %s: %v", engerr.ErrCrypto, hash, err)
		}
		decompressed, err := compress.Decompress(plaintext)
		if err != nil {
			return fmt.Errorf("%w: block %s: %v", engerr.ErrFormat, hash, err)
		}
		if got := blockstore.HashBlock(decompressed); got != hash {
			return fmt.Errorf("%w: block %s content-address mismatch (got %s)", engerr.ErrFormat, hash, got)
		}
		if _, err := tmp.Write(decompressed); err != nil {
			return fmt.Errorf("%w: write %s: %v", engerr.ErrIO, tmpPath, err)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", engerr.ErrIO, tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("%w: rename into place: %v", engerr.ErrIO, err)
	}
	cleanTemp = false
	return nil
}
