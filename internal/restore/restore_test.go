package restore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/coordinator"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/index"
	"github.com/coldvault/coldvault/internal/pipeline"
)

// runBackup performs one real backup of sourceRoot into a fresh destination,
// returning the index and store so tests can exercise restore against them.
func runBackup(t *testing.T, sourceRoot string) (*index.Index, *blockstore.Store, *crypto.Cipher) {
	t.Helper()
	ctx := context.Background()

	idx, err := index.Open(ctx, filepath.Join(t.TempDir(), "idx.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	destDir := t.TempDir()
	store, err := blockstore.Open(destDir)
	if err != nil {
		t.Fatal(err)
	}

	cipher := crypto.NewCipher("correct horse battery staple")
	pl := pipeline.New(store, cipher, pipeline.Config{BlockSize: 1 << 16, Workers: 2, QueueDepth: 4})
	t.Cleanup(pl.Close)

	c := coordinator.New(idx, pl, sourceRoot)
	if _, err := c.Run(ctx, coordinator.Config{RetentionDays: 183}); err != nil {
		t.Fatalf("backup run: %v", err)
	}

	return idx, store, cipher
}

func TestRunRestoresBackedUpFiles(t *testing.T) {
	sourceRoot := t.TempDir()
	files := map[string]string{
		"a.txt":      "top level file",
		"sub/b.txt":  "nested file",
		"sub/c.data": "another nested file with different content",
	}
	for rel, content := range files {
		p := filepath.Join(sourceRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	idx, store, cipher := runBackup(t, sourceRoot)

	outDir := t.TempDir()
	result, err := Run(context.Background(), idx, store, cipher, outDir, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected restore errors: %v", result.Errors)
	}
	if result.FilesRestored != len(files) {
		t.Fatalf("FilesRestored = %d, want %d", result.FilesRestored, len(files))
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("reading restored %s: %v", rel, err)
		}
		if string(got) != want {
			t.Errorf("restored %s = %q, want %q", rel, got, want)
		}
	}
}

func TestRunFiltersByGlob(t *testing.T) {
	sourceRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceRoot, "keep.txt"), []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sourceRoot, "skip.dat"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, store, cipher := runBackup(t, sourceRoot)

	outDir := t.TempDir()
	result, err := Run(context.Background(), idx, store, cipher, outDir, Options{Glob: "*.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if result.FilesRestored != 1 {
		t.Fatalf("FilesRestored = %d, want 1", result.FilesRestored)
	}
	if result.FilesSkipped != 1 {
		t.Fatalf("FilesSkipped = %d, want 1", result.FilesSkipped)
	}
	if _, err := os.Stat(filepath.Join(outDir, "skip.dat")); err == nil {
		t.Fatal("skip.dat should not have been restored")
	}
}

func TestRunAtPastTimestampRestoresOlderVersion(t *testing.T) {
	sourceRoot := t.TempDir()
	path := filepath.Join(sourceRoot, "versioned.txt")
	if err := os.WriteFile(path, []byte("version one"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	idx, err := index.Open(ctx, filepath.Join(t.TempDir(), "idx.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	destDir := t.TempDir()
	store, err := blockstore.Open(destDir)
	if err != nil {
		t.Fatal(err)
	}
	cipher := crypto.NewCipher("passphrase")
	pl := pipeline.New(store, cipher, pipeline.Config{BlockSize: 1 << 16, Workers: 2, QueueDepth: 4})
	defer pl.Close()

	c := coordinator.New(idx, pl, sourceRoot)
	if _, err := c.Run(ctx, coordinator.Config{RetentionDays: 183}); err != nil {
		t.Fatal(err)
	}
	cutoff := time.Now().UnixMilli()

	future := time.Now().Add(time.Hour)
	if err := os.WriteFile(path, []byte("version two, quite different"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	c2 := coordinator.New(idx, pl, sourceRoot)
	if _, err := c2.Run(ctx, coordinator.Config{RetentionDays: 183}); err != nil {
		t.Fatal(err)
	}

	outDir := t.TempDir()
	_, err = Run(ctx, idx, store, cipher, outDir, Options{TimestampMs: cutoff})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "versioned.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version one" {
		t.Fatalf("restoring at the earlier timestamp got %q, want %q", got, "version one")
	}
}

func TestRunBlockGetErrorIsPerFileNotFatal(t *testing.T) {
	sourceRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("will lose its block"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, store, cipher := runBackup(t, sourceRoot)

	entries, err := idx.SnapshotAt(context.Background(), time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	for _, h := range entries[0].BlockHashes {
		if err := store.Delete(h); err != nil {
			t.Fatal(err)
		}
	}

	outDir := t.TempDir()
	result, err := Run(context.Background(), idx, store, cipher, outDir, Options{})
	if err != nil {
		t.Fatalf("Run should not fail outright for a missing block: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one per-file error, got %v", result.Errors)
	}
	if result.FilesRestored != 0 {
		t.Fatalf("FilesRestored = %d, want 0", result.FilesRestored)
	}
}

func TestVerifyReportsMissingBlocks(t *testing.T) {
	sourceRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("content to verify"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, store, _ := runBackup(t, sourceRoot)

	report, err := Verify(context.Background(), idx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 0 {
		t.Fatalf("expected no missing blocks right after a clean backup, got %+v", report.Missing)
	}
	if report.FilesChecked != 1 {
		t.Fatalf("FilesChecked = %d, want 1", report.FilesChecked)
	}

	entries, err := idx.SnapshotAt(context.Background(), time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range entries[0].BlockHashes {
		if err := store.Delete(h); err != nil {
			t.Fatal(err)
		}
	}

	report, err = Verify(context.Background(), idx, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) == 0 {
		t.Fatal("expected Verify to report the deleted block as missing")
	}
}

func TestIndexExportAndDecryptRemoteCopyRoundTrip(t *testing.T) {
	sourceRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("exported via the remote index copy"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, _, cipher := runBackup(t, sourceRoot)
	destDir := t.TempDir()

	if err := idx.ExportEncrypted(cipher, destDir); err != nil {
		t.Fatalf("ExportEncrypted: %v", err)
	}

	raw, err := index.DecryptRemoteCopy(cipher, destDir)
	if err != nil {
		t.Fatalf("DecryptRemoteCopy: %v", err)
	}

	original, err := os.ReadFile(idx.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, original) {
		t.Fatal("decrypted remote index copy does not match the original index file bytes")
	}
}
