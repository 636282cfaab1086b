package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestInitSettingsAndGetConfig(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	createdAt := time.UnixMilli(1700000000000)
	if err := idx.InitSettings(ctx, 1<<20, "/dest", "deadbeef", createdAt); err != nil {
		t.Fatalf("InitSettings: %v", err)
	}

	cfg, err := idx.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.BlockSize != 1<<20 {
		t.Errorf("BlockSize = %d, want %d", cfg.BlockSize, 1<<20)
	}
	if cfg.Destination != "/dest" {
		t.Errorf("Destination = %q, want %q", cfg.Destination, "/dest")
	}
	if cfg.PasswordHash != "deadbeef" {
		t.Errorf("PasswordHash = %q, want %q", cfg.PasswordHash, "deadbeef")
	}
	if !cfg.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", cfg.CreatedAt, createdAt)
	}
}

func TestGetConfigBeforeInitIsError(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	if _, err := idx.GetConfig(ctx); err == nil {
		t.Fatal("expected GetConfig to fail on an uninitialized index")
	}
}

func TestUpdateDestination(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	if err := idx.InitSettings(ctx, 1024, "/old", "hash", time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpdateDestination(ctx, "/new"); err != nil {
		t.Fatal(err)
	}
	cfg, err := idx.GetConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Destination != "/new" {
		t.Errorf("Destination = %q, want %q", cfg.Destination, "/new")
	}
}

func TestCommitFileAndSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	blocks := []BlockPlan{{Hash: "hash1", Size: 100}, {Hash: "hash2", Size: 200}}
	if err := idx.CommitFile(ctx, "a/b/c.txt", 1000, blocks); err != nil {
		t.Fatalf("CommitFile: %v", err)
	}

	entries, err := idx.SnapshotAt(ctx, 2000)
	if err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Path != "a/b/c.txt" {
		t.Errorf("Path = %q, want %q", entries[0].Path, "a/b/c.txt")
	}
	if len(entries[0].BlockHashes) != 2 || entries[0].BlockHashes[0] != "hash1" || entries[0].BlockHashes[1] != "hash2" {
		t.Errorf("BlockHashes = %v, want [hash1 hash2] in order", entries[0].BlockHashes)
	}
}

func TestSnapshotAtRespectsCutoff(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "file.txt", 1000, []BlockPlan{{Hash: "h1", Size: 10}}); err != nil {
		t.Fatal(err)
	}

	entries, err := idx.SnapshotAt(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no visible entries before the file was committed, got %d", len(entries))
	}
}

func TestCommitFileNewVersionSupersedesOld(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "file.txt", 1000, []BlockPlan{{Hash: "v1", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitFile(ctx, "file.txt", 2000, []BlockPlan{{Hash: "v2", Size: 20}}); err != nil {
		t.Fatal(err)
	}

	entriesAt1500, err := idx.SnapshotAt(ctx, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(entriesAt1500) != 1 || entriesAt1500[0].BlockHashes[0] != "v1" {
		t.Fatalf("at t=1500 expected v1 visible, got %+v", entriesAt1500)
	}

	entriesAt2500, err := idx.SnapshotAt(ctx, 2500)
	if err != nil {
		t.Fatal(err)
	}
	if len(entriesAt2500) != 1 || entriesAt2500[0].BlockHashes[0] != "v2" {
		t.Fatalf("at t=2500 expected v2 visible, got %+v", entriesAt2500)
	}
}

func TestCommitNullAliasHidesFileFromSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "gone.txt", 1000, []BlockPlan{{Hash: "h1", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitNullAlias(ctx, "gone.txt", 2000); err != nil {
		t.Fatalf("CommitNullAlias: %v", err)
	}

	entries, err := idx.SnapshotAt(ctx, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected the null-aliased file to be absent from the snapshot, got %+v", entries)
	}

	// Before the deletion timestamp, the file is still visible.
	entriesBefore, err := idx.SnapshotAt(ctx, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(entriesBefore) != 1 {
		t.Fatalf("expected the file visible before its null alias, got %+v", entriesBefore)
	}
}

func TestEmptyFileIsZeroBlockNonNullAlias(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "empty.txt", 1000, nil); err != nil {
		t.Fatalf("CommitFile with no blocks: %v", err)
	}

	entries, err := idx.SnapshotAt(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the empty file to be visible, got %+v", entries)
	}
	if len(entries[0].BlockHashes) != 0 {
		t.Fatalf("expected zero blocks for an empty file, got %v", entries[0].BlockHashes)
	}
}

func TestVisiblePathsAt(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "a.txt", 1000, []BlockPlan{{Hash: "h1", Size: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitFile(ctx, "b.txt", 1000, []BlockPlan{{Hash: "h2", Size: 1}}); err != nil {
		t.Fatal(err)
	}

	paths, err := idx.VisiblePathsAt(ctx, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if !paths["a.txt"] || !paths["b.txt"] {
		t.Fatalf("expected both paths visible, got %v", paths)
	}
}

func TestLatestAliasTimestamp(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if _, ok, err := idx.LatestAliasTimestamp(ctx, "never-seen.txt"); err != nil || ok {
		t.Fatalf("expected ok=false for a never-seen file, got ok=%v err=%v", ok, err)
	}

	if err := idx.CommitFile(ctx, "seen.txt", 1234, []BlockPlan{{Hash: "h1", Size: 1}}); err != nil {
		t.Fatal(err)
	}
	ts, ok, err := idx.LatestAliasTimestamp(ctx, "seen.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || ts != 1234 {
		t.Fatalf("got ts=%d ok=%v, want 1234/true", ts, ok)
	}
}

func TestBlockExistsDedup(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	exists, err := idx.BlockExists(ctx, "newhash")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected block to not exist yet")
	}

	if err := idx.CommitFile(ctx, "f.txt", 1000, []BlockPlan{{Hash: "newhash", Size: 42}}); err != nil {
		t.Fatal(err)
	}

	exists, err = idx.BlockExists(ctx, "newhash")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected block to exist after being committed")
	}
}

func TestCommitFileReusesExistingBlockRow(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "f1.txt", 1000, []BlockPlan{{Hash: "shared", Size: 50}}); err != nil {
		t.Fatal(err)
	}
	// Second file references the same hash with Size=0, mirroring the
	// pipeline's dedup-skip path where the block already existed.
	if err := idx.CommitFile(ctx, "f2.txt", 1000, []BlockPlan{{Hash: "shared", Size: 0}}); err != nil {
		t.Fatal(err)
	}

	blocks, err := idx.UnreferencedBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected the shared block to be referenced by both aliases, got unreferenced: %+v", blocks)
	}
}

func TestPruneSupersededAliases(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "f.txt", 1000, []BlockPlan{{Hash: "v1", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitFile(ctx, "f.txt", 2000, []BlockPlan{{Hash: "v2", Size: 10}}); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.PruneSupersededAliases(ctx, 3000)
	if err != nil {
		t.Fatalf("PruneSupersededAliases: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected exactly the superseded v1 alias removed, got %d", removed)
	}

	// The latest alias must still be visible even though it's older than "now".
	entries, err := idx.SnapshotAt(ctx, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].BlockHashes[0] != "v2" {
		t.Fatalf("expected v2 still visible after prune, got %+v", entries)
	}
}

func TestPruneNeverRemovesTheOnlyAlias(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "f.txt", 1000, []BlockPlan{{Hash: "v1", Size: 10}}); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.PruneSupersededAliases(ctx, 999999)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("expected the sole alias for a file to survive pruning, got %d removed", removed)
	}
}

func TestUnreferencedBlocksAfterPrune(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	if err := idx.CommitFile(ctx, "f.txt", 1000, []BlockPlan{{Hash: "v1", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.CommitFile(ctx, "f.txt", 2000, []BlockPlan{{Hash: "v2", Size: 10}}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.PruneSupersededAliases(ctx, 3000); err != nil {
		t.Fatal(err)
	}

	blocks, err := idx.UnreferencedBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Hash != "v1" {
		t.Fatalf("expected only v1 to be unreferenced after pruning, got %+v", blocks)
	}

	if err := idx.DeleteBlockRow(ctx, blocks[0].ID); err != nil {
		t.Fatal(err)
	}
	blocks, err = idx.UnreferencedBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected no unreferenced blocks after DeleteBlockRow, got %+v", blocks)
	}
}

func TestSchemaVersionGuardRejectsNewerIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.db")

	idx, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.setSettingTx(ctx, idx.db, SettingSchemaVersion, "99999"); err != nil {
		t.Fatal(err)
	}
	idx.Close()

	if _, err := Open(ctx, path); err == nil {
		t.Fatal("expected opening an index with a future schema version to fail")
	}
}
