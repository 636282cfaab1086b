// Package index is the durable relational store of files, aliases, blocks,
// and configuration (C4). It is backed by SQLite through the pure-Go
// ncruces/go-sqlite3 driver (no cgo), opened via database/sql like any
// other driver in the ecosystem.
//
// All access to an *Index is expected from a single goroutine — the
// coordinator — except for the read-only BlockExists check the block
// pipeline's producer performs while the coordinator is between commits
// (documented in DESIGN.md's Open Question decisions). SQLite's own
// single-writer/multi-reader semantics make that safe.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/engerr"
)

// Index wraps the database connection and the root directory row id every
// file path is resolved relative to.
type Index struct {
	db     *sql.DB
	path   string
	rootID int64

	// dirCache memoizes directory-path -> row id within one process, since
	// the coordinator resolves the same parent directories repeatedly
	// across a run.
	dirCache map[string]int64
}

// Open opens (creating if necessary) the index file at path, applies the
// schema, and ensures the root directory row exists.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", engerr.ErrDatabase, path, err)
	}
	// SQLite tolerates exactly one writer; cap the pool so database/sql
	// never hands out a second concurrent connection that would contend
	// on the write lock.
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, path: path, dirCache: make(map[string]int64)}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	rootID, err := idx.ensureRoot(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx.rootID = rootID
	return idx, nil
}

// OpenFromBytes materializes a decrypted index copy (see DecryptRemoteCopy)
// into a private temp file and opens it. Restore uses this since it only
// has the destination-side encrypted copy, not the source tree's live
// index.
func OpenFromBytes(ctx context.Context, data []byte) (idx *Index, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "coldvault-restore-index-*.db")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create temp index file: %v", engerr.ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, nil, fmt.Errorf("%w: write temp index file: %v", engerr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, nil, fmt.Errorf("%w: close temp index file: %v", engerr.ErrIO, err)
	}

	idx, err = Open(ctx, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, nil, err
	}
	return idx, func() { idx.Close(); os.Remove(tmpPath) }, nil
}

// Close releases the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Path returns the filesystem path the index was opened from.
func (idx *Index) Path() string { return idx.path }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS directory (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER REFERENCES directory(id),
	name      TEXT NOT NULL,
	UNIQUE(parent_id, name)
);

CREATE TABLE IF NOT EXISTS file (
	id           INTEGER PRIMARY KEY,
	directory_id INTEGER NOT NULL REFERENCES directory(id),
	name         TEXT NOT NULL,
	UNIQUE(directory_id, name)
);

CREATE TABLE IF NOT EXISTS block (
	id   INTEGER PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alias (
	id           INTEGER PRIMARY KEY,
	file_id      INTEGER NOT NULL REFERENCES file(id),
	timestamp_ms INTEGER NOT NULL,
	is_null      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alias_file_ts ON alias(file_id, timestamp_ms);

CREATE TABLE IF NOT EXISTS alias_block (
	alias_id INTEGER NOT NULL REFERENCES alias(id),
	ordinal  INTEGER NOT NULL,
	block_id INTEGER NOT NULL REFERENCES block(id),
	PRIMARY KEY (alias_id, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_alias_block_block ON alias_block(block_id);

CREATE TABLE IF NOT EXISTS setting (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Setting keys.
const (
	SettingBlockSize     = "block_size"
	SettingDestination   = "destination"
	SettingPasswordHash  = "password_hash"
	SettingCreatedAt     = "created_at"
	SettingSchemaVersion = "schema_version"
)

// migrate creates the schema if absent and enforces the schema version
// guard from SPEC_FULL's supplemented features: an index written by a
// newer binary than this one refuses to open.
func (idx *Index) migrate(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("%w: apply schema: %v", engerr.ErrDatabase, err)
	}

	existing, ok, err := idx.getSettingTx(ctx, idx.db, SettingSchemaVersion)
	if err != nil {
		return err
	}
	if !ok {
		if err := idx.setSettingTx(ctx, idx.db, SettingSchemaVersion, strconv.Itoa(constants.SchemaVersion)); err != nil {
			return err
		}
		return nil
	}

	version, err := strconv.Atoi(existing)
	if err != nil {
		return fmt.Errorf("%w: unreadable schema_version %q", engerr.ErrDatabase, existing)
	}
	if version > constants.SchemaVersion {
		return fmt.Errorf("%w: index schema version %d is newer than this binary understands (%d)",
			engerr.ErrDatabase, version, constants.SchemaVersion)
	}
	return nil
}

func (idx *Index) ensureRoot(ctx context.Context) (int64, error) {
	var id int64
	err := idx.db.QueryRowContext(ctx,
		`SELECT id FROM directory WHERE parent_id IS NULL AND name = ''`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("%w: query root directory: %v", engerr.ErrDatabase, err)
	}
	res, err := idx.db.ExecContext(ctx,
		`INSERT INTO directory(parent_id, name) VALUES (NULL, '')`)
	if err != nil {
		return 0, fmt.Errorf("%w: insert root directory: %v", engerr.ErrDatabase, err)
	}
	return res.LastInsertId()
}

// InitSettings records the block size, destination, password hash, and
// creation time at init time. Called exactly once per tree.
func (idx *Index) InitSettings(ctx context.Context, blockSize int, destination, passwordHash string, createdAt time.Time) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", engerr.ErrDatabase, err)
	}
	defer tx.Rollback()

	pairs := map[string]string{
		SettingBlockSize:    strconv.Itoa(blockSize),
		SettingDestination:  destination,
		SettingPasswordHash: passwordHash,
		SettingCreatedAt:    strconv.FormatInt(createdAt.UnixMilli(), 10),
	}
	for k, v := range pairs {
		if err := idx.setSettingTx(ctx, tx, k, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit settings: %v", engerr.ErrDatabase, err)
	}
	return nil
}

// UpdateDestination overwrites the recorded destination — a named backup
// run is allowed to redirect where blocks land (§6's -d override).
func (idx *Index) UpdateDestination(ctx context.Context, destination string) error {
	return idx.setSettingTx(ctx, idx.db, SettingDestination, destination)
}

// GetSetting returns a raw setting value.
func (idx *Index) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return idx.getSettingTx(ctx, idx.db, key)
}

// Config is the set of durable settings recorded at init.
type Config struct {
	BlockSize    int
	Destination  string
	PasswordHash string
	CreatedAt    time.Time
}

// GetConfig loads every recorded setting. Returns an error if init has
// never been run against this file.
func (idx *Index) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config

	blockSizeStr, ok, err := idx.GetSetting(ctx, SettingBlockSize)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, fmt.Errorf("%w: index at %s was never initialized", engerr.ErrDatabase, idx.path)
	}
	cfg.BlockSize, err = strconv.Atoi(blockSizeStr)
	if err != nil {
		return cfg, fmt.Errorf("%w: unreadable block_size: %v", engerr.ErrDatabase, err)
	}

	cfg.Destination, _, err = idx.GetSetting(ctx, SettingDestination)
	if err != nil {
		return cfg, err
	}
	cfg.PasswordHash, _, err = idx.GetSetting(ctx, SettingPasswordHash)
	if err != nil {
		return cfg, err
	}
	createdStr, _, err := idx.GetSetting(ctx, SettingCreatedAt)
	if err != nil {
		return cfg, err
	}
	if createdStr != "" {
		ms, err := strconv.ParseInt(createdStr, 10, 64)
		if err == nil {
			cfg.CreatedAt = time.UnixMilli(ms)
		}
	}
	return cfg, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (idx *Index) getSettingTx(ctx context.Context, q execer, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM setting WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read setting %s: %v", engerr.ErrDatabase, key, err)
	}
	return value, true, nil
}

func (idx *Index) setSettingTx(ctx context.Context, q execer, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO setting(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: write setting %s: %v", engerr.ErrDatabase, key, err)
	}
	return nil
}

// splitPath breaks a source-relative path into its directory components
// and final file name, using forward slashes as the canonical separator
// regardless of host OS (so an index is portable across platforms).
func splitPath(relPath string) (dirs []string, name string) {
	clean := filepath.ToSlash(filepath.Clean(relPath))
	clean = strings.TrimPrefix(clean, "./")
	parts := strings.Split(clean, "/")
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}
