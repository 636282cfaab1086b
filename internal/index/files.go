package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coldvault/coldvault/internal/engerr"
)

// resolveDirectory returns the row id of the directory named by dirs
// (path components, root-relative), creating any that don't yet exist
// inside tx.
func (idx *Index) resolveDirectory(ctx context.Context, tx *sql.Tx, dirs []string) (int64, error) {
	parent := idx.rootID
	cacheKey := ""
	for _, name := range dirs {
		cacheKey += "/" + name
		if id, ok := idx.dirCache[cacheKey]; ok {
			parent = id
			continue
		}

		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM directory WHERE parent_id = ? AND name = ?`, parent, name).Scan(&id)
		switch err {
		case nil:
			// found
		case sql.ErrNoRows:
			res, insErr := tx.ExecContext(ctx,
				`INSERT INTO directory(parent_id, name) VALUES (?, ?)`, parent, name)
			if insErr != nil {
				return 0, fmt.Errorf("%w: insert directory %s: %v", engerr.ErrDatabase, name, insErr)
			}
			id, insErr = res.LastInsertId()
			if insErr != nil {
				return 0, fmt.Errorf("%w: %v", engerr.ErrDatabase, insErr)
			}
		default:
			return 0, fmt.Errorf("%w: query directory %s: %v", engerr.ErrDatabase, name, err)
		}

		idx.dirCache[cacheKey] = id
		parent = id
	}
	return parent, nil
}

// resolveFile returns the row id of the file at relPath, creating the file
// row (and any missing directory rows) if it doesn't exist yet.
func (idx *Index) resolveFile(ctx context.Context, tx *sql.Tx, relPath string) (int64, error) {
	dirs, name := splitPath(relPath)
	dirID, err := idx.resolveDirectory(ctx, tx, dirs)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM file WHERE directory_id = ? AND name = ?`, dirID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("%w: query file %s: %v", engerr.ErrDatabase, relPath, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO file(directory_id, name) VALUES (?, ?)`, dirID, name)
	if err != nil {
		return 0, fmt.Errorf("%w: insert file %s: %v", engerr.ErrDatabase, relPath, err)
	}
	return res.LastInsertId()
}

// lookupDirectory is the read-only counterpart of resolveDirectory: it
// walks the component chain without creating anything, reporting ok=false
// as soon as a component is missing.
func (idx *Index) lookupDirectory(ctx context.Context, dirs []string) (id int64, ok bool, err error) {
	parent := idx.rootID
	for _, name := range dirs {
		var next int64
		err := idx.db.QueryRowContext(ctx,
			`SELECT id FROM directory WHERE parent_id = ? AND name = ?`, parent, name).Scan(&next)
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("%w: lookup directory %s: %v", engerr.ErrDatabase, name, err)
		}
		parent = next
	}
	return parent, true, nil
}

// lookupFile is the read-only counterpart of resolveFile.
func (idx *Index) lookupFile(ctx context.Context, relPath string) (id int64, ok bool, err error) {
	dirs, name := splitPath(relPath)
	dirID, found, err := idx.lookupDirectory(ctx, dirs)
	if err != nil || !found {
		return 0, false, err
	}
	err = idx.db.QueryRowContext(ctx,
		`SELECT id FROM file WHERE directory_id = ? AND name = ?`, dirID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: lookup file %s: %v", engerr.ErrDatabase, relPath, err)
	}
	return id, true, nil
}

// LatestAliasTimestamp returns the timestamp of the most recent alias for
// relPath, used by change detection: the scanner's file is re-backed-up
// only if its mtime exceeds this value. ok is false if the path has never
// been observed.
func (idx *Index) LatestAliasTimestamp(ctx context.Context, relPath string) (timestampMs int64, ok bool, err error) {
	fileID, found, err := idx.lookupFile(ctx, relPath)
	if err != nil || !found {
		return 0, false, err
	}

	var ts sql.NullInt64
	err = idx.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp_ms) FROM alias WHERE file_id = ?`, fileID).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("%w: latest alias for %s: %v", engerr.ErrDatabase, relPath, err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// BlockExists reports whether a block row for hash already exists — the
// dedup check the block pipeline's producer performs before dispatching a
// work item to the worker pool.
func (idx *Index) BlockExists(ctx context.Context, hash string) (bool, error) {
	var id int64
	err := idx.db.QueryRowContext(ctx, `SELECT id FROM block WHERE hash = ?`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: query block %s: %v", engerr.ErrDatabase, hash, err)
	}
	return true, nil
}

// BlockPlan is one block of a file's content, as produced by the pipeline:
// either a freshly-written block (Size > 0, the compressed payload length)
// or a skip of an already-known hash (Size == 0, since the block row
// already records it).
type BlockPlan struct {
	Hash string
	Size int // compressed payload length; 0 if this block already existed
}

// CommitFile is the single-transaction commit described in §4.4: insert any
// new block rows (idempotent on hash), insert the alias row, insert the
// alias_block rows in ordinal order. It must only be called after every
// referenced EncryptedBlockObject has been durably written by the block
// store — the caller (coordinator) enforces that ordering.
func (idx *Index) CommitFile(ctx context.Context, relPath string, timestampMs int64, blocks []BlockPlan) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin commit for %s: %v", engerr.ErrDatabase, relPath, err)
	}
	defer tx.Rollback()

	fileID, err := idx.resolveFile(ctx, tx, relPath)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO alias(file_id, timestamp_ms, is_null) VALUES (?, ?, 0)`, fileID, timestampMs)
	if err != nil {
		return fmt.Errorf("%w: insert alias for %s: %v", engerr.ErrDatabase, relPath, err)
	}
	aliasID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %v", engerr.ErrDatabase, err)
	}

	for ordinal, b := range blocks {
		blockID, err := idx.resolveBlock(ctx, tx, b.Hash, b.Size)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alias_block(alias_id, ordinal, block_id) VALUES (?, ?, ?)`,
			aliasID, ordinal, blockID); err != nil {
			return fmt.Errorf("%w: insert alias_block for %s ordinal %d: %v", engerr.ErrDatabase, relPath, ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %v", engerr.ErrDatabase, relPath, err)
	}
	return nil
}

// CommitNullAlias appends a null alias marking relPath deleted/renamed away
// as of timestampMs (SPEC_FULL's supplemented null-alias pass).
func (idx *Index) CommitNullAlias(ctx context.Context, relPath string, timestampMs int64) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin null alias for %s: %v", engerr.ErrDatabase, relPath, err)
	}
	defer tx.Rollback()

	fileID, err := idx.resolveFile(ctx, tx, relPath)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alias(file_id, timestamp_ms, is_null) VALUES (?, ?, 1)`, fileID, timestampMs); err != nil {
		return fmt.Errorf("%w: insert null alias for %s: %v", engerr.ErrDatabase, relPath, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit null alias %s: %v", engerr.ErrDatabase, relPath, err)
	}
	return nil
}

// resolveBlock inserts a block row if hash is new (size records the
// compressed payload length) or returns the existing row id — idempotent
// per Testable Property 5 (re-running backup never re-encrypts a committed
// block).
func (idx *Index) resolveBlock(ctx context.Context, tx *sql.Tx, hash string, size int) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM block WHERE hash = ?`, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("%w: query block %s: %v", engerr.ErrDatabase, hash, err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO block(hash, size) VALUES (?, ?)`, hash, size)
	if err != nil {
		return 0, fmt.Errorf("%w: insert block %s: %v", engerr.ErrDatabase, hash, err)
	}
	return res.LastInsertId()
}
