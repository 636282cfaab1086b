package index

import (
	"context"
	"fmt"

	"github.com/coldvault/coldvault/internal/engerr"
)

// dirpathCTE reconstructs each directory's full slash-joined path by
// walking the parent chain — SQLite has no native path type, so the
// recursive CTE does the joining the relational way.
const dirpathCTE = `
WITH RECURSIVE dirpath(id, path) AS (
	SELECT id, '' FROM directory WHERE parent_id IS NULL
	UNION ALL
	SELECT d.id, CASE WHEN dp.path = '' THEN d.name ELSE dp.path || '/' || d.name END
	FROM directory d JOIN dirpath dp ON d.parent_id = dp.id
)
`

// visibleAliasQuery picks, per file, the alias with the greatest
// timestamp_ms not exceeding the snapshot cutoff — the "visible alias" of
// §3.
const visibleAliasQuery = dirpathCTE + `,
ranked AS (
	SELECT a.id AS alias_id, a.file_id, a.is_null,
	       ROW_NUMBER() OVER (PARTITION BY a.file_id ORDER BY a.timestamp_ms DESC, a.id DESC) AS rn
	FROM alias a
	WHERE a.timestamp_ms <= ?
)
SELECT
	CASE WHEN dp.path = '' THEN f.name ELSE dp.path || '/' || f.name END AS full_path,
	r.alias_id, r.is_null
FROM ranked r
JOIN file f ON f.id = r.file_id
JOIN dirpath dp ON dp.id = f.directory_id
WHERE r.rn = 1
`

// SnapshotEntry is one path's visible content at a chosen timestamp.
// BlockHashes is empty for a present, zero-length file. SnapshotAt omits
// paths whose visible alias is null, so it never sets Deleted.
type SnapshotEntry struct {
	Path        string
	BlockHashes []string
	Deleted     bool
}

// SnapshotAt resolves every visible non-deleted alias at timestampMs,
// together with each one's ordered block hash list, reproducing the
// snapshot described in §3.
func (idx *Index) SnapshotAt(ctx context.Context, timestampMs int64) ([]SnapshotEntry, error) {
	rows, err := idx.db.QueryContext(ctx, visibleAliasQuery+" AND r.is_null = 0", timestampMs)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot query: %v", engerr.ErrDatabase, err)
	}
	defer rows.Close()

	type aliasRow struct {
		path    string
		aliasID int64
	}
	var present []aliasRow
	for rows.Next() {
		var r aliasRow
		var isNull int
		if err := rows.Scan(&r.path, &r.aliasID, &isNull); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot row: %v", engerr.ErrDatabase, err)
		}
		present = append(present, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate snapshot rows: %v", engerr.ErrDatabase, err)
	}

	entries := make([]SnapshotEntry, 0, len(present))
	for _, r := range present {
		hashes, err := idx.aliasBlockHashes(ctx, r.aliasID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, SnapshotEntry{Path: r.path, BlockHashes: hashes})
	}
	return entries, nil
}

// VisiblePathsAt returns the set of paths with a non-null visible alias at
// timestampMs — used by the null-alias detection pass to find paths that
// used to be present but were not observed in the current scan.
func (idx *Index) VisiblePathsAt(ctx context.Context, timestampMs int64) (map[string]bool, error) {
	rows, err := idx.db.QueryContext(ctx, visibleAliasQuery+" AND r.is_null = 0", timestampMs)
	if err != nil {
		return nil, fmt.Errorf("%w: visible paths query: %v", engerr.ErrDatabase, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var path string
		var aliasID int64
		var isNull int
		if err := rows.Scan(&path, &aliasID, &isNull); err != nil {
			return nil, fmt.Errorf("%w: scan visible path row: %v", engerr.ErrDatabase, err)
		}
		out[path] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate visible path rows: %v", engerr.ErrDatabase, err)
	}
	return out, nil
}

// aliasBlockHashes returns the ordered block hash sequence for aliasID,
// verifying ordinals are contiguous from 0 (SPEC_FULL's alias_block
// integrity check) so restore never silently reorders a corrupt index.
func (idx *Index) aliasBlockHashes(ctx context.Context, aliasID int64) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT ab.ordinal, b.hash
		FROM alias_block ab
		JOIN block b ON b.id = ab.block_id
		WHERE ab.alias_id = ?
		ORDER BY ab.ordinal ASC`, aliasID)
	if err != nil {
		return nil, fmt.Errorf("%w: query alias_block for alias %d: %v", engerr.ErrDatabase, aliasID, err)
	}
	defer rows.Close()

	var hashes []string
	expected := 0
	for rows.Next() {
		var ordinal int
		var hash string
		if err := rows.Scan(&ordinal, &hash); err != nil {
			return nil, fmt.Errorf("%w: scan alias_block row: %v", engerr.ErrDatabase, err)
		}
		if ordinal != expected {
			return nil, fmt.Errorf("%w: alias %d has non-contiguous ordinals (expected %d, got %d)",
				engerr.ErrFormat, aliasID, expected, ordinal)
		}
		hashes = append(hashes, hash)
		expected++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate alias_block rows: %v", engerr.ErrDatabase, err)
	}
	return hashes, nil
}
