package index

import (
	"context"
	"fmt"

	"github.com/coldvault/coldvault/internal/engerr"
)

// PruneSupersededAliases deletes aliases (and their alias_block rows) that
// are both older than cutoffMs and superseded — i.e. some later alias
// exists for the same file — per §4.4's cleanup query. The most recent
// alias for a file is never pruned, even if it is older than cutoffMs,
// since it is still the visible alias for "now".
func (idx *Index) PruneSupersededAliases(ctx context.Context, cutoffMs int64) (removed int, err error) {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin prune: %v", engerr.ErrDatabase, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT a.id
		FROM alias a
		WHERE a.timestamp_ms < ?
		AND EXISTS (
			SELECT 1 FROM alias a2
			WHERE a2.file_id = a.file_id AND a2.timestamp_ms > a.timestamp_ms
		)`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("%w: query superseded aliases: %v", engerr.ErrDatabase, err)
	}
	var aliasIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan superseded alias: %v", engerr.ErrDatabase, err)
		}
		aliasIDs = append(aliasIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("%w: iterate superseded aliases: %v", engerr.ErrDatabase, err)
	}
	rows.Close()

	for _, id := range aliasIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM alias_block WHERE alias_id = ?`, id); err != nil {
			return 0, fmt.Errorf("%w: delete alias_block for alias %d: %v", engerr.ErrDatabase, id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM alias WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("%w: delete alias %d: %v", engerr.ErrDatabase, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit prune: %v", engerr.ErrDatabase, err)
	}
	return len(aliasIDs), nil
}

// UnreferencedBlock is a block row with no alias_block referencing it —
// safe to reclaim.
type UnreferencedBlock struct {
	ID   int64
	Hash string
}

// UnreferencedBlocks returns every block row whose reference count has
// dropped to zero, per §4.4's cleanup query. The caller is expected to
// delete each EncryptedBlockObject first, then call DeleteBlockRow —
// object before row, per §3's Lifecycle note.
func (idx *Index) UnreferencedBlocks(ctx context.Context) ([]UnreferencedBlock, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT b.id, b.hash
		FROM block b
		WHERE NOT EXISTS (SELECT 1 FROM alias_block ab WHERE ab.block_id = b.id)`)
	if err != nil {
		return nil, fmt.Errorf("%w: query unreferenced blocks: %v", engerr.ErrDatabase, err)
	}
	defer rows.Close()

	var out []UnreferencedBlock
	for rows.Next() {
		var b UnreferencedBlock
		if err := rows.Scan(&b.ID, &b.Hash); err != nil {
			return nil, fmt.Errorf("%w: scan unreferenced block: %v", engerr.ErrDatabase, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate unreferenced blocks: %v", engerr.ErrDatabase, err)
	}
	return out, nil
}

// DeleteBlockRow removes a block row by id. Called only after the
// corresponding object has already been removed from the destination —
// the row deletion is the half of cleanup that makes the reclaim visible
// to future runs; if a crash happens between the two, the next cleanup
// pass finds the object already gone (Delete is IGNORE_MISSING) and simply
// deletes the row, which is the idempotent behavior §9 asks for.
func (idx *Index) DeleteBlockRow(ctx context.Context, id int64) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM block WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete block row %d: %v", engerr.ErrDatabase, id, err)
	}
	return nil
}
