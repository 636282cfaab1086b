// Package scanner walks the source tree, filters out the hidden index
// file, and orders the results by ascending modification time so that, in
// the presence of a timeout, the oldest-unprocessed-but-changed files are
// handled first and progress is monotone on re-run (C5).
package scanner

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/engerr"
	"github.com/coldvault/coldvault/internal/localfs"
)

// Entry is one file observed by the scan.
type Entry struct {
	AbsPath string
	RelPath string // slash-joined, relative to the source root
	ModTime time.Time
	Size    int64
}

// Scan walks root depth-first, skipping the hidden index file (and any
// stray sibling with the same name one level into any subdirectory is
// still walked — only the root-level index file is excluded, matching
// where init places it), and returns every regular file found, ordered by
// ascending mtime across the entire traversal.
func Scan(root string) ([]Entry, error) {
	var entries []Entry

	opts := localfs.WalkOptions{IncludeHidden: true, SkipHiddenDirs: false}
	err := localfs.WalkFiles(root, opts, func(fe localfs.FileEntry) error {
		rel, err := filepath.Rel(root, fe.Path)
		if err != nil {
			return fmt.Errorf("%w: relativize %s: %v", engerr.ErrIO, fe.Path, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == constants.IndexFileName {
			return nil
		}
		entries = append(entries, Entry{
			AbsPath: fe.Path,
			RelPath: rel,
			ModTime: fe.ModTime,
			Size:    fe.Size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", engerr.ErrIO, root, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// ObservedPaths returns the set of relative paths present in entries, used
// by the coordinator's null-alias detection pass to tell which previously
// visible paths went missing in this run.
func ObservedPaths(entries []Entry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.RelPath] = true
	}
	return out
}
