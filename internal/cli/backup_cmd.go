package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/coordinator"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/engerr"
	"github.com/coldvault/coldvault/internal/index"
	"github.com/coldvault/coldvault/internal/pathutil"
	"github.com/coldvault/coldvault/internal/pipeline"
)

func newBackupCmd() *cobra.Command {
	var source, dest string
	var timeoutSeconds int
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up changed files from source to destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := pathutil.ResolveAbsolutePath(source)
			if err != nil {
				return fmt.Errorf("resolve source: %w", err)
			}

			indexPath := filepath.Join(src, constants.IndexFileName)
			if _, err := os.Stat(indexPath); err != nil {
				return fmt.Errorf("%s is not initialized: run 'coldvault init' first", src)
			}

			ctx, cancel := signalContext()
			defer cancel()

			idx, err := index.Open(ctx, indexPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			cfg, err := idx.GetConfig(ctx)
			if err != nil {
				return err
			}

			destDir := cfg.Destination
			if dest != "" {
				resolved, err := pathutil.ResolveAbsolutePath(dest)
				if err != nil {
					return fmt.Errorf("resolve destination: %w", err)
				}
				destDir = resolved
				if err := idx.UpdateDestination(ctx, destDir); err != nil {
					return err
				}
			}

			passphrase, err := PromptExistingPassphrase()
			if err != nil {
				return err
			}
			if err := crypto.VerifyPassword(passphrase, cfg.PasswordHash); err != nil {
				fmt.Fprintln(os.Stderr, "passphrase does not match this archive")
				os.Exit(ExitKeyMismatch)
			}
			cipher := crypto.NewCipher(passphrase)

			store, err := blockstore.Open(destDir)
			if err != nil {
				return err
			}

			workers := runtime.NumCPU()
			if workers > constants.DefaultWorkers {
				workers = constants.DefaultWorkers
			}
			if workers < 1 {
				workers = 1
			}

			pl := pipeline.New(store, cipher, pipeline.Config{
				BlockSize:  cfg.BlockSize,
				Workers:    workers,
				QueueDepth: constants.DefaultQueueDepth,
			})
			defer pl.Close()

			co := coordinator.New(idx, pl, src)
			result, err := co.Run(ctx, coordinator.Config{
				Deadline:      time.Duration(timeoutSeconds) * time.Second,
				RetentionDays: retentionDays,
			})
			if err != nil {
				if errors.Is(err, engerr.ErrKeyMismatch) {
					os.Exit(ExitKeyMismatch)
				}
				return err
			}

			if err := idx.ExportEncrypted(cipher, destDir); err != nil {
				logger.Warnf("could not export encrypted index copy: %v", err)
			}

			logger.Infof("committed %d file(s), skipped %d unchanged, %d failed; pruned %d alias(es), reclaimed %d block(s)",
				result.FilesCommitted, result.FilesSkipped, result.FilesFailed, result.PrunedAliases, result.ReclaimedBlocks)
			if result.TimedOut {
				logger.Infof("stopped cleanly at the deadline; re-run to continue")
			}
			for _, fe := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", fe.Error())
			}

			if len(result.Errors) > 0 {
				os.Exit(ExitPartialErrors)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source directory (default: cwd)")
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory (default: recorded at init)")
	cmd.Flags().IntVarP(&timeoutSeconds, "timeout", "T", 0, "wall-clock deadline in seconds (0 = no limit)")
	cmd.Flags().IntVarP(&retentionDays, "retention", "a", constants.DefaultRetentionDays, "days a superseded version is retained")

	return cmd
}
