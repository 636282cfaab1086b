package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/engerr"
	"github.com/coldvault/coldvault/internal/index"
	"github.com/coldvault/coldvault/internal/pathutil"
	"github.com/coldvault/coldvault/internal/restore"
)

func newRestoreCmd() *cobra.Command {
	var dest, out, glob string
	var timestampMs int64

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reassemble the snapshot visible at a timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			destDir, err := pathutil.ResolveAbsolutePath(dest)
			if err != nil {
				return fmt.Errorf("resolve destination: %w", err)
			}
			outDir, err := pathutil.ResolveAbsolutePath(out)
			if err != nil {
				return fmt.Errorf("resolve output directory: %w", err)
			}

			passphrase, err := PromptExistingPassphrase()
			if err != nil {
				return err
			}
			cipher := crypto.NewCipher(passphrase)

			raw, err := index.DecryptRemoteCopy(cipher, destDir)
			if err != nil {
				if errors.Is(err, engerr.ErrCrypto) || errors.Is(err, engerr.ErrFormat) {
					fmt.Fprintln(os.Stderr, "passphrase does not match this archive")
					os.Exit(ExitKeyMismatch)
				}
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			idx, cleanup, err := index.OpenFromBytes(ctx, raw)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := idx.GetConfig(ctx)
			if err != nil {
				return err
			}
			if err := crypto.VerifyPassword(passphrase, cfg.PasswordHash); err != nil {
				fmt.Fprintln(os.Stderr, "passphrase does not match this archive")
				os.Exit(ExitKeyMismatch)
			}

			store, err := blockstore.Open(destDir)
			if err != nil {
				return err
			}

			result, err := restore.Run(ctx, idx, store, cipher, outDir, restore.Options{
				TimestampMs: timestampMs,
				Glob:        glob,
			})
			if err != nil {
				return err
			}

			logger.Infof("restored %d file(s), %d excluded by filter", result.FilesRestored, result.FilesSkipped)
			for _, fe := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", fe.Error())
			}
			if len(result.Errors) > 0 {
				os.Exit(ExitPartialErrors)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory holding encrypted blocks")
	cmd.Flags().StringVarP(&out, "out", "s", "", "directory to restore files into")
	cmd.Flags().Int64VarP(&timestampMs, "timestamp", "t", 0, "milliseconds since the epoch (default: now)")
	cmd.Flags().StringVarP(&glob, "filter", "f", "**", "POSIX glob filtering restored paths")
	cmd.MarkFlagRequired("dest")
	cmd.MarkFlagRequired("out")

	return cmd
}
