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

// newVerifyCmd is SPEC_FULL's supplemented command: confirm every block
// the current snapshot references actually exists at the destination
// (Testable Property 1), independent of performing a restore.
func newVerifyCmd() *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm every block the current snapshot references exists at the destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			destDir, err := pathutil.ResolveAbsolutePath(dest)
			if err != nil {
				return fmt.Errorf("resolve destination: %w", err)
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

			ctx := cmd.Context()
			idx, cleanup, err := index.OpenFromBytes(ctx, raw)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := blockstore.Open(destDir)
			if err != nil {
				return err
			}

			report, err := restore.Verify(ctx, idx, store)
			if err != nil {
				return err
			}

			logger.Infof("checked %d file(s), %d block(s)", report.FilesChecked, report.BlocksChecked)
			if len(report.Missing) == 0 {
				logger.Infof("no missing blocks")
				return nil
			}

			for _, m := range report.Missing {
				fmt.Fprintf(os.Stderr, "missing block %s referenced by %s\n", m.Hash, m.Path)
			}
			os.Exit(ExitPartialErrors)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory holding encrypted blocks")
	cmd.MarkFlagRequired("dest")

	return cmd
}
