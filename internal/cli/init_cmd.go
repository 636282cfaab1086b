package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/index"
	"github.com/coldvault/coldvault/internal/pathutil"
)

func newInitCmd() *cobra.Command {
	var source, dest string
	var blockSize int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the hidden index at the source root",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := pathutil.ResolveAbsolutePath(source)
			if err != nil {
				return fmt.Errorf("resolve source: %w", err)
			}
			dst, err := pathutil.ResolveAbsolutePath(dest)
			if err != nil {
				return fmt.Errorf("resolve destination: %w", err)
			}
			if dst == "" {
				return fmt.Errorf("destination (-d) is required")
			}

			indexPath := filepath.Join(src, constants.IndexFileName)
			if _, err := os.Stat(indexPath); err == nil {
				return fmt.Errorf("%s is already initialized (found %s)", src, indexPath)
			}

			passphrase, err := PromptNewPassphrase()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			idx, err := index.Open(ctx, indexPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			passwordHash := crypto.PasswordHash(passphrase)
			if err := idx.InitSettings(ctx, blockSize, dst, passwordHash, time.Now()); err != nil {
				return err
			}

			logger.Infof("initialized %s (block size %d bytes, destination %s)", src, blockSize, dst)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source directory to initialize (default: cwd)")
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory for backed-up blocks")
	cmd.Flags().IntVar(&blockSize, "block-size", constants.DefaultBlockSize, "plaintext block size in bytes")
	cmd.MarkFlagRequired("dest")

	return cmd
}
