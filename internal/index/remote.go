package index

import (
	"fmt"
	"os"

	"github.com/coldvault/coldvault/internal/blockstore"
	"github.com/coldvault/coldvault/internal/compress"
	"github.com/coldvault/coldvault/internal/constants"
	"github.com/coldvault/coldvault/internal/crypto"
	"github.com/coldvault/coldvault/internal/engerr"
)

// ExportEncrypted reads the local index file whole, compresses and
// encrypts it as a single object (not content-addressed — it is a whole-
// file blob, re-written every run), and writes it to dest under
// constants.EncryptedIndexBlobName. This is the "single copy of the index
// file encrypted ... and written at the end of each successful backup run"
// persisted state described in §6, so a lost source tree is recoverable
// from the destination alone.
func (idx *Index) ExportEncrypted(cipher *crypto.Cipher, dest string) error {
	raw, err := os.ReadFile(idx.path)
	if err != nil {
		return fmt.Errorf("%w: read index file %s: %v", engerr.ErrIO, idx.path, err)
	}

	compressed, err := compress.Compress(raw)
	if err != nil {
		return err
	}
	object, err := cipher.Encrypt(compressed)
	if err != nil {
		return err
	}

	if err := blockstore.WriteBlob(dest, constants.EncryptedIndexBlobName, object); err != nil {
		return err
	}
	return nil
}

// DecryptRemoteCopy decrypts and decompresses the encrypted index blob
// found at dest, returning the plaintext SQLite file bytes — used by
// restore, which has no access to the source tree's local index and must
// work from the destination-side copy alone.
func DecryptRemoteCopy(cipher *crypto.Cipher, dest string) ([]byte, error) {
	object, err := blockstore.ReadBlob(dest, constants.EncryptedIndexBlobName)
	if err != nil {
		return nil, err
	}
	compressed, err := cipher.Decrypt(object)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt index blob: %v", engerr.ErrCrypto, err)
	}
	raw, err := compress.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress index blob: %v", engerr.ErrFormat, err)
	}
	return raw, nil
}
