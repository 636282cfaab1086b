// Package crypto implements the block cipher and key derivation the backup
// format is built on: AES-256-CBC with a per-block random IV, and a legacy
// double-MD5 passphrase KDF kept for wire compatibility with existing
// archives (see DESIGN.md's Open Question decisions).
package crypto

import (
	"crypto/md5"

	"github.com/coldvault/coldvault/internal/constants"
)

// kdfSalt is the fixed salt folded into every key derivation. It is not a
// secret — the passphrase is — but it must never change, or every existing
// archive becomes undecryptable.
var kdfSalt = []byte{0x9b, 0x5c, 0x1a, 0x42, 0xde, 0x07, 0x63, 0xf1, 0x88, 0x2e, 0xa5, 0x30, 0x6c, 0xb9, 0xfd, 0x14}

// DeriveKey derives the 32-byte AES-256 key for a passphrase.
//
// This is the historic, weak derivation documented in DESIGN.md: two rounds
// of MD5 over (salt || passphrase), concatenated to 32 bytes. It is
// preserved only for compatibility with archives written by earlier
// versions of the format; new deployments should expect this to be
// replaced by a memory-hard KDF (scrypt/argon2) behind a schema version
// bump, per constants.SchemaVersion.
func DeriveKey(passphrase string) []byte {
	input := append(append([]byte{}, kdfSalt...), []byte(passphrase)...)

	h1 := md5.Sum(input)
	h2 := md5.Sum(append(append([]byte{}, h1[:]...), input...))

	key := make([]byte, constants.AESKeySize)
	copy(key[:16], h1[:])
	copy(key[16:], h2[:])
	return key
}
