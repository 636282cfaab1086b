// Package compress stream-deflates plaintext blocks before encryption (C2)
// and reverses that on restore. Compression is mandatory — the format has
// no opt-out flag — so an empty-plaintext block still produces a
// non-empty, deterministic deflate stream.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/coldvault/coldvault/internal/engerr"
)

// Compress deflates plaintext at the default compression level, returning a
// self-delimiting compressed payload (flate.Writer flushes its own stream
// terminator on Close).
func Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: new deflate writer: %v", engerr.ErrCrypto, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: deflate write: %v", engerr.ErrCrypto, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: deflate close: %v", engerr.ErrCrypto, err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a payload produced by Compress. A truncated or
// corrupt stream surfaces as engerr.ErrFormat — the caller attributes it to
// the block that failed.
func Decompress(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", engerr.ErrFormat, err)
	}
	return plaintext, nil
}
