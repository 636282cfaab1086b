package compress

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 1000),
		bytes.Repeat([]byte{0x00, 0xFF, 0x42}, 7000),
	}

	for _, plaintext := range cases {
		compressed, err := Compress(plaintext)
		if err != nil {
			t.Fatalf("Compress(%d bytes): %v", len(plaintext), err)
		}
		got, err := Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch for %d byte input", len(plaintext))
		}
	}
}

func TestCompressEmptyIsNonEmptyStream(t *testing.T) {
	compressed, err := Compress(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) == 0 {
		t.Fatal("compressing the empty plaintext produced an empty stream; the format has no opt-out and must still be self-delimiting")
	}
}

func TestDecompressCorruptStreamIsError(t *testing.T) {
	_, err := Decompress([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err == nil {
		t.Fatal("expected an error decompressing a corrupt stream")
	}
}

func TestCompressReducesRepetitiveInput(t *testing.T) {
	plaintext := bytes.Repeat([]byte("a"), 100000)
	compressed, err := Compress(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(compressed) >= len(plaintext) {
		t.Fatalf("expected compression to shrink a highly repetitive input: got %d bytes from %d", len(compressed), len(plaintext))
	}
}
