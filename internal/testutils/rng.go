// Package testutils provides helpers shared by the test suites.
package testutils

import (
	"io"

	"golang.org/x/crypto/chacha20"
)

// NewSeededRandom returns a deterministic stream of pseudo-random bytes
// derived from the seed. Tests use it in place of crypto/rand.Reader to make
// nonces, key material, and whole ceremony transcripts reproducible between
// runs.
func NewSeededRandom(seed byte) io.Reader {
	var key [chacha20.KeySize]byte
	for i := range key {
		key[i] = seed
	}
	var nonce [chacha20.NonceSize]byte

	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Static key and nonce sizes; cannot happen.
		panic(err)
	}

	return &streamReader{cipher}
}

type streamReader struct {
	cipher *chacha20.Cipher
}

func (r *streamReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 0
	}
	r.cipher.XORKeyStream(b, b)
	return len(b), nil
}
