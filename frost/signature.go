package frost

import (
	"fmt"
	"math/big"
)

// Signature is a Schnorr signature produced by the [FROST] signature share
// aggregation, consisting of an Element R and Scalar z.
type Signature struct {
	R *Point
	Z *big.Int
}

// Bytes returns the 64-byte [BIP-340] wire form of the signature:
// 32 bytes of x(R) followed by 32 bytes of z.
func (s *Signature) Bytes() [64]byte {
	var b [64]byte
	s.R.X.FillBytes(b[0:32])
	s.Z.FillBytes(b[32:64])
	return b
}

// ParseSignature converts the 64-byte [BIP-340] wire form back into a
// Signature. The R point is recovered with lift_x so it always has an even
// Y coordinate, exactly as [BIP-340] verification expects.
func ParseSignature(ciphersuite *Bip340Ciphersuite, b [64]byte) (*Signature, error) {
	r := new(big.Int).SetBytes(b[0:32])
	z := new(big.Int).SetBytes(b[32:64])

	if z.Cmp(ciphersuite.Curve().Order()) != -1 {
		return nil, fmt.Errorf("z >= N")
	}

	R, err := ciphersuite.liftX(r)
	if err != nil {
		return nil, fmt.Errorf("liftX failed: [%v]", err)
	}

	return &Signature{R, z}, nil
}
