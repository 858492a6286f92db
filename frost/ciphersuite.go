package frost

import (
	"fmt"
	"math/big"
)

// Ciphersuite interface abstracts out the particular ciphersuite implementation
// used for the [FROST] protocol execution. This is a strategy design pattern
// allowing to use [FROST] with different ciphersuites, like BIP-340 (secp256k1)
// or Jubjub. A [FROST] ciphersuite must specify the underlying prime-order group
// details and cryptographic hash functions.
type Ciphersuite interface {
	Hashing

	Curve() Curve

	// EncodePoint encodes the given elliptic curve point the way the
	// ciphersuite's signature scheme expects it in the challenge input.
	// For [BIP-340] this is the 32-byte x-only encoding, unlike the
	// generic SerializePoint from the Curve interface which keeps both
	// coordinates.
	EncodePoint(point *Point) []byte

	// VerifySignature verifies the provided signature for the message
	// against the group public key. The function returns true and nil
	// error when the signature is valid. The function returns false and
	// an error when the signature is invalid. The error provides a
	// detailed explanation on why the signature verification failed.
	VerifySignature(signature *Signature, publicKey *Point, message []byte) (bool, error)
}

// Hashing interface abstracts out hash functions implementations specific to the
// ciphersuite used.
//
// [FROST] requires the use of a cryptographically secure hash function,
// generically written as H. Using H, [FROST] introduces distinct domain-separated
// hashes, H1, H2, H3, H4, and H5. The details of H1, H2, H3, H4, and H5 vary
// based on ciphersuite.
type Hashing interface {
	H1(m []byte) *big.Int
	H2(m []byte, ms ...[]byte) *big.Int
	H3(m []byte, ms ...[]byte) *big.Int
	H4(m []byte) []byte
	H5(m []byte) []byte
}

// Curve interface abstracts out the particular elliptic curve implementation
// specific to the ciphersuite used.
type Curve interface {
	// EcBaseMul returns k*G, where G is the base point of the group.
	EcBaseMul(k *big.Int) *Point

	// EcMul returns k*P, where P is the point provided as a parameter.
	EcMul(p *Point, k *big.Int) *Point

	// EcAdd returns the sum of two elliptic curve points.
	EcAdd(a *Point, b *Point) *Point

	// EcSub returns the difference of two elliptic curve points.
	EcSub(a *Point, b *Point) *Point

	// Identity returns the elliptic curve identity element.
	Identity() *Point

	// Order returns the order of the group produced by the elliptic
	// curve generator.
	Order() *big.Int

	// IsPointOnCurve validates if the point lies on the curve and is not
	// an identity element.
	IsPointOnCurve(p *Point) bool

	// SerializedPointLength returns the byte length of a serialized curve
	// point, as produced by SerializePoint.
	SerializedPointLength() int

	// SerializePoint serializes the provided elliptic curve point to
	// bytes. The slice length is equal to SerializedPointLength().
	SerializePoint(p *Point) []byte

	// DeserializePoint deserializes byte slice to an elliptic curve
	// point. The byte slice length must be equal to
	// SerializedPointLength(). The deserialized point must be a valid,
	// non-identity point lying on the curve. Otherwise, the function
	// returns nil.
	DeserializePoint(b []byte) *Point
}

// Point represents a valid point on the Curve.
type Point struct {
	X *big.Int // the X coordinate of the point
	Y *big.Int // the Y coordinate of the point
}

// String transforms the point into a short string representation. Useful for
// logging and debugging.
func (p *Point) String() string {
	return fmt.Sprintf("Point[X=0x%v, Y=0x%v]", p.X.Text(16), p.Y.Text(16))
}

// HasEvenY returns true when the Y coordinate of the point is even.
func (p *Point) HasEvenY() bool {
	return p.Y.Bit(0) == 0
}
