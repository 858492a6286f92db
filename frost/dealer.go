package frost

import (
	"fmt"
	"io"
	"math/big"
)

// MaxGroupSize is the maximum number of participants the trusted dealer
// produces key material for.
const MaxGroupSize = 255

// ErrInvalidParameters is returned when the signing threshold or the group
// size requested from the dealer is out of range.
var ErrInvalidParameters = fmt.Errorf("invalid parameters")

// SigningShare is the secret key material of a single participant: the share
// of the group secret key produced by the trusted dealer. The share never
// leaves the owning participant.
type SigningShare struct {
	signerIndex uint64
	share       *big.Int
}

// SignerIndex returns the index of the participant owning the share.
func (ss *SigningShare) SignerIndex() uint64 {
	return ss.signerIndex
}

// Zeroize overwrites the share scalar with zero.
func (ss *SigningShare) Zeroize() {
	if ss.share != nil {
		ss.share.SetInt64(0)
	}
}

// PublicKeyPackage is the public part of the key material produced by the
// trusted dealer: the group public key and the per-participant verifying
// shares. The package is immutable after key generation and is required by
// every signer and by the coordinator.
type PublicKeyPackage struct {
	threshold int
	groupSize int

	publicKey       *Point
	verifyingShares map[uint64]*Point
}

// Threshold returns the signing threshold t.
func (pkp *PublicKeyPackage) Threshold() int {
	return pkp.threshold
}

// GroupSize returns the number of participants n.
func (pkp *PublicKeyPackage) GroupSize() int {
	return pkp.groupSize
}

// PublicKey returns the group public key. The point always has an even Y
// coordinate, as required for the x-only form used by [BIP-340].
func (pkp *PublicKeyPackage) PublicKey() *Point {
	return pkp.publicKey
}

// VerifyingShare returns the public verifying share of the given participant,
// or nil when the participant is not a member of the group.
func (pkp *PublicKeyPackage) VerifyingShare(signerIndex uint64) *Point {
	return pkp.verifyingShares[signerIndex]
}

// IsConsistentShare checks the signing share against the verifying share
// recorded for its owner: sk_i * G must equal PK_i.
func (pkp *PublicKeyPackage) IsConsistentShare(
	ciphersuite Ciphersuite,
	share *SigningShare,
) bool {
	verifyingShare, ok := pkp.verifyingShares[share.signerIndex]
	if !ok {
		return false
	}

	point := ciphersuite.Curve().EcBaseMul(share.share)
	return point.X.Cmp(verifyingShare.X) == 0 &&
		point.Y.Cmp(verifyingShare.Y) == 0
}

// GenerateKeyMaterial implements the trusted dealer key generation: it draws
// a random group secret key, secret-shares it with a random polynomial of
// degree threshold-1, and returns the public key package along with one
// signing share per participant. Participants are indexed 1..groupSize.
//
// The group public key is normalized to have an even Y coordinate, as
// expected by the [BIP-340] x-only public key form; the secret shares are
// generated for the matching secret.
//
// Randomness is drawn from the provided reader; production callers pass
// crypto/rand.Reader.
func GenerateKeyMaterial(
	random io.Reader,
	ciphersuite Ciphersuite,
	threshold int,
	groupSize int,
) (*PublicKeyPackage, []*SigningShare, error) {
	if threshold < 1 || groupSize < threshold || groupSize > MaxGroupSize {
		return nil, nil, fmt.Errorf(
			"%w: need 1 <= threshold <= groupSize <= %d, "+
				"has threshold=%d, groupSize=%d",
			ErrInvalidParameters,
			MaxGroupSize,
			threshold,
			groupSize,
		)
	}

	curve := ciphersuite.Curve()
	order := curve.Order()

	secretKey, err := randomScalar(random, order)
	if err != nil {
		return nil, nil, fmt.Errorf("secret key generation failed: [%v]", err)
	}

	publicKey := curve.EcBaseMul(secretKey)

	// From [BIP-340]:
	// Let d' = int(sk)
	// Let P = d'*G
	// Let d = d' if has_even_y(P), otherwise let d = n - d'.
	if !publicKey.HasEvenY() {
		secretKey.Sub(order, secretKey)
		publicKey = curve.EcBaseMul(secretKey)
	}

	coefficients, err := generatePolynomial(random, secretKey, threshold, order)
	if err != nil {
		return nil, nil, fmt.Errorf("polynomial generation failed: [%v]", err)
	}

	shares := make([]*SigningShare, groupSize)
	verifyingShares := make(map[uint64]*Point, groupSize)

	for i := 0; i < groupSize; i++ {
		signerIndex := uint64(i + 1)
		share := evaluatePolynomial(coefficients, signerIndex, order)

		shares[i] = &SigningShare{signerIndex, share}
		verifyingShares[signerIndex] = curve.EcBaseMul(share)
	}

	// The dealer does not hold on to the group secret key or the
	// polynomial; the shares are the only way to use the key from now on.
	secretKey.SetInt64(0)
	for _, coefficient := range coefficients {
		coefficient.SetInt64(0)
	}

	return &PublicKeyPackage{
		threshold:       threshold,
		groupSize:       groupSize,
		publicKey:       publicKey,
		verifyingShares: verifyingShares,
	}, shares, nil
}

// generatePolynomial generates a polynomial of degree equal to threshold-1
// with random coefficients, each lower than the group order. The secret key
// is the constant term.
func generatePolynomial(
	random io.Reader,
	secretKey *big.Int,
	threshold int,
	order *big.Int,
) ([]*big.Int, error) {
	coefficients := make([]*big.Int, threshold)
	coefficients[0] = new(big.Int).Set(secretKey)
	for i := 1; i < threshold; i++ {
		coefficient, err := randomScalar(random, order)
		if err != nil {
			return nil, err
		}
		coefficients[i] = coefficient
	}

	return coefficients, nil
}

// evaluatePolynomial calculates the polynomial value for the given x modulo
// group order.
func evaluatePolynomial(
	coefficients []*big.Int,
	x uint64,
	order *big.Int,
) *big.Int {
	result := new(big.Int)
	bigX := new(big.Int).SetUint64(x)

	for i, coefficient := range coefficients {
		term := new(big.Int).Exp(bigX, big.NewInt(int64(i)), order)
		term.Mul(term, coefficient)
		result.Add(result, term)
		result.Mod(result, order)
	}

	return result
}

// randomScalar draws 32 bytes from the random source and reduces them modulo
// the group order. See the bias note in hashToScalar; the reduction is
// acceptable for secp256k1.
func randomScalar(random io.Reader, order *big.Int) (*big.Int, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(random, b); err != nil {
		return nil, err
	}

	scalar := new(big.Int).SetBytes(b)
	scalar.Mod(scalar, order)

	return scalar, nil
}
