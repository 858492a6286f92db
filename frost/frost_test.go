package frost

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold.network/tapsign/internal/testutils"
)

var ciphersuite = NewBip340Ciphersuite()

// createGroup runs the trusted dealer with a deterministic random source and
// returns one signer per group member.
func createGroup(
	t *testing.T,
	seed byte,
	threshold int,
	groupSize int,
) (*PublicKeyPackage, []*Signer) {
	random := testutils.NewSeededRandom(seed)

	pkg, shares, err := GenerateKeyMaterial(random, ciphersuite, threshold, groupSize)
	require.NoError(t, err)

	signers := make([]*Signer, groupSize)
	for i, share := range shares {
		signers[i] = NewSigner(ciphersuite, pkg.PublicKey(), share)
	}

	return pkg, signers
}

func executeRound1(
	t *testing.T,
	seed byte,
	signers []*Signer,
) ([]*Nonce, []*NonceCommitment) {
	random := testutils.NewSeededRandom(seed)

	nonces := make([]*Nonce, len(signers))
	commitments := make([]*NonceCommitment, len(signers))

	for i, signer := range signers {
		n, c, err := signer.Round1(random)
		require.NoError(t, err)

		nonces[i] = n
		commitments[i] = c
	}

	return nonces, commitments
}

func executeRound2(
	t *testing.T,
	signers []*Signer,
	message []byte,
	nonces []*Nonce,
	commitments []*NonceCommitment,
) []*big.Int {
	signatureShares := make([]*big.Int, len(signers))

	for i, signer := range signers {
		signatureShare, err := signer.Round2(message, nonces[i], commitments)
		require.NoError(t, err)

		signatureShares[i] = signatureShare
	}

	return signatureShares
}

func TestFrostRoundtrip(t *testing.T) {
	tests := map[string]struct {
		threshold int
		groupSize int
	}{
		"1-of-1": {threshold: 1, groupSize: 1},
		"2-of-3": {threshold: 2, groupSize: 3},
		"3-of-5": {threshold: 3, groupSize: 5},
		"5-of-8": {threshold: 5, groupSize: 8},
	}

	message := []byte("For even the very wise cannot see all ends")

	for testName, test := range tests {
		t.Run(testName, func(t *testing.T) {
			pkg, allSigners := createGroup(t, 0x02, test.threshold, test.groupSize)
			signers := allSigners[:test.threshold]

			nonces, commitments := executeRound1(t, 0x03, signers)
			signatureShares := executeRound2(t, signers, message, nonces, commitments)

			coordinator := NewCoordinator(ciphersuite, pkg.PublicKey())
			signature, err := coordinator.Aggregate(message, commitments, signatureShares)
			require.NoError(t, err)

			valid, err := ciphersuite.VerifySignature(
				signature,
				pkg.PublicKey(),
				message,
			)
			require.NoError(t, err)
			assert.True(t, valid)
		})
	}
}

// TestFrostRoundtrip_AnySignerSubset picks every threshold-sized signer
// subset of a 2-of-3 group and checks all of them produce a valid signature.
func TestFrostRoundtrip_AnySignerSubset(t *testing.T) {
	message := []byte("subset test message")
	subsets := [][]int{{0, 1}, {0, 2}, {1, 2}}

	for _, subset := range subsets {
		pkg, allSigners := createGroup(t, 0x04, 2, 3)

		signers := []*Signer{allSigners[subset[0]], allSigners[subset[1]]}

		nonces, commitments := executeRound1(t, 0x05, signers)
		signatureShares := executeRound2(t, signers, message, nonces, commitments)

		coordinator := NewCoordinator(ciphersuite, pkg.PublicKey())
		signature, err := coordinator.Aggregate(message, commitments, signatureShares)
		require.NoError(t, err)

		valid, err := ciphersuite.VerifySignature(signature, pkg.PublicKey(), message)
		require.NoError(t, err)
		assert.True(t, valid, "subset %v", subset)
	}
}

// TestFrostRoundtrip_Bip340Reference verifies the aggregated signature with
// the independent btcec schnorr implementation.
func TestFrostRoundtrip_Bip340Reference(t *testing.T) {
	random := testutils.NewSeededRandom(0x06)
	message := make([]byte, 32)
	_, err := random.Read(message)
	require.NoError(t, err)

	pkg, allSigners := createGroup(t, 0x07, 3, 5)
	signers := allSigners[:3]

	nonces, commitments := executeRound1(t, 0x08, signers)
	signatureShares := executeRound2(t, signers, message, nonces, commitments)

	coordinator := NewCoordinator(ciphersuite, pkg.PublicKey())
	signature, err := coordinator.Aggregate(message, commitments, signatureShares)
	require.NoError(t, err)

	signatureBytes := signature.Bytes()
	referenceSignature, err := schnorr.ParseSignature(signatureBytes[:])
	require.NoError(t, err)

	referenceKey, err := schnorr.ParsePubKey(
		ciphersuite.EncodePoint(pkg.PublicKey()),
	)
	require.NoError(t, err)

	assert.True(t, referenceSignature.Verify(message, referenceKey))
}

func TestVerifyShare(t *testing.T) {
	message := []byte("share verification message")

	pkg, allSigners := createGroup(t, 0x09, 2, 3)
	signers := allSigners[:2]

	nonces, commitments := executeRound1(t, 0x0a, signers)
	signatureShares := executeRound2(t, signers, message, nonces, commitments)

	coordinator := NewCoordinator(ciphersuite, pkg.PublicKey())

	for i, signer := range signers {
		valid, err := coordinator.VerifyShare(
			signer.SignerIndex(),
			pkg.VerifyingShare(signer.SignerIndex()),
			signatureShares[i],
			commitments,
			message,
		)
		require.NoError(t, err)
		assert.True(t, valid)
	}

	// A share tampered with must not verify.
	tampered := new(big.Int).Add(signatureShares[0], big.NewInt(1))
	valid, err := coordinator.VerifyShare(
		signers[0].SignerIndex(),
		pkg.VerifyingShare(signers[0].SignerIndex()),
		tampered,
		commitments,
		message,
	)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRound2_ValidationError(t *testing.T) {
	_, allSigners := createGroup(t, 0x0b, 2, 3)
	signers := allSigners[:2]

	nonces, commitments := executeRound1(t, 0x0c, signers)
	commitments[0].bindingNonceCommitment = &Point{big.NewInt(99), big.NewInt(88)}

	_, err := signers[1].Round2([]byte("dummy"), nonces[1], commitments)
	require.Error(t, err)
	assert.Contains(
		t,
		err.Error(),
		"binding nonce commitment from signer [1] is not a valid "+
			"non-identity point on the curve: [Point[X=0x63, Y=0x58]]",
	)
}

func TestValidateGroupCommitments_Errors(t *testing.T) {
	tests := map[string]struct {
		modifyCommitments func([]*NonceCommitment) []*NonceCommitment
		expectedError     string
	}{
		"nil in the array": {
			modifyCommitments: func(commitments []*NonceCommitment) []*NonceCommitment {
				commitments[1] = nil
				return commitments
			},
			expectedError: "commitment at position [1] is nil",
		},
		"commitment from the current signer is missing": {
			modifyCommitments: func(commitments []*NonceCommitment) []*NonceCommitment {
				// the test uses signers[0] so remove its commitment
				return commitments[1:]
			},
			expectedError: "current signer's commitment not found on the list",
		},
		"duplicate commitment": {
			modifyCommitments: func(commitments []*NonceCommitment) []*NonceCommitment {
				commitments[2] = commitments[1]
				return commitments
			},
			expectedError: "commitments not sorted in ascending order: " +
				"commitments[1].signerIndex=2, commitments[2].signerIndex=2",
		},
		"commitments in invalid order": {
			modifyCommitments: func(commitments []*NonceCommitment) []*NonceCommitment {
				commitments[1], commitments[2] = commitments[2], commitments[1]
				return commitments
			},
			expectedError: "commitments not sorted in ascending order: " +
				"commitments[1].signerIndex=3, commitments[2].signerIndex=2",
		},
	}

	for testName, test := range tests {
		t.Run(testName, func(t *testing.T) {
			_, signers := createGroup(t, 0x0d, 3, 3)
			_, commitments := executeRound1(t, 0x0e, signers)

			modified := test.modifyCommitments(commitments)
			validationErrors, participants := signers[0].validateGroupCommitments(modified)

			require.Nil(t, participants)
			require.NotNil(t, validationErrors)
			assert.Contains(t, validationErrors.Error(), test.expectedError)
		})
	}
}

func TestDeriveInterpolatingValue(t *testing.T) {
	var tests = map[string]struct {
		xi       uint64
		L        []uint64
		expected string
	}{
		// Lagrange coefficient l_0 is:
		//
		//       (x-4)(x-5)
		// l_0 = ----------
		//       (1-4)(1-5)
		//
		// Since x is always 0 for this function, l_0 = 20/12 (mod Q).
		//
		// Then we calculate ((12^-1 mod Q) * 20) mod Q
		// where Q is the order of secp256k1.
		"xi = 1, L = {1, 4, 5}": {
			xi:       1,
			L:        []uint64{1, 4, 5},
			expected: "38597363079105398474523661669562635950945854759691634794201721047172720498114",
		},
		// l_1 = 5/-3 (mod Q). Given the negative denominator and mod Q,
		// the number will be l_1 = 5/(Q-3).
		"xi = 4, L = {1, 4, 5}": {
			xi:       4,
			L:        []uint64{1, 4, 5},
			expected: "77194726158210796949047323339125271901891709519383269588403442094345440996223",
		},
		// l_2 = 4/4 (mod Q) = 1.
		"xi = 5, L = {1, 4, 5}": {
			xi:       5,
			L:        []uint64{1, 4, 5},
			expected: "1",
		},
	}

	_, signers := createGroup(t, 0x0f, 1, 1)
	for testName, test := range tests {
		t.Run(testName, func(t *testing.T) {
			result := signers[0].deriveInterpolatingValue(test.xi, test.L)
			assert.Equal(t, test.expected, result.Text(10))
		})
	}
}

func TestNonceZeroize(t *testing.T) {
	_, signers := createGroup(t, 0x10, 1, 1)

	nonce, _, err := signers[0].Round1(testutils.NewSeededRandom(0x11))
	require.NoError(t, err)

	require.False(t, nonce.IsZero())
	nonce.Zeroize()
	assert.True(t, nonce.IsZero())
}
