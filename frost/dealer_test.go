package frost

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold.network/tapsign/internal/testutils"
)

func TestGenerateKeyMaterial_InvalidParameters(t *testing.T) {
	tests := map[string]struct {
		threshold int
		groupSize int
	}{
		"zero threshold":               {threshold: 0, groupSize: 3},
		"negative threshold":           {threshold: -1, groupSize: 3},
		"threshold above group size":   {threshold: 4, groupSize: 3},
		"group size above the maximum": {threshold: 2, groupSize: 256},
	}

	for testName, test := range tests {
		t.Run(testName, func(t *testing.T) {
			_, _, err := GenerateKeyMaterial(
				testutils.NewSeededRandom(0x20),
				ciphersuite,
				test.threshold,
				test.groupSize,
			)
			assert.True(t, errors.Is(err, ErrInvalidParameters))
		})
	}
}

func TestGenerateKeyMaterial(t *testing.T) {
	pkg, shares, err := GenerateKeyMaterial(
		testutils.NewSeededRandom(0x21),
		ciphersuite,
		3,
		5,
	)
	require.NoError(t, err)

	assert.Equal(t, 3, pkg.Threshold())
	assert.Equal(t, 5, pkg.GroupSize())
	require.Len(t, shares, 5)

	// The group public key must be an even-Y point for the x-only form.
	assert.True(t, pkg.PublicKey().HasEvenY())

	// Every share must be consistent with its verifying share.
	for i, share := range shares {
		assert.Equal(t, uint64(i+1), share.SignerIndex())
		assert.True(t, pkg.IsConsistentShare(ciphersuite, share))
	}

	// No verifying share for a non-member.
	assert.Nil(t, pkg.VerifyingShare(6))
	assert.Nil(t, pkg.VerifyingShare(0))
}

// reconstructSecret interpolates the polynomial at zero from the given
// shares.
func reconstructSecret(shares []*SigningShare) *big.Int {
	order := ciphersuite.Curve().Order()

	indices := make([]uint64, len(shares))
	for i, share := range shares {
		indices[i] = share.signerIndex
	}

	participant := &Participant{ciphersuite: ciphersuite}

	secret := new(big.Int)
	for _, share := range shares {
		lambda := participant.deriveInterpolatingValue(share.signerIndex, indices)
		term := new(big.Int).Mul(lambda, share.share)
		secret.Add(secret, term)
		secret.Mod(secret, order)
	}

	return secret
}

func TestGenerateKeyMaterial_ThresholdReconstruction(t *testing.T) {
	pkg, shares, err := GenerateKeyMaterial(
		testutils.NewSeededRandom(0x22),
		ciphersuite,
		3,
		5,
	)
	require.NoError(t, err)

	curve := ciphersuite.Curve()

	// Any threshold shares reconstruct the secret behind the group key.
	subsets := [][]int{{0, 1, 2}, {1, 3, 4}, {0, 2, 4}}
	for _, subset := range subsets {
		chosen := []*SigningShare{
			shares[subset[0]], shares[subset[1]], shares[subset[2]],
		}

		secret := reconstructSecret(chosen)
		point := curve.EcBaseMul(secret)

		assert.Equal(t, 0, pkg.PublicKey().X.Cmp(point.X), "subset %v", subset)
		assert.Equal(t, 0, pkg.PublicKey().Y.Cmp(point.Y), "subset %v", subset)
	}

	// Threshold-1 shares interpolate to garbage, not to the secret.
	tooFew := []*SigningShare{shares[0], shares[1]}
	secret := reconstructSecret(tooFew)
	point := curve.EcBaseMul(secret)
	assert.NotEqual(t, 0, pkg.PublicKey().X.Cmp(point.X))
}

func TestSigningShareZeroize(t *testing.T) {
	_, shares, err := GenerateKeyMaterial(
		testutils.NewSeededRandom(0x23),
		ciphersuite,
		2,
		3,
	)
	require.NoError(t, err)

	share := shares[0]
	require.NotEqual(t, 0, share.share.Sign())

	share.Zeroize()
	assert.Equal(t, 0, share.share.Sign())
}
