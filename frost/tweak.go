package frost

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TweakPublicKeyPackage applies the [BIP-341] taproot tweak to the group
// public key and all verifying shares, producing the key package to use when
// signing taproot key-path spends. The merkle root is empty for outputs with
// no script path, per [BIP-341]:
//
//	If the spending conditions do not require a script path, the output key
//	should commit to an unspendable script path instead of having no script
//	path. This can be achieved by computing the output key point as
//	Q = P + int(hashTapTweak(bytes(P)))G.
//
// When the tweaked key Q ends up with an odd Y coordinate, the package is
// normalized by negation: the x-only form of Q stays the same and the
// verifying shares match the negated shares produced by TweakSigningShare.
func TweakPublicKeyPackage(
	ciphersuite Ciphersuite,
	pkg *PublicKeyPackage,
	merkleRoot []byte,
) (*PublicKeyPackage, error) {
	curve := ciphersuite.Curve()

	tweak, err := tapTweakScalar(ciphersuite, pkg, merkleRoot)
	if err != nil {
		return nil, err
	}

	// Q = P + t*G
	tweakPoint := curve.EcBaseMul(tweak)
	tweaked := curve.EcAdd(pkg.publicKey, tweakPoint)
	if !curve.IsPointOnCurve(tweaked) {
		return nil, fmt.Errorf("tweaked public key is the identity element")
	}

	negate := !tweaked.HasEvenY()

	verifyingShares := make(map[uint64]*Point, len(pkg.verifyingShares))
	for signerIndex, verifyingShare := range pkg.verifyingShares {
		// PK_i' = PK_i + t*G, negated along with the group key so that
		// PK_i' = sk_i' * G keeps holding for the tweaked shares.
		share := curve.EcAdd(verifyingShare, tweakPoint)
		if negate {
			share = curve.EcSub(curve.Identity(), share)
		}
		verifyingShares[signerIndex] = share
	}

	if negate {
		tweaked = curve.EcSub(curve.Identity(), tweaked)
	}

	return &PublicKeyPackage{
		threshold:       pkg.threshold,
		groupSize:       pkg.groupSize,
		publicKey:       tweaked,
		verifyingShares: verifyingShares,
	}, nil
}

// TweakSigningShare applies the [BIP-341] taproot tweak to a single signing
// share. Each participant tweaks its own share locally; the share never
// leaves the participant.
//
// The tweak t shifts the constant term of the dealer's polynomial: shares of
// the group secret s become shares of s+t once t is added to each of them.
// When the tweaked group key has an odd Y coordinate, the [BIP-340] secret is
// n-(s+t) and every share is negated accordingly, matching the negated
// verifying shares from TweakPublicKeyPackage.
func TweakSigningShare(
	ciphersuite Ciphersuite,
	pkg *PublicKeyPackage,
	share *SigningShare,
	merkleRoot []byte,
) (*SigningShare, error) {
	curve := ciphersuite.Curve()
	order := curve.Order()

	tweak, err := tapTweakScalar(ciphersuite, pkg, merkleRoot)
	if err != nil {
		return nil, err
	}

	tweaked := curve.EcAdd(pkg.publicKey, curve.EcBaseMul(tweak))
	if !curve.IsPointOnCurve(tweaked) {
		return nil, fmt.Errorf("tweaked public key is the identity element")
	}

	// sk_i' = sk_i + t, or n - (sk_i + t) for an odd-Y tweaked key.
	tweakedShare := new(big.Int).Add(share.share, tweak)
	tweakedShare.Mod(tweakedShare, order)
	if !tweaked.HasEvenY() {
		tweakedShare.Sub(order, tweakedShare)
		tweakedShare.Mod(tweakedShare, order)
	}

	return &SigningShare{share.signerIndex, tweakedShare}, nil
}

// tapTweakScalar computes t = int(hashTapTweak(bytes(P) || merkleRoot)) from
// [BIP-341]. The group public key must have an even Y coordinate; this is
// guaranteed for dealer-produced packages.
func tapTweakScalar(
	ciphersuite Ciphersuite,
	pkg *PublicKeyPackage,
	merkleRoot []byte,
) (*big.Int, error) {
	if !pkg.publicKey.HasEvenY() {
		return nil, fmt.Errorf(
			"group public key must have an even Y coordinate",
		)
	}

	internalKey := ciphersuite.EncodePoint(pkg.publicKey)

	hash := chainhash.TaggedHash(chainhash.TagTapTweak, internalKey, merkleRoot)

	tweak := new(big.Int).SetBytes(hash[:])
	order := ciphersuite.Curve().Order()
	if tweak.Cmp(order) != -1 {
		// Negligible probability; [BIP-341] treats it as an invalid tweak.
		return nil, fmt.Errorf("tap tweak exceeds the curve order")
	}

	return tweak, nil
}
