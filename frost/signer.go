package frost

import (
	"fmt"
	"io"
	"math/big"

	"github.com/hashicorp/go-multierror"
)

// Signer represents a single participant of the [FROST] signing protocol.
type Signer struct {
	Participant

	signerIndex    uint64   // i in [FROST]
	secretKeyShare *big.Int // sk_i in [FROST]
}

// NewSigner creates a new [FROST] Signer instance for the participant owning
// the given signing share. The public key is the group public key the share
// belongs to; for taproot key-path signing, both the share and the key come
// tweaked (see TweakSigningShare and TweakPublicKeyPackage).
func NewSigner(
	ciphersuite Ciphersuite,
	publicKey *Point,
	signingShare *SigningShare,
) *Signer {
	return &Signer{
		Participant: Participant{
			ciphersuite: ciphersuite,
			publicKey:   publicKey,
		},
		signerIndex:    signingShare.signerIndex,
		secretKeyShare: signingShare.share,
	}
}

// SignerIndex returns the index of the signer, as used in [FROST] transcripts.
func (s *Signer) SignerIndex() uint64 {
	return s.signerIndex
}

// Nonce is a message produced in Round One of [FROST]. The nonce is secret,
// single-use material. It must never leave the signer and must be zeroized
// as soon as the corresponding Round Two signature share has been produced.
type Nonce struct {
	hidingNonce  *big.Int
	bindingNonce *big.Int
}

// Zeroize overwrites both nonce scalars with zero. After the call, the nonce
// can no longer produce a signature share.
func (n *Nonce) Zeroize() {
	if n.hidingNonce != nil {
		n.hidingNonce.SetInt64(0)
	}
	if n.bindingNonce != nil {
		n.bindingNonce.SetInt64(0)
	}
}

// IsZero returns true when both nonce scalars compare equal to zero.
func (n *Nonce) IsZero() bool {
	return n.hidingNonce != nil && n.bindingNonce != nil &&
		n.hidingNonce.Sign() == 0 && n.bindingNonce.Sign() == 0
}

// Round1 implements the Round One - Commitment phase from [FROST], section
// 5.1. Round One - Commitment.
//
// Randomness for the nonce generation is drawn from the provided reader.
// Production callers pass crypto/rand.Reader; tests may pass a deterministic
// stream to make ceremony transcripts reproducible.
func (s *Signer) Round1(random io.Reader) (*Nonce, *NonceCommitment, error) {
	// From [FROST]:
	//
	//	5.1.  Round One - Commitment
	//
	//	  Round one involves each participant generating nonces and their
	//	  corresponding public commitments.  A nonce is a pair of Scalar
	//	  values, and a commitment is a pair of Element values. Each
	//	  participant's behavior in this round is described by the commit
	//	  function below.  Note that this function invokes nonce_generate
	//	  twice, once for each type of nonce produced.  The output of this
	//	  function is a pair of secret nonces (hiding_nonce, binding_nonce)
	//	  and their corresponding public commitments
	//	  (hiding_nonce_commitment, binding_nonce_commitment).

	// hiding_nonce = nonce_generate(sk_i)
	hn, err := s.generateNonce(random, s.secretKeyShare.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("hiding nonce generation failed: [%v]", err)
	}
	// binding_nonce = nonce_generate(sk_i)
	bn, err := s.generateNonce(random, s.secretKeyShare.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("binding nonce generation failed: [%v]", err)
	}

	curve := s.ciphersuite.Curve()
	// hiding_nonce_commitment = G.ScalarBaseMult(hiding_nonce)
	hnc := curve.EcBaseMul(hn)
	// binding_nonce_commitment = G.ScalarBaseMult(binding_nonce)
	bnc := curve.EcBaseMul(bn)

	// nonces = (hiding_nonce, binding_nonce)
	// comms = (hiding_nonce_commitment, binding_nonce_commitment)
	// return (nonces, comms)
	return &Nonce{hn, bn}, &NonceCommitment{s.signerIndex, hnc, bnc}, nil
}

// generateNonce implements nonce_generate(secret) from [FROST]: the nonce
// salts fresh randomness with the secret so that a broken random source alone
// does not leak the secret key share.
func (s *Signer) generateNonce(random io.Reader, secret []byte) (*big.Int, error) {
	// random_bytes = random_bytes(32)
	b := make([]byte, 32)
	if _, err := io.ReadFull(random, b); err != nil {
		return nil, err
	}

	// secret_enc = G.SerializeScalar(secret)
	// return H3(random_bytes || secret_enc)
	return s.ciphersuite.H3(b, secret), nil
}

// Round2 implements the Round Two - Signature Share Generation phase from
// [FROST], section 5.2 Round Two - Signature Share Generation.
//
// On top of [FROST], the function handles the even-Y requirement [BIP-340]
// puts on the final signature's R point: when the group commitment has an odd
// Y coordinate, the signer negates its nonce contribution. All signers observe
// the same group commitment, so they all make the same choice and the
// aggregate equals the signature over the negated aggregated nonce, which
// verifies under [BIP-340].
func (s *Signer) Round2(
	message []byte,
	nonce *Nonce,
	commitments []*NonceCommitment,
) (*big.Int, error) {
	// participant_list = participants_from_commitment_list(commitment_list)
	validationErrors, participants := s.validateGroupCommitments(commitments)
	if validationErrors != nil {
		return nil, validationErrors
	}

	order := s.ciphersuite.Curve().Order()

	// binding_factor_list = compute_binding_factors(group_public_key, commitment_list, msg)
	bindingFactors := s.computeBindingFactors(message, commitments)
	// binding_factor = binding_factor_for_participant(binding_factor_list, identifier)
	bindingFactor := bindingFactors[s.signerIndex]

	// group_commitment = compute_group_commitment(commitment_list, binding_factor_list)
	groupCommitment := s.computeGroupCommitment(commitments, bindingFactors)

	// lambda_i = derive_interpolating_value(participant_list, identifier)
	lambda := s.deriveInterpolatingValue(s.signerIndex, participants)

	// challenge = compute_challenge(group_commitment, group_public_key, msg)
	challenge := s.computeChallenge(message, groupCommitment)

	// nonce_share = hiding_nonce + (binding_nonce * binding_factor)
	nonceShare := new(big.Int).Add(
		nonce.hidingNonce,
		new(big.Int).Mul(nonce.bindingNonce, bindingFactor),
	)
	nonceShare.Mod(nonceShare, order)

	// [BIP-340] requires the final R to have an even Y coordinate. When the
	// group commitment does not, every signer flips the sign of its nonce
	// contribution, effectively signing with -r whose commitment is -R with
	// the same X coordinate.
	if !groupCommitment.HasEvenY() {
		nonceShare.Sub(order, nonceShare)
	}

	lski := new(big.Int).Mul(lambda, s.secretKeyShare) // lambda_i * sk_i
	lskic := new(big.Int).Mul(lski, challenge)         // (lambda_i * sk_i * challenge)

	// sig_share = nonce_share + (lambda_i * sk_i * challenge)
	sigShare := new(big.Int).Add(nonceShare, lskic)
	sigShare.Mod(sigShare, order)

	return sigShare, nil
}

// validateGroupCommitments is a helper function used to validate the group
// commitments before they are used for computations. Four validations are
// done:
// - None of the commitments is a point not lying on the curve.
// - The list of commitments is sorted in ascending order by signer identifier.
// - This signer's commitment is included in the commitments.
// - None of the commitments is nil.
//
// Additionally, the function returns the list of participants if there were no
// validation errors. This way, the function implements
// def participants_from_commitment_list(commitment_list) function from [FROST]
// section 4.3. List Operations.
func (s *Signer) validateGroupCommitments(
	commitments []*NonceCommitment,
) (*multierror.Error, []uint64) {
	participants := make([]uint64, len(commitments))
	var result *multierror.Error

	curve := s.ciphersuite.Curve()

	found := false

	// we index from 1 so this number will always be lower
	lastSignerIndex := uint64(0)

	for i, c := range commitments {
		if c == nil {
			result = multierror.Append(
				result,
				fmt.Errorf("commitment at position [%d] is nil", i),
			)
			continue
		}

		if c.signerIndex <= lastSignerIndex {
			result = multierror.Append(
				result, fmt.Errorf(
					"commitments not sorted in ascending order: "+
						"commitments[%d].signerIndex=%d, commitments[%d].signerIndex=%d",
					i-1,
					lastSignerIndex,
					i,
					c.signerIndex,
				),
			)
		}

		lastSignerIndex = c.signerIndex
		participants[i] = c.signerIndex

		if c.signerIndex == s.signerIndex {
			found = true
		}

		if !curve.IsPointOnCurve(c.bindingNonceCommitment) {
			result = multierror.Append(result, fmt.Errorf(
				"binding nonce commitment from signer [%d] is not a valid "+
					"non-identity point on the curve: [%s]",
				c.signerIndex,
				c.bindingNonceCommitment,
			))
		}

		if !curve.IsPointOnCurve(c.hidingNonceCommitment) {
			result = multierror.Append(result, fmt.Errorf(
				"hiding nonce commitment from signer [%d] is not a valid "+
					"non-identity point on the curve: [%s]",
				c.signerIndex,
				c.hidingNonceCommitment,
			))
		}
	}

	if !found {
		result = multierror.Append(
			result,
			fmt.Errorf("current signer's commitment not found on the list"),
		)
	}

	// return participants only when there were no validation errors
	if result.ErrorOrNil() == nil {
		return nil, participants
	}

	return result, nil
}
