package frost

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/go-multierror"
)

// Coordinator represents a coordinator of the [FROST] signing protocol.
type Coordinator struct {
	Participant
}

// NewCoordinator creates a new [FROST] Coordinator instance.
func NewCoordinator(
	ciphersuite Ciphersuite,
	publicKey *Point,
) *Coordinator {
	return &Coordinator{
		Participant: Participant{
			ciphersuite: ciphersuite,
			publicKey:   publicKey,
		},
	}
}

// Aggregate implements Signature Share Aggregation from [FROST], section
// 5.3. Signature Share Aggregation.
//
// Note that the signature produced by the signature share aggregation in
// [FROST] may not be valid if there are malicious signers present. Use
// VerifyShare to identify the misbehaving signer, or verify the aggregate
// with Ciphersuite.VerifySignature.
//
// The returned signature's R point always has an even Y coordinate: when the
// group commitment computed from the commitment list does not, its negation
// is used, mirroring the nonce negation the signers perform in Round Two.
func (c *Coordinator) Aggregate(
	message []byte,
	commitments []*NonceCommitment,
	signatureShares []*big.Int,
) (*Signature, error) {
	if err := c.validateCommitmentsList(commitments); err != nil {
		return nil, err
	}

	if len(signatureShares) != len(commitments) {
		return nil, fmt.Errorf(
			"expected [%d] signature shares, has [%d]",
			len(commitments),
			len(signatureShares),
		)
	}

	// binding_factor_list = compute_binding_factors(group_public_key, commitment_list, msg)
	bindingFactors := c.computeBindingFactors(message, commitments)

	// group_commitment = compute_group_commitment(commitment_list, binding_factor_list)
	groupCommitment := c.computeGroupCommitment(commitments, bindingFactors)

	curve := c.ciphersuite.Curve()
	curveOrder := curve.Order()

	// z = Scalar(0)
	z := big.NewInt(0)
	// for z_i in sig_shares:
	//     z = z + z_i
	for _, zi := range signatureShares {
		if zi == nil {
			return nil, fmt.Errorf("nil signature share")
		}
		z.Add(z, zi)
		z.Mod(z, curveOrder)
	}

	// The signers negated their nonce contributions for an odd-Y group
	// commitment (see Signer.Round2) so the aggregate commits to the
	// negated point with the same X coordinate.
	if !groupCommitment.HasEvenY() {
		groupCommitment = curve.EcSub(curve.Identity(), groupCommitment)
	}

	// return (group_commitment, z)
	return &Signature{groupCommitment, z}, nil
}

// VerifyShare implements def verify_signature_share from [FROST], section
// 5.3. Signature Share Aggregation. It verifies a single signature share
// against the share owner's verifying share. The check allows the coordinator
// to identify the misbehaving signer instead of only learning that the
// aggregate does not verify.
func (c *Coordinator) VerifyShare(
	signerIndex uint64,
	verifyingShare *Point,
	signatureShare *big.Int,
	commitments []*NonceCommitment,
	message []byte,
) (bool, error) {
	if err := c.validateCommitmentsList(commitments); err != nil {
		return false, err
	}

	var commitment *NonceCommitment
	participants := make([]uint64, len(commitments))
	for i, comm := range commitments {
		participants[i] = comm.signerIndex
		if comm.signerIndex == signerIndex {
			commitment = comm
		}
	}
	if commitment == nil {
		return false, fmt.Errorf(
			"no commitment from signer [%d] on the list",
			signerIndex,
		)
	}

	curve := c.ciphersuite.Curve()

	// binding_factor_list = compute_binding_factors(group_public_key, commitment_list, msg)
	bindingFactors := c.computeBindingFactors(message, commitments)
	// binding_factor = binding_factor_for_participant(binding_factor_list, identifier)
	bindingFactor := bindingFactors[signerIndex]

	// group_commitment = compute_group_commitment(commitment_list, binding_factor_list)
	groupCommitment := c.computeGroupCommitment(commitments, bindingFactors)

	// comm_share = hiding_nonce_commitment + G.ScalarMult(
	//     binding_nonce_commitment, binding_factor)
	commitmentShare := curve.EcAdd(
		commitment.hidingNonceCommitment,
		curve.EcMul(commitment.bindingNonceCommitment, bindingFactor),
	)
	// The signer negated its nonce contribution for an odd-Y group
	// commitment so the commitment share must be negated as well.
	if !groupCommitment.HasEvenY() {
		commitmentShare = curve.EcSub(curve.Identity(), commitmentShare)
	}

	// challenge = compute_challenge(group_commitment, group_public_key, msg)
	challenge := c.computeChallenge(message, groupCommitment)

	// lambda_i = derive_interpolating_value(participant_list, identifier)
	lambda := c.deriveInterpolatingValue(signerIndex, participants)

	cli := new(big.Int).Mul(challenge, lambda)

	// l = G.ScalarBaseMult(sig_share_i)
	l := curve.EcBaseMul(signatureShare)
	// r = comm_share + G.ScalarMult(PK_i, challenge * lambda_i)
	r := curve.EcAdd(commitmentShare, curve.EcMul(verifyingShare, cli))

	// return l == r
	return l.X.Cmp(r.X) == 0 && l.Y.Cmp(r.Y) == 0, nil
}

// validateCommitmentsList validates the commitment list the same way the
// signers do in Round Two, except it does not require any particular signer's
// commitment to be present.
func (c *Coordinator) validateCommitmentsList(
	commitments []*NonceCommitment,
) error {
	var result *multierror.Error

	curve := c.ciphersuite.Curve()

	// we index from 1 so this number will always be lower
	lastSignerIndex := uint64(0)

	for i, comm := range commitments {
		if comm == nil {
			result = multierror.Append(
				result,
				fmt.Errorf("commitment at position [%d] is nil", i),
			)
			continue
		}

		if comm.signerIndex <= lastSignerIndex {
			result = multierror.Append(result, fmt.Errorf(
				"commitments not sorted in ascending order: "+
					"commitments[%d].signerIndex=%d, commitments[%d].signerIndex=%d",
				i-1,
				lastSignerIndex,
				i,
				comm.signerIndex,
			))
		}

		lastSignerIndex = comm.signerIndex

		if !curve.IsPointOnCurve(comm.bindingNonceCommitment) {
			result = multierror.Append(result, fmt.Errorf(
				"binding nonce commitment from signer [%d] is not a valid "+
					"non-identity point on the curve: [%s]",
				comm.signerIndex,
				comm.bindingNonceCommitment,
			))
		}

		if !curve.IsPointOnCurve(comm.hidingNonceCommitment) {
			result = multierror.Append(result, fmt.Errorf(
				"hiding nonce commitment from signer [%d] is not a valid "+
					"non-identity point on the curve: [%s]",
				comm.signerIndex,
				comm.hidingNonceCommitment,
			))
		}
	}

	return result.ErrorOrNil()
}
