package frost

import (
	"encoding/binary"
	"math/big"
)

// Participant implements the base functionality for all [FROST] protocol
// participants, no matter the participant type: signer, coordinator, or both.
type Participant struct {
	ciphersuite Ciphersuite

	publicKey *Point // group_public_key in [FROST]
}

// NonceCommitment is a message produced in Round One of [FROST].
type NonceCommitment struct {
	signerIndex            uint64
	hidingNonceCommitment  *Point
	bindingNonceCommitment *Point
}

// SignerIndex returns the index of the signer that produced the commitment.
func (nc *NonceCommitment) SignerIndex() uint64 {
	return nc.signerIndex
}

// bindingFactors is a helper structure produced by computeBindingFactors
// function and used across round two functions.
type bindingFactors map[uint64]*big.Int

// computeBindingFactors implements def compute_binding_factors(group_public_key,
// commitment_list, msg) function from [FROST], as defined in section 4.4.
// Binding Factors Computation.
//
// The function calling computeBindingFactors must ensure a valid number of
// commitments have been received and call validateGroupCommitments to validate
// the received commitments.
func (p *Participant) computeBindingFactors(
	message []byte,
	commitments []*NonceCommitment,
) bindingFactors {
	// From [FROST]:
	//
	// 4.4.  Binding Factors Computation
	//
	//   Inputs:
	//     - group_public_key, the public key corresponding to the group
	//       signing key, an Element.
	//     - commitment_list = [(i, hiding_nonce_commitment_i,
	//       binding_nonce_commitment_i), ...], a list of commitments issued
	//       by each participant. This list MUST be sorted in ascending order
	//       by identifier.
	//     - msg, the message to be signed.
	//
	//   Outputs:
	//     - binding_factor_list, a list of (NonZeroScalar, Scalar) tuples
	//       representing the binding factors.

	// group_public_key_enc = G.SerializeElement(group_public_key)
	curve := p.ciphersuite.Curve()
	groupPublicKeyEncoded := curve.SerializePoint(p.publicKey)

	// msg_hash = H4(msg)
	msgHash := p.ciphersuite.H4(message)

	// encoded_commitment_hash =
	//     H5(encode_group_commitment_list(commitment_list))
	groupCommitmentEncoded := p.encodeGroupCommitment(commitments)
	encodedCommitHash := p.ciphersuite.H5(groupCommitmentEncoded)

	// rho_input_prefix = group_public_key_enc || msg_hash || encoded_commitment_hash
	rhoInputPrefix := concat(groupPublicKeyEncoded, msgHash, encodedCommitHash)

	// binding_factor_list = []
	bindingFactors := make(map[uint64]*big.Int, len(commitments))

	// for (identifier, hiding_nonce_commitment,
	//      binding_nonce_commitment) in commitment_list:
	for _, commitment := range commitments {
		// rho_input = rho_input_prefix || G.SerializeScalar(identifier)
		rhoInput := make([]byte, 0, len(rhoInputPrefix)+8)
		rhoInput = append(rhoInput, rhoInputPrefix...)
		rhoInput = binary.BigEndian.AppendUint64(rhoInput, commitment.signerIndex)
		// binding_factor = H1(rho_input)
		bindingFactor := p.ciphersuite.H1(rhoInput)
		// binding_factor_list.append((identifier, binding_factor))
		bindingFactors[commitment.signerIndex] = bindingFactor
	}

	// return binding_factor_list
	return bindingFactors
}

// computeGroupCommitment implements def compute_group_commitment(commitment_list,
// binding_factor_list) function from [FROST], as defined in section 4.5. Group
// Commitment Computation.
//
// The function calling computeGroupCommitment must ensure a valid number of
// commitments have been received and call validateGroupCommitments to validate
// the received commitments.
func (p *Participant) computeGroupCommitment(
	commitments []*NonceCommitment,
	bindingFactors bindingFactors,
) *Point {
	curve := p.ciphersuite.Curve()

	// group_commitment = G.Identity()
	groupCommitment := curve.Identity()

	// for (identifier, hiding_nonce_commitment,
	//     binding_nonce_commitment) in commitment_list:
	for _, commitment := range commitments {
		// binding_factor = binding_factor_for_participant(
		//     binding_factor_list, identifier)
		bindingFactor := bindingFactors[commitment.signerIndex]
		// binding_nonce = G.ScalarMult(
		//     binding_nonce_commitment,
		//     binding_factor)
		bindingNonce := curve.EcMul(
			commitment.bindingNonceCommitment,
			bindingFactor,
		)
		// group_commitment = (
		//     group_commitment +
		//     hiding_nonce_commitment +
		//     binding_nonce)
		groupCommitment = curve.EcAdd(
			groupCommitment,
			curve.EcAdd(commitment.hidingNonceCommitment, bindingNonce),
		)
	}

	// return group_commitment
	return groupCommitment
}

// encodeGroupCommitment implements def encode_group_commitment_list(commitment_list)
// function from [FROST], as defined in section 4.3. List Operations.
//
// The function calling encodeGroupCommitment must ensure a valid number of
// commitments have been received and call validateGroupCommitments to validate
// the received commitments.
func (p *Participant) encodeGroupCommitment(
	commitments []*NonceCommitment,
) []byte {
	curve := p.ciphersuite.Curve()
	ecPointLength := curve.SerializedPointLength()

	// preallocate the necessary space to avoid waste:
	// 8 bytes for signerIndex (uint64)
	// ecPointLength for hidingNonceCommitment
	// ecPointLength for bindingNonceCommitment
	b := make([]byte, 0, (8+2*ecPointLength)*len(commitments))

	// encoded_group_commitment = nil
	// for (identifier, hiding_nonce_commitment,
	//      binding_nonce_commitment) in commitment_list:
	for _, c := range commitments {
		// encoded_commitment = (
		//     G.SerializeScalar(identifier) ||
		//     G.SerializeElement(hiding_nonce_commitment) ||
		//     G.SerializeElement(binding_nonce_commitment))
		// encoded_group_commitment = (
		//     encoded_group_commitment ||
		//     encoded_commitment)
		b = binary.BigEndian.AppendUint64(b, c.signerIndex)
		b = append(b, curve.SerializePoint(c.hidingNonceCommitment)...)
		b = append(b, curve.SerializePoint(c.bindingNonceCommitment)...)
	}

	// return encoded_group_commitment
	return b
}

// deriveInterpolatingValue implements def derive_interpolating_value(L, x_i)
// function from [FROST], as defined in section 4.2 Polynomials.
// L is the list of the indices of the members of the particular group.
// xi is the index of the participant i.
//
// The function calling deriveInterpolatingValue must ensure a valid number of
// commitments have been received and call validateGroupCommitments to validate
// the received commitments.
func (p *Participant) deriveInterpolatingValue(xi uint64, L []uint64) *big.Int {
	// From [FROST]:
	//
	//   The function derive_interpolating_value derives a value used for
	//   polynomial interpolation.  It is provided a list of x-coordinates
	//   as input, each of which cannot equal 0.
	//
	// Note that the input validation is handled in validateGroupCommitments.

	order := p.ciphersuite.Curve().Order()
	// numerator = Scalar(1)
	num := big.NewInt(1)
	// denominator = Scalar(1)
	den := big.NewInt(1)
	// for x_j in L:
	for _, xj := range L {
		if xj == xi {
			// if x_j == x_i: continue
			continue
		}
		// numerator *= x_j
		num.Mul(num, big.NewInt(int64(xj)))
		num.Mod(num, order)
		// denominator *= x_j - x_i
		den.Mul(den, big.NewInt(int64(xj)-int64(xi)))
		den.Mod(den, order)
	}

	// value = numerator / denominator
	denInv := new(big.Int).ModInverse(den, order)
	res := new(big.Int).Mul(num, denInv)
	res = res.Mod(res, order)

	// return value
	return res
}

// computeChallenge implements def compute_challenge(group_commitment,
// group_public_key, msg) from [FROST] as defined in section 4.6. Signature
// Challenge Computation.
//
// Both the group commitment and the group public key enter the challenge in
// the 32-byte x-only encoding. This is dictated by [BIP-340]: its verification
// algorithm computes e = int(hash_BIP0340/challenge(bytes(r) || bytes(P) || m))
// over x-only encodings, and the challenge computed during signing must match
// it bit-for-bit.
func (p *Participant) computeChallenge(
	message []byte,
	groupCommitment *Point,
) *big.Int {
	// group_comm_enc = G.SerializeElement(group_commitment)
	groupCommitmentEncoded := p.ciphersuite.EncodePoint(groupCommitment)
	// group_public_key_enc = G.SerializeElement(group_public_key)
	publicKeyEncoded := p.ciphersuite.EncodePoint(p.publicKey)
	// challenge_input = group_comm_enc || group_public_key_enc || msg
	// challenge = H2(challenge_input)
	// return challenge
	return p.ciphersuite.H2(groupCommitmentEncoded, publicKeyEncoded, message)
}
