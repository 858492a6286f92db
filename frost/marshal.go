package frost

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/exp/slices"
)

// Byte lengths of the fixed-width serialized forms. All fields are big-endian
// and left-padded, matching the group commitment transcript encoding.
const (
	serializedScalarLength      = 32
	serializedCommitmentLength  = 8 + 2*65
	serializedShareLength       = 8 + serializedScalarLength
	publicKeyPackageFormatBytes = 2 + 2 + 65
)

// Bytes serializes the nonce commitment: 8 bytes of the signer index followed
// by the serialized hiding and binding nonce commitment points.
func (nc *NonceCommitment) Bytes(ciphersuite Ciphersuite) []byte {
	curve := ciphersuite.Curve()

	b := make([]byte, 0, serializedCommitmentLength)
	b = binary.BigEndian.AppendUint64(b, nc.signerIndex)
	b = append(b, curve.SerializePoint(nc.hidingNonceCommitment)...)
	b = append(b, curve.SerializePoint(nc.bindingNonceCommitment)...)
	return b
}

// ParseNonceCommitment deserializes a nonce commitment produced by Bytes.
// Both commitment points must be valid non-identity curve points.
func ParseNonceCommitment(
	ciphersuite Ciphersuite,
	b []byte,
) (*NonceCommitment, error) {
	curve := ciphersuite.Curve()
	pointLength := curve.SerializedPointLength()

	if len(b) != 8+2*pointLength {
		return nil, fmt.Errorf(
			"unexpected nonce commitment length: expected [%d], has [%d]",
			8+2*pointLength,
			len(b),
		)
	}

	signerIndex := binary.BigEndian.Uint64(b[0:8])

	hiding := curve.DeserializePoint(b[8 : 8+pointLength])
	if hiding == nil {
		return nil, fmt.Errorf("invalid hiding nonce commitment point")
	}

	binding := curve.DeserializePoint(b[8+pointLength:])
	if binding == nil {
		return nil, fmt.Errorf("invalid binding nonce commitment point")
	}

	return &NonceCommitment{signerIndex, hiding, binding}, nil
}

// MarshalSignatureShare serializes a Round Two signature share scalar to its
// fixed 32-byte form.
func MarshalSignatureShare(share *big.Int) []byte {
	b := make([]byte, serializedScalarLength)
	share.FillBytes(b)
	return b
}

// ParseSignatureShare deserializes a Round Two signature share. The scalar
// must be lower than the group order.
func ParseSignatureShare(
	ciphersuite Ciphersuite,
	b []byte,
) (*big.Int, error) {
	if len(b) != serializedScalarLength {
		return nil, fmt.Errorf(
			"unexpected signature share length: expected [%d], has [%d]",
			serializedScalarLength,
			len(b),
		)
	}

	share := new(big.Int).SetBytes(b)
	if share.Cmp(ciphersuite.Curve().Order()) != -1 {
		return nil, fmt.Errorf("signature share exceeds the curve order")
	}

	return share, nil
}

// Marshal serializes the public key package: the threshold, the group size,
// the group public key, and the verifying shares sorted in ascending order
// by signer index. The output is deterministic for a given package.
func (pkp *PublicKeyPackage) Marshal(ciphersuite Ciphersuite) []byte {
	curve := ciphersuite.Curve()
	pointLength := curve.SerializedPointLength()

	indices := make([]uint64, 0, len(pkp.verifyingShares))
	for signerIndex := range pkp.verifyingShares {
		indices = append(indices, signerIndex)
	}
	slices.Sort(indices)

	b := make(
		[]byte,
		0,
		publicKeyPackageFormatBytes+len(indices)*(8+pointLength),
	)
	b = binary.BigEndian.AppendUint16(b, uint16(pkp.threshold))
	b = binary.BigEndian.AppendUint16(b, uint16(pkp.groupSize))
	b = append(b, curve.SerializePoint(pkp.publicKey)...)

	for _, signerIndex := range indices {
		b = binary.BigEndian.AppendUint64(b, signerIndex)
		b = append(b, curve.SerializePoint(pkp.verifyingShares[signerIndex])...)
	}

	return b
}

// ParsePublicKeyPackage deserializes a public key package produced by
// Marshal. All points must be valid non-identity curve points and the number
// of verifying shares must match the declared group size.
func ParsePublicKeyPackage(
	ciphersuite Ciphersuite,
	b []byte,
) (*PublicKeyPackage, error) {
	curve := ciphersuite.Curve()
	pointLength := curve.SerializedPointLength()

	if len(b) < 2+2+pointLength {
		return nil, fmt.Errorf("public key package too short: [%d] bytes", len(b))
	}

	threshold := int(binary.BigEndian.Uint16(b[0:2]))
	groupSize := int(binary.BigEndian.Uint16(b[2:4]))

	if threshold < 1 || groupSize < threshold || groupSize > MaxGroupSize {
		return nil, fmt.Errorf(
			"invalid threshold/group size: threshold=%d, groupSize=%d",
			threshold,
			groupSize,
		)
	}

	offset := 4
	publicKey := curve.DeserializePoint(b[offset : offset+pointLength])
	if publicKey == nil {
		return nil, fmt.Errorf("invalid group public key point")
	}
	offset += pointLength

	entryLength := 8 + pointLength
	if len(b)-offset != groupSize*entryLength {
		return nil, fmt.Errorf(
			"expected [%d] verifying shares, has [%d] bytes of them",
			groupSize,
			len(b)-offset,
		)
	}

	verifyingShares := make(map[uint64]*Point, groupSize)
	for i := 0; i < groupSize; i++ {
		signerIndex := binary.BigEndian.Uint64(b[offset : offset+8])
		offset += 8

		share := curve.DeserializePoint(b[offset : offset+pointLength])
		if share == nil {
			return nil, fmt.Errorf(
				"invalid verifying share point of signer [%d]",
				signerIndex,
			)
		}
		offset += pointLength

		if _, exists := verifyingShares[signerIndex]; exists {
			return nil, fmt.Errorf(
				"duplicate verifying share of signer [%d]",
				signerIndex,
			)
		}
		verifyingShares[signerIndex] = share
	}

	return &PublicKeyPackage{
		threshold:       threshold,
		groupSize:       groupSize,
		publicKey:       publicKey,
		verifyingShares: verifyingShares,
	}, nil
}

// Marshal serializes the signing share: 8 bytes of the signer index followed
// by the 32-byte share scalar. The output contains secret key material and
// must be handled accordingly.
func (ss *SigningShare) Marshal() []byte {
	b := make([]byte, 0, serializedShareLength)
	b = binary.BigEndian.AppendUint64(b, ss.signerIndex)

	scalar := make([]byte, serializedScalarLength)
	ss.share.FillBytes(scalar)

	return append(b, scalar...)
}

// ParseSigningShare deserializes a signing share produced by Marshal.
func ParseSigningShare(
	ciphersuite Ciphersuite,
	b []byte,
) (*SigningShare, error) {
	if len(b) != serializedShareLength {
		return nil, fmt.Errorf(
			"unexpected signing share length: expected [%d], has [%d]",
			serializedShareLength,
			len(b),
		)
	}

	signerIndex := binary.BigEndian.Uint64(b[0:8])

	share := new(big.Int).SetBytes(b[8:])
	if share.Cmp(ciphersuite.Curve().Order()) != -1 {
		return nil, fmt.Errorf("signing share exceeds the curve order")
	}

	return &SigningShare{signerIndex, share}, nil
}
