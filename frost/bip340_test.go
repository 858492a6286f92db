package frost

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold.network/tapsign/internal/testutils"
)

func TestBip340CurveEcBaseMul(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point := curve.EcBaseMul(big.NewInt(10))

	expectedX := "72488970228380509287422715226575535698893157273063074627791787432852706183111"
	expectedY := "62070622898698443831883535403436258712770888294397026493185421712108624767191"

	assert.Equal(t, expectedX, point.X.String())
	assert.Equal(t, expectedY, point.Y.String())
}

func TestBip340CurveEcMul(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point := curve.EcBaseMul(big.NewInt(10))
	result := curve.EcMul(point, big.NewInt(5))

	expectedX := "18752372355191540835222161239240920883340654532661984440989362140194381601434"
	expectedY := "88478450163343634110113046083156231725329016889379853417393465962619872936244"

	assert.Equal(t, expectedX, result.X.String())
	assert.Equal(t, expectedY, result.Y.String())
}

func TestBip340CurveEcAdd(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point1 := curve.EcBaseMul(big.NewInt(10))
	point2 := curve.EcBaseMul(big.NewInt(20))
	result := curve.EcAdd(point1, point2)

	expectedX := "49378132684229722274313556995573891527709373183446262831552359577455015004672"
	expectedY := "78123232289538034746933569305416412888858560602643272431489024958214987548923"

	assert.Equal(t, expectedX, result.X.String())
	assert.Equal(t, expectedY, result.Y.String())
}

func TestBip340CurveEcSub(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point1 := curve.EcBaseMul(big.NewInt(30))
	point2 := curve.EcBaseMul(big.NewInt(5))
	result := curve.EcSub(point1, point2)

	expectedX := "66165162229742397718677620062386824252848999675912518712054484685772795754260"
	expectedY := "52018513869565587577673992057861898728543589604141463438466108080111932355586"

	assert.Equal(t, expectedX, result.X.String())
	assert.Equal(t, expectedY, result.Y.String())
}

func TestBip340CurveEcAdd_Identity(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point := curve.EcBaseMul(big.NewInt(10))
	identity := curve.Identity()

	result1 := curve.EcAdd(point, identity)
	result2 := curve.EcAdd(identity, point)

	assert.Equal(t, 0, point.X.Cmp(result1.X))
	assert.Equal(t, 0, point.Y.Cmp(result1.Y))
	assert.Equal(t, 0, point.X.Cmp(result2.X))
	assert.Equal(t, 0, point.Y.Cmp(result2.Y))
}

func TestBip340CurvePointSerialization(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()
	point := curve.EcBaseMul(big.NewInt(1337))

	serialized := curve.SerializePoint(point)
	require.Len(t, serialized, curve.SerializedPointLength())

	deserialized := curve.DeserializePoint(serialized)
	require.NotNil(t, deserialized)
	assert.Equal(t, 0, point.X.Cmp(deserialized.X))
	assert.Equal(t, 0, point.Y.Cmp(deserialized.Y))
}

func TestBip340CurvePointDeserialization_Invalid(t *testing.T) {
	curve := NewBip340Ciphersuite().Curve()

	// not a point on the curve
	notAPoint := make([]byte, 65)
	notAPoint[0] = 0x04
	notAPoint[32] = 0x64 // X = 100
	notAPoint[64] = 0xc8 // Y = 200
	assert.Nil(t, curve.DeserializePoint(notAPoint))

	// wrong length
	point := curve.EcBaseMul(big.NewInt(10))
	serialized := curve.SerializePoint(point)
	assert.Nil(t, curve.DeserializePoint(serialized[:64]))

	// wrong prefix
	serialized[0] = 0x02
	assert.Nil(t, curve.DeserializePoint(serialized))
}

// TestVerifySignature_Bip340Reference cross-checks the hand-rolled [BIP-340]
// verification against signatures produced by the btcec schnorr signer.
func TestVerifySignature_Bip340Reference(t *testing.T) {
	ciphersuite := NewBip340Ciphersuite()
	random := testutils.NewSeededRandom(0x01)

	message := make([]byte, 32)
	_, err := random.Read(message)
	require.NoError(t, err)

	privateKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	referenceSignature, err := schnorr.Sign(privateKey, message)
	require.NoError(t, err)

	var signatureBytes [64]byte
	copy(signatureBytes[:], referenceSignature.Serialize())

	signature, err := ParseSignature(ciphersuite, signatureBytes)
	require.NoError(t, err)

	publicKey := ciphersuite.Curve().DeserializePoint(
		privateKey.PubKey().SerializeUncompressed(),
	)
	require.NotNil(t, publicKey)

	valid, err := ciphersuite.VerifySignature(signature, publicKey, message)
	require.NoError(t, err)
	assert.True(t, valid)

	// Flip one message bit; the signature must no longer verify.
	tampered := make([]byte, 32)
	copy(tampered, message)
	tampered[0] ^= 0x01

	valid, err = ciphersuite.VerifySignature(signature, publicKey, tampered)
	assert.Error(t, err)
	assert.False(t, valid)
}

func TestSignatureBytesRoundtrip(t *testing.T) {
	ciphersuite := NewBip340Ciphersuite()
	curve := ciphersuite.Curve()

	// An even-Y point, as lift_x recovers on parse.
	R := curve.EcBaseMul(big.NewInt(987654321))
	if !R.HasEvenY() {
		R = curve.EcSub(curve.Identity(), R)
	}

	signature := &Signature{R, big.NewInt(1234567890)}
	parsed, err := ParseSignature(ciphersuite, signature.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 0, signature.R.X.Cmp(parsed.R.X))
	assert.Equal(t, 0, signature.R.Y.Cmp(parsed.R.Y))
	assert.Equal(t, 0, signature.Z.Cmp(parsed.Z))
}
