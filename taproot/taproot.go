// Package taproot builds taproot key-path spend transactions for the group
// key of a [FROST] signing group: the unsigned transaction, the [BIP-341]
// signature hash the ceremony signs, and the final witness assembled from
// the aggregated threshold signature.
//
// Change is returned to the same group key the input is spent from. This is
// the simplest policy for a single-key group wallet; revisit for privacy if
// outputs ever need to be unlinkable.
package taproot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"threshold.network/tapsign/frost"
)

var (
	// ErrInvalidPlan is returned when the spend plan amounts or scripts
	// are out of range.
	ErrInvalidPlan = errors.New("invalid spend plan")

	// ErrInvalidSignature is returned when the aggregated signature does
	// not verify against the tweaked group key and the computed signature
	// hash. It indicates a programmer error somewhere between the
	// ceremony and the finalizer and is always fatal.
	ErrInvalidSignature = errors.New("aggregated signature does not verify")
)

const (
	// DustLimit is the minimum value of a P2TR output accepted as
	// standard by the network. A change output below it is dropped and
	// its value goes to the fee.
	DustLimit = btcutil.Amount(546)

	// spendTxVersion is the transaction version of the spend transaction.
	spendTxVersion = 2

	// spendSequence enables nLockTime semantics on the single input.
	spendSequence = wire.MaxTxInSequenceNum - 2 // 0xFFFFFFFD
)

// SpendPlan describes a single-input key-path spend of a group-owned UTXO.
type SpendPlan struct {
	// Outpoint is the spent UTXO.
	Outpoint wire.OutPoint

	// PrevOutput is the script and value of the spent UTXO, as reported
	// by the node.
	PrevOutput *wire.TxOut

	// DestinationScript is the scriptPubKey receiving the send amount.
	DestinationScript []byte

	// Amount is the value sent to the destination script.
	Amount btcutil.Amount

	// Fee is the caller-supplied flat transaction fee.
	Fee btcutil.Amount
}

// Change returns the value left after the send amount and the fee. The
// change output is omitted from the transaction when the value is below
// DustLimit.
func (p *SpendPlan) Change() btcutil.Amount {
	return btcutil.Amount(p.PrevOutput.Value) - p.Amount - p.Fee
}

func (p *SpendPlan) validate() error {
	if p.PrevOutput == nil || len(p.PrevOutput.PkScript) == 0 {
		return fmt.Errorf("%w: missing previous output", ErrInvalidPlan)
	}
	if len(p.DestinationScript) == 0 {
		return fmt.Errorf("%w: missing destination script", ErrInvalidPlan)
	}
	if p.Amount <= 0 {
		return fmt.Errorf(
			"%w: send amount [%d] must be positive",
			ErrInvalidPlan,
			p.Amount,
		)
	}
	if p.Fee < 0 {
		return fmt.Errorf(
			"%w: fee [%d] must not be negative",
			ErrInvalidPlan,
			p.Fee,
		)
	}
	if btcutil.Amount(p.PrevOutput.Value) < p.Amount+p.Fee {
		return fmt.Errorf(
			"%w: previous output value [%d] lower than amount [%d] + fee [%d]",
			ErrInvalidPlan,
			p.PrevOutput.Value,
			p.Amount,
			p.Fee,
		)
	}
	return nil
}

// InternalKey returns the group public key as the taproot internal key.
func InternalKey(pkg *frost.PublicKeyPackage) (*btcec.PublicKey, error) {
	ciphersuite := frost.NewBip340Ciphersuite()
	serialized := ciphersuite.Curve().SerializePoint(pkg.PublicKey())

	key, err := btcec.ParsePubKey(serialized)
	if err != nil {
		return nil, fmt.Errorf("cannot parse the group public key: [%v]", err)
	}
	return key, nil
}

// OutputKey returns the tweaked group key committed to in the taproot
// output: Q = P + int(hashTapTweak(bytes(P)))G, with an empty merkle root as
// there is no script path.
func OutputKey(pkg *frost.PublicKeyPackage) (*btcec.PublicKey, error) {
	internalKey, err := InternalKey(pkg)
	if err != nil {
		return nil, err
	}
	return txscript.ComputeTaprootKeyNoScript(internalKey), nil
}

// OutputScript returns the group's P2TR scriptPubKey:
// OP_1 <32-byte x-only output key>.
func OutputScript(pkg *frost.PublicKeyPackage) ([]byte, error) {
	outputKey, err := OutputKey(pkg)
	if err != nil {
		return nil, err
	}
	return txscript.PayToTaprootScript(outputKey)
}

// Address returns the group's P2TR address on the given network.
func Address(
	pkg *frost.PublicKeyPackage,
	params *chaincfg.Params,
) (*btcutil.AddressTaproot, error) {
	outputKey, err := OutputKey(pkg)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey),
		params,
	)
}

// BuildUnsignedTransaction constructs the unsigned spend transaction:
// version 2, a single input referencing the planned outpoint with an empty
// script signature, one output to the destination script, and a change
// output back to the group key unless the change is dust.
func BuildUnsignedTransaction(
	plan *SpendPlan,
	pkg *frost.PublicKeyPackage,
) (*wire.MsgTx, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}

	groupScript, err := OutputScript(pkg)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(spendTxVersion)
	tx.LockTime = 0

	txIn := wire.NewTxIn(&plan.Outpoint, nil, nil)
	txIn.Sequence = spendSequence
	tx.AddTxIn(txIn)

	tx.AddTxOut(wire.NewTxOut(int64(plan.Amount), plan.DestinationScript))

	if change := plan.Change(); change >= DustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), groupScript))
	}

	return tx, nil
}

// SignatureHash computes the [BIP-341] signature hash of the spend
// transaction's single input for a key-path spend with SIGHASH_DEFAULT.
// The 32-byte result is the message the signing ceremony signs.
func SignatureHash(
	tx *wire.MsgTx,
	prevOutput *wire.TxOut,
) ([32]byte, error) {
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		prevOutput.PkScript,
		prevOutput.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	sigHash, err := txscript.CalcTaprootSignatureHash(
		sigHashes,
		txscript.SigHashDefault,
		tx,
		0,
		prevOutFetcher,
	)
	if err != nil {
		return [32]byte{}, fmt.Errorf(
			"cannot compute the signature hash: [%v]",
			err,
		)
	}

	var result [32]byte
	copy(result[:], sigHash)
	return result, nil
}

// FinalizeWitness sets the key-path witness on the transaction's single
// input: just the 64-byte aggregated signature, no annex and no control
// block. Before returning the consensus-serialized transaction, the
// signature is verified against the tweaked group key and the computed
// signature hash as a defense in depth against wiring errors upstream.
func FinalizeWitness(
	tx *wire.MsgTx,
	prevOutput *wire.TxOut,
	pkg *frost.PublicKeyPackage,
	signature [64]byte,
) ([]byte, error) {
	sigHash, err := SignatureHash(tx, prevOutput)
	if err != nil {
		return nil, err
	}

	outputKey, err := OutputKey(pkg)
	if err != nil {
		return nil, err
	}

	parsedSignature, err := schnorr.ParseSignature(signature[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsedSignature.Verify(sigHash[:], outputKey) {
		return nil, ErrInvalidSignature
	}

	tx.TxIn[0].Witness = wire.TxWitness{signature[:]}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("cannot serialize the transaction: [%v]", err)
	}

	return buf.Bytes(), nil
}
