// Package tapsign produces Bitcoin taproot key-path spends signed
// cooperatively by a threshold of key-share holders running the [FROST]
// protocol. The package wires the building blocks together end to end:
// key material from the keystore, the unsigned transaction and its [BIP-341]
// signature hash from the taproot package, the signing ceremony from the
// ceremony package, and UTXO lookup plus broadcast through the chain client.
package tapsign

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"threshold.network/tapsign/ceremony"
	"threshold.network/tapsign/chain"
	"threshold.network/tapsign/frost"
	"threshold.network/tapsign/keystore"
	"threshold.network/tapsign/taproot"
)

// Config carries the pipeline collaborators.
type Config struct {
	// KeyFilePath locates the JSON key file produced by Keygen.
	KeyFilePath string

	// Client talks to the Bitcoin node. UTXO reads are retried once on a
	// transport failure; broadcast is never retried.
	Client chain.Client

	// RoundTimeout is the per-round ceremony deadline. Defaults to
	// ceremony.DefaultRoundTimeout.
	RoundTimeout time.Duration

	// Logger receives the structured ceremony events. Optional.
	Logger *zap.Logger

	// Registerer receives the ceremony counters. Optional.
	Registerer prometheus.Registerer

	// Random overrides the source of nonce randomness. Defaults to
	// crypto/rand.Reader; only tests should set it.
	Random io.Reader
}

// SpendRequest describes a single spend of a group-owned UTXO.
type SpendRequest struct {
	// Outpoint is the group-owned UTXO to spend.
	Outpoint wire.OutPoint

	// DestinationScript is the scriptPubKey receiving the amount.
	DestinationScript []byte

	// Amount is the value sent to the destination, in satoshis.
	Amount btcutil.Amount

	// Fee is the flat transaction fee, in satoshis.
	Fee btcutil.Amount

	// Signers is the set of participant indices taking part in the
	// signing ceremony. Must contain exactly the threshold number of
	// distinct group members. When empty, the lowest-indexed threshold
	// participants are chosen.
	Signers []uint64
}

// Keygen runs the trusted dealer for a threshold-of-groupSize group and
// writes the key material to the given path.
func Keygen(path string, threshold, groupSize int) error {
	ciphersuite := frost.NewBip340Ciphersuite()

	pkg, shares, err := frost.GenerateKeyMaterial(
		rand.Reader,
		ciphersuite,
		threshold,
		groupSize,
	)
	if err != nil {
		return err
	}

	return keystore.Save(path, pkg, shares)
}

// GroupAddress returns the group's P2TR address on the given network.
func GroupAddress(path string, params *chaincfg.Params) (string, error) {
	pkg, _, err := keystore.Load(path)
	if err != nil {
		return "", err
	}

	address, err := taproot.Address(pkg, params)
	if err != nil {
		return "", err
	}

	return address.EncodeAddress(), nil
}

// DestinationScript resolves a Bitcoin address string on the given network
// to the scriptPubKey used in a SpendRequest.
func DestinationScript(
	address string,
	params *chaincfg.Params,
) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode the destination address")
	}
	if !decoded.IsForNet(params) {
		return nil, errors.Errorf(
			"address [%s] is not valid for the requested network",
			address,
		)
	}
	return txscript.PayToAddrScript(decoded)
}

// Spend runs the full pipeline: looks the UTXO up, builds the spend
// transaction, signs its [BIP-341] signature hash in a threshold ceremony,
// finalizes the witness, and broadcasts. Returns the transaction id.
func Spend(
	ctx context.Context,
	config Config,
	request SpendRequest,
) (chainhash.Hash, error) {
	pkg, shares, err := keystore.Load(config.KeyFilePath)
	if err != nil {
		return chainhash.Hash{}, err
	}

	signingShares, err := chooseSigners(pkg, shares, request.Signers)
	if err != nil {
		return chainhash.Hash{}, err
	}

	client := chain.WithRetry(config.Client)

	prevOutput, err := client.GetUTXO(ctx, request.Outpoint)
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, "cannot fetch the spent UTXO")
	}

	plan := &taproot.SpendPlan{
		Outpoint:          request.Outpoint,
		PrevOutput:        prevOutput,
		DestinationScript: request.DestinationScript,
		Amount:            request.Amount,
		Fee:               request.Fee,
	}

	tx, err := taproot.BuildUnsignedTransaction(plan, pkg)
	if err != nil {
		return chainhash.Hash{}, err
	}

	sigHash, err := taproot.SignatureHash(tx, prevOutput)
	if err != nil {
		return chainhash.Hash{}, err
	}

	signature, err := runCeremony(ctx, config, pkg, signingShares, sigHash)
	if err != nil {
		return chainhash.Hash{}, err
	}

	// FinalizeWitness sets the witness on tx and verifies the signature
	// against the tweaked group key before the transaction leaves the
	// process.
	if _, err := taproot.FinalizeWitness(tx, prevOutput, pkg, signature); err != nil {
		return chainhash.Hash{}, err
	}

	txid, err := client.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, "broadcast failed")
	}

	return txid, nil
}

// runCeremony signs the 32-byte digest with a threshold ceremony over an
// in-process transport. Each signer tweaks its own share for the taproot
// output key; secret material never crosses the transport boundary.
func runCeremony(
	ctx context.Context,
	config Config,
	pkg *frost.PublicKeyPackage,
	shares []*frost.SigningShare,
	digest [32]byte,
) ([64]byte, error) {
	ciphersuite := frost.NewBip340Ciphersuite()

	tweakedPkg, err := frost.TweakPublicKeyPackage(ciphersuite, pkg, nil)
	if err != nil {
		return [64]byte{}, err
	}

	observer := ceremony.NewObserver(config.Logger, config.Registerer)

	// The per-signer tasks run concurrently. crypto/rand.Reader is safe
	// for concurrent use but an injected deterministic source usually is
	// not, so reads from it are serialized.
	random := config.Random
	if random != nil {
		random = &lockedReader{delegate: random}
	}

	participants := make([]uint64, len(shares))
	for i, share := range shares {
		participants[i] = share.SignerIndex()
	}
	transport := ceremony.NewInMemoryTransport(participants...)

	signers := make([]*ceremony.Signer, len(shares))
	for i, share := range shares {
		tweakedShare, err := frost.TweakSigningShare(ciphersuite, pkg, share, nil)
		if err != nil {
			return [64]byte{}, err
		}

		signers[i] = ceremony.NewSigner(
			ciphersuite,
			tweakedPkg,
			tweakedShare,
			ceremony.SignerConfig{
				Transport: transport,
				Observer:  observer,
				Random:    random,
			},
		)
	}

	coordinator := ceremony.NewCoordinator(ceremony.CoordinatorConfig{
		RoundTimeout: config.RoundTimeout,
		Observer:     observer,
	})

	return coordinator.Execute(ctx, digest[:], signers)
}

type lockedReader struct {
	mu       sync.Mutex
	delegate io.Reader
}

func (r *lockedReader) Read(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delegate.Read(b)
}

// chooseSigners resolves the requested signer set to the matching signing
// shares, defaulting to the lowest-indexed threshold participants.
func chooseSigners(
	pkg *frost.PublicKeyPackage,
	shares []*frost.SigningShare,
	requested []uint64,
) ([]*frost.SigningShare, error) {
	sharesByIndex := make(map[uint64]*frost.SigningShare, len(shares))
	for _, share := range shares {
		sharesByIndex[share.SignerIndex()] = share
	}

	if len(requested) == 0 {
		// Shares from the keystore come sorted by the signer index.
		return shares[:pkg.Threshold()], nil
	}

	if len(requested) != pkg.Threshold() {
		return nil, fmt.Errorf(
			"need exactly [%d] signers, has [%d]",
			pkg.Threshold(),
			len(requested),
		)
	}

	chosen := make([]*frost.SigningShare, len(requested))
	for i, signerIndex := range requested {
		share, ok := sharesByIndex[signerIndex]
		if !ok {
			return nil, fmt.Errorf(
				"no share of signer [%d] in the key file",
				signerIndex,
			)
		}
		for j := 0; j < i; j++ {
			if chosen[j] == share {
				return nil, fmt.Errorf(
					"duplicate signer [%d]",
					signerIndex,
				)
			}
		}
		chosen[i] = share
	}

	return chosen, nil
}
