package ceremony

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// DefaultRoundTimeout is the per-round deadline used when the configuration
// does not set one.
const DefaultRoundTimeout = 60 * time.Second

// CoordinatorConfig carries the collaborators and knobs of the ceremony
// coordinator.
type CoordinatorConfig struct {
	// RoundTimeout is the per-round deadline for every signer. Defaults
	// to DefaultRoundTimeout.
	RoundTimeout time.Duration

	// Observer emits log events and counters. Optional.
	Observer *Observer

	// SessionRandom is the source of session identifier randomness.
	// Defaults to crypto/rand.Reader.
	SessionRandom io.Reader
}

// Coordinator drives a single signing ceremony across the chosen signers.
// It is the single authority on the ceremony membership and on the session
// identifier. The coordinator never touches any signer's secret material;
// coordinator-to-signer control flows through task lifecycle only.
type Coordinator struct {
	roundTimeout  time.Duration
	observer      *Observer
	sessionRandom io.Reader
}

// NewCoordinator creates a ceremony coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	roundTimeout := config.RoundTimeout
	if roundTimeout <= 0 {
		roundTimeout = DefaultRoundTimeout
	}

	sessionRandom := config.SessionRandom
	if sessionRandom == nil {
		sessionRandom = rand.Reader
	}

	return &Coordinator{
		roundTimeout:  roundTimeout,
		observer:      config.Observer,
		sessionRandom: sessionRandom,
	}
}

// signerResult is the outcome of a single signer's task.
type signerResult struct {
	signerIndex uint64
	signature   [64]byte
	err         error
}

// Execute runs one signing ceremony for the 32-byte message across the given
// signers and returns the aggregated 64-byte [BIP-340] signature.
//
// The coordinator draws a random 64-bit session identifier, spins up a task
// per signer so their transport waits overlap, and commands every signer to
// initiate signing. When all signers complete, the signatures must be
// byte-identical and any of them is the ceremony result. When any signer
// fails, the remaining tasks are cancelled at their next suspension point
// and the first root failure becomes the ceremony result; failures caused by
// the cancellation itself are suppressed as secondary.
func (c *Coordinator) Execute(
	ctx context.Context,
	message []byte,
	signers []*Signer,
) ([64]byte, error) {
	if len(message) != 32 {
		return [64]byte{}, fmt.Errorf(
			"%w: message must be a 32-byte digest, has [%d] bytes",
			ErrInvalidParameters,
			len(message),
		)
	}
	if len(signers) == 0 {
		return [64]byte{}, fmt.Errorf(
			"%w: no signers",
			ErrInvalidParameters,
		)
	}

	participants := make([]uint64, len(signers))
	for i, signer := range signers {
		participants[i] = signer.SignerIndex()
	}
	slices.Sort(participants)
	for i := 1; i < len(participants); i++ {
		if participants[i-1] == participants[i] {
			return [64]byte{}, fmt.Errorf(
				"%w: duplicate signer [%d]",
				ErrInvalidParameters,
				participants[i],
			)
		}
	}

	sessionID, err := c.drawSessionID()
	if err != nil {
		return [64]byte{}, fmt.Errorf(
			"session id generation failed: [%v]",
			err,
		)
	}

	logger := c.observer.ceremonyLogger(sessionID)
	logger.Info("starting a signing ceremony",
		zap.Uint64s("participants", participants),
		zap.Duration("round_timeout", c.roundTimeout),
	)

	signerCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan *signerResult, len(signers))
	for _, signer := range signers {
		go func(signer *Signer) {
			signature, err := signer.Execute(
				signerCtx,
				sessionID,
				participants,
				message,
				c.roundTimeout,
			)
			results <- &signerResult{signer.SignerIndex(), signature, err}
		}(signer)
	}

	var firstFailure error
	signatures := make(map[uint64][64]byte, len(signers))

	for range signers {
		result := <-results
		if result.err != nil {
			// The first root failure wins; failures caused by the
			// cancellation are a suppressed secondary consequence.
			if firstFailure == nil || (errors.Is(firstFailure, ErrCancelled) &&
				!errors.Is(result.err, ErrCancelled)) {
				firstFailure = fmt.Errorf(
					"signer [%d] failed: %w",
					result.signerIndex,
					result.err,
				)
			}
			cancel(result.err)
			continue
		}
		signatures[result.signerIndex] = result.signature
	}

	if firstFailure != nil {
		c.observer.ceremonyFailed(failureReason(firstFailure))
		logger.Warn("signing ceremony failed", zap.Error(firstFailure))
		return [64]byte{}, firstFailure
	}

	// All signers aggregate from the same signing package and the same
	// share set, so their outputs must agree bit-for-bit. A disagreement
	// means an equivocating participant slipped past the per-share checks.
	signature := signatures[participants[0]]
	for _, participant := range participants[1:] {
		if !bytes.Equal(signature[:], signatures[participant][:]) {
			err := fmt.Errorf(
				"%w: signers [%d] and [%d] aggregated diverging signatures",
				ErrProtocol,
				participants[0],
				participant,
			)
			c.observer.ceremonyFailed(failureReason(err))
			logger.Error("signing ceremony failed", zap.Error(err))
			return [64]byte{}, err
		}
	}

	c.observer.ceremonyCompleted()
	logger.Info("signing ceremony complete")

	return signature, nil
}

// drawSessionID draws a uniformly random 64-bit session identifier. With
// 64 bits per ceremony, a collision between concurrent ceremonies is
// negligible; signers treat a mismatched session id as a drop either way.
func (c *Coordinator) drawSessionID() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(c.sessionRandom, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
