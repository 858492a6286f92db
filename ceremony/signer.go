package ceremony

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"threshold.network/tapsign/frost"
)

// SignerState is the state of the per-participant signing state machine.
type SignerState int

const (
	// StateIdle is the initial state: no session is bound to the signer.
	StateIdle SignerState = iota

	// StateCollectingCommitments is the Round One state: the signer has
	// broadcast its nonce commitment and accumulates commitments from the
	// other participants.
	StateCollectingCommitments

	// StateCollectingShares is the Round Two state: the signer has
	// broadcast its signature share and accumulates shares from the other
	// participants.
	StateCollectingShares

	// StateComplete is the terminal success state carrying the aggregated
	// signature.
	StateComplete

	// StateFailed is the terminal failure state carrying the failure
	// cause. Failure is terminal for the session; a new session requires
	// Reset.
	StateFailed
)

// String returns a human-readable state name for logging.
func (s SignerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCollectingCommitments:
		return "CollectingCommitments"
	case StateCollectingShares:
		return "CollectingShares"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// SignerConfig carries the collaborators of a ceremony signer.
type SignerConfig struct {
	// Transport carries ceremony messages between the participants.
	Transport Transport

	// Observer emits log events and counters. Optional.
	Observer *Observer

	// Random is the source of nonce randomness. Defaults to
	// crypto/rand.Reader. Tests may set a deterministic stream to make
	// ceremony transcripts reproducible.
	Random io.Reader
}

// Signer executes the [FROST] signing protocol for a single participant,
// one session at a time. The signer exclusively owns its signing share and,
// within a session, its nonce pair; neither ever crosses the transport
// boundary.
type Signer struct {
	ciphersuite frost.Ciphersuite
	pkg         *frost.PublicKeyPackage
	signer      *frost.Signer
	signerIndex uint64

	transport Transport
	observer  *Observer
	random    io.Reader

	// mu guards the fields below; they are written by the Execute task
	// and read by the coordinator and tests.
	mu        sync.Mutex
	state     SignerState
	signature [64]byte
	err       error

	// Session-scoped data, touched only by the Execute task.
	sessionID          uint64
	participants       []uint64
	message            []byte
	nonce              *frost.Nonce
	commitments        map[uint64]*frost.NonceCommitment
	commitmentPayloads map[uint64][]byte
	shares             map[uint64]*big.Int
	sharePayloads      map[uint64][]byte
	pendingShares      []*Envelope
	signingPackage     []*frost.NonceCommitment
}

// NewSigner creates a ceremony signer for the participant owning the given
// signing share. For taproot key-path spends, both the key package and the
// share must be tweaked (see frost.TweakPublicKeyPackage and
// frost.TweakSigningShare) before they are handed over here.
func NewSigner(
	ciphersuite frost.Ciphersuite,
	pkg *frost.PublicKeyPackage,
	signingShare *frost.SigningShare,
	config SignerConfig,
) *Signer {
	random := config.Random
	if random == nil {
		random = rand.Reader
	}

	return &Signer{
		ciphersuite: ciphersuite,
		pkg:         pkg,
		signer:      frost.NewSigner(ciphersuite, pkg.PublicKey(), signingShare),
		signerIndex: signingShare.SignerIndex(),
		transport:   config.Transport,
		observer:    config.Observer,
		random:      random,
		state:       StateIdle,
	}
}

// SignerIndex returns the participant index of the signer.
func (s *Signer) SignerIndex() uint64 {
	return s.signerIndex
}

// State returns the current state of the signing state machine.
func (s *Signer) State() SignerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Signature returns the aggregated signature when the signer is in the
// Complete state.
func (s *Signer) Signature() ([64]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signature, s.state == StateComplete
}

// Err returns the failure cause when the signer is in the Failed state.
func (s *Signer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reset returns the signer to the Idle state, dropping all session data.
// Reset is legal only in a terminal state.
func (s *Signer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateComplete && s.state != StateFailed {
		return fmt.Errorf(
			"cannot reset the signer in state [%s]",
			s.state,
		)
	}

	if s.nonce != nil {
		s.nonce.Zeroize()
	}

	s.state = StateIdle
	s.signature = [64]byte{}
	s.err = nil
	s.sessionID = 0
	s.participants = nil
	s.message = nil
	s.nonce = nil
	s.commitments = nil
	s.commitmentPayloads = nil
	s.shares = nil
	s.sharePayloads = nil
	s.pendingShares = nil
	s.signingPackage = nil

	return nil
}

// Execute runs both protocol rounds of the given session and returns the
// aggregated signature. Execute corresponds to the InitiateSigning event of
// the signing state machine: it binds the signer to the session, broadcasts
// the Round One commitment, and drives the state machine until a terminal
// state. Each round runs against its own deadline of roundTimeout from the
// round start; hitting the deadline fails the session with ErrTimeout.
// Cancelling the context fails the session with ErrCancelled.
func (s *Signer) Execute(
	ctx context.Context,
	sessionID uint64,
	participants []uint64,
	message []byte,
	roundTimeout time.Duration,
) ([64]byte, error) {
	if err := s.initiate(sessionID, participants, message); err != nil {
		return [64]byte{}, err
	}

	logger := s.observer.signerLogger(sessionID, s.signerIndex)

	signature, err := s.execute(ctx, logger, roundTimeout)

	// The nonce pair is single-use: it must not survive the session no
	// matter how the session ended. On the success path it is already
	// zeroized right after the Round Two share is produced; this covers
	// timeouts, protocol failures, and cancellation.
	if s.nonce != nil {
		s.nonce.Zeroize()
	}

	if err != nil {
		s.drainSession()
		s.setFailed(err)
		logger.Warn("signing session failed",
			zap.String("state", StateFailed.String()),
			zap.Error(err),
		)
		return [64]byte{}, err
	}

	s.setComplete(signature)
	logger.Info("signing session complete")
	return signature, nil
}

// initiate validates the session inputs and binds the signer to the session.
func (s *Signer) initiate(
	sessionID uint64,
	participants []uint64,
	message []byte,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf(
			"%w: signer in state [%s] is already bound to session [%d]",
			ErrInvalidParameters,
			s.state,
			s.sessionID,
		)
	}

	if len(participants) == 0 {
		return fmt.Errorf("%w: empty participant set", ErrInvalidParameters)
	}

	// Fewer than threshold shares can never reconstruct the group secret;
	// a session started below the threshold would only ever aggregate an
	// invalid signature.
	if len(participants) < s.pkg.Threshold() {
		return fmt.Errorf(
			"%w: [%d] participants below the signing threshold [%d]",
			ErrInvalidParameters,
			len(participants),
			s.pkg.Threshold(),
		)
	}

	sorted := slices.Clone(participants)
	slices.Sort(sorted)

	found := false
	for i, participant := range sorted {
		if i > 0 && sorted[i-1] == participant {
			return fmt.Errorf(
				"%w: duplicate participant [%d]",
				ErrInvalidParameters,
				participant,
			)
		}
		if s.pkg.VerifyingShare(participant) == nil {
			return fmt.Errorf(
				"%w: participant [%d] is not a group member",
				ErrInvalidParameters,
				participant,
			)
		}
		if participant == s.signerIndex {
			found = true
		}
	}
	if !found {
		return fmt.Errorf(
			"%w: signer [%d] is not among the session participants",
			ErrInvalidParameters,
			s.signerIndex,
		)
	}

	s.state = StateCollectingCommitments
	s.sessionID = sessionID
	s.participants = sorted
	s.message = slices.Clone(message)
	s.commitments = make(map[uint64]*frost.NonceCommitment, len(sorted))
	s.commitmentPayloads = make(map[uint64][]byte, len(sorted))
	s.shares = make(map[uint64]*big.Int, len(sorted))
	s.sharePayloads = make(map[uint64][]byte, len(sorted))

	return nil
}

func (s *Signer) execute(
	ctx context.Context,
	logger *zap.Logger,
	roundTimeout time.Duration,
) ([64]byte, error) {
	threshold := len(s.participants)

	// Round One: generate the nonce pair, accumulate the own commitment,
	// broadcast it to the other participants.
	nonce, commitment, err := s.signer.Round1(s.random)
	if err != nil {
		return [64]byte{}, fmt.Errorf("round one failed: [%v]", err)
	}
	s.nonce = nonce

	ownCommitmentPayload := commitment.Bytes(s.ciphersuite)
	s.commitments[s.signerIndex] = commitment
	s.commitmentPayloads[s.signerIndex] = ownCommitmentPayload

	if err := s.broadcast(ctx, RoundCommitment, ownCommitmentPayload); err != nil {
		return [64]byte{}, err
	}

	logger.Debug("collecting nonce commitments",
		zap.Int("threshold", threshold),
	)

	roundCtx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	for len(s.commitments) < threshold {
		envelope, err := s.recv(ctx, roundCtx)
		if err != nil {
			return [64]byte{}, err
		}
		if err := s.handleRound1Message(logger, envelope); err != nil {
			return [64]byte{}, err
		}
	}
	cancel()

	// The Round One to Round Two transition: the signing package is built
	// deterministically from the threshold commitments present at the
	// transition time, sorted in ascending order by the signer index.
	// All session participants transition with the same package because
	// only the session's threshold signers produce commitments.
	s.signingPackage = make([]*frost.NonceCommitment, 0, threshold)
	for _, participant := range s.participants {
		s.signingPackage = append(s.signingPackage, s.commitments[participant])
	}

	signatureShare, err := s.signer.Round2(s.message, s.nonce, s.signingPackage)
	if err != nil {
		return [64]byte{}, fmt.Errorf("round two failed: [%v]", err)
	}

	// The nonce pair served its single purpose.
	s.nonce.Zeroize()

	s.setState(StateCollectingShares)

	ownSharePayload := frost.MarshalSignatureShare(signatureShare)
	s.shares[s.signerIndex] = signatureShare
	s.sharePayloads[s.signerIndex] = ownSharePayload

	if err := s.broadcast(ctx, RoundShare, ownSharePayload); err != nil {
		return [64]byte{}, err
	}

	logger.Debug("collecting signature shares",
		zap.Int("threshold", threshold),
	)

	// Shares that arrived while this signer was still collecting
	// commitments are processed first. The transport does not order
	// messages across senders, so a fast sibling's Round Two share may
	// overtake a slow sibling's Round One commitment.
	pending := s.pendingShares
	s.pendingShares = nil
	for _, envelope := range pending {
		if err := s.handleRound2Message(logger, envelope); err != nil {
			return [64]byte{}, err
		}
	}

	roundCtx2, cancel2 := context.WithTimeout(ctx, roundTimeout)
	defer cancel2()

	for len(s.shares) < threshold {
		envelope, err := s.recv(ctx, roundCtx2)
		if err != nil {
			return [64]byte{}, err
		}
		if err := s.handleRound2Message(logger, envelope); err != nil {
			return [64]byte{}, err
		}
	}

	// Aggregate the shares in the signing package order so that every
	// participant of the session produces byte-identical output.
	orderedShares := make([]*big.Int, 0, threshold)
	for _, participant := range s.participants {
		orderedShares = append(orderedShares, s.shares[participant])
	}

	aggregated, err := frost.NewCoordinator(s.ciphersuite, s.pkg.PublicKey()).
		Aggregate(s.message, s.signingPackage, orderedShares)
	if err != nil {
		return [64]byte{}, fmt.Errorf("aggregation failed: [%v]", err)
	}

	return aggregated.Bytes(), nil
}

// handleRound1Message processes a single message received in the
// CollectingCommitments state.
func (s *Signer) handleRound1Message(
	logger *zap.Logger,
	envelope *Envelope,
) error {
	if dropped := s.dropMismatchedSession(logger, envelope); dropped {
		return nil
	}

	if err := s.validateSender(envelope); err != nil {
		return err
	}

	switch envelope.Round {
	case RoundShare:
		// A share from a participant that already transitioned to Round
		// Two. It cannot be validated before this signer builds its own
		// signing package, so it waits.
		s.pendingShares = append(s.pendingShares, envelope)
		return nil
	case RoundCommitment:
		return s.acceptCommitment(logger, envelope)
	default:
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"unexpected round tag [%d]",
				uint8(envelope.Round),
			),
		}
	}
}

// handleRound2Message processes a single message received in the
// CollectingShares state.
func (s *Signer) handleRound2Message(
	logger *zap.Logger,
	envelope *Envelope,
) error {
	if dropped := s.dropMismatchedSession(logger, envelope); dropped {
		return nil
	}

	if err := s.validateSender(envelope); err != nil {
		return err
	}

	switch envelope.Round {
	case RoundCommitment:
		// Commitments arriving after the Round One to Round Two
		// transition are ignored; the signing package is already fixed.
		logger.Debug("ignoring a late nonce commitment",
			zap.Uint64("sender", envelope.Sender),
		)
		return nil
	case RoundShare:
		return s.acceptShare(logger, envelope)
	default:
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"unexpected round tag [%d]",
				uint8(envelope.Round),
			),
		}
	}
}

func (s *Signer) acceptCommitment(
	logger *zap.Logger,
	envelope *Envelope,
) error {
	if previous, ok := s.commitmentPayloads[envelope.Sender]; ok {
		// Duplicate delivery of the same payload is permitted by the
		// transport contract; a duplicate with a divergent payload is an
		// equivocation attempt.
		if slices.Equal(previous, envelope.Payload) {
			logger.Debug("ignoring a duplicate nonce commitment",
				zap.Uint64("sender", envelope.Sender),
			)
			return nil
		}
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason:      "divergent duplicate nonce commitment",
		}
	}

	commitment, err := frost.ParseNonceCommitment(s.ciphersuite, envelope.Payload)
	if err != nil {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"malformed nonce commitment: %v",
				err,
			),
		}
	}

	if commitment.SignerIndex() != envelope.Sender {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"nonce commitment of signer [%d] sent by signer [%d]",
				commitment.SignerIndex(),
				envelope.Sender,
			),
		}
	}

	s.commitments[envelope.Sender] = commitment
	s.commitmentPayloads[envelope.Sender] = envelope.Payload
	s.observer.nonceCommitmentReceived()

	logger.Debug("nonce commitment accepted",
		zap.Uint64("sender", envelope.Sender),
		zap.Int("collected", len(s.commitments)),
	)

	return nil
}

func (s *Signer) acceptShare(
	logger *zap.Logger,
	envelope *Envelope,
) error {
	if previous, ok := s.sharePayloads[envelope.Sender]; ok {
		if slices.Equal(previous, envelope.Payload) {
			logger.Debug("ignoring a duplicate signature share",
				zap.Uint64("sender", envelope.Sender),
			)
			return nil
		}
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason:      "divergent duplicate signature share",
		}
	}

	share, err := frost.ParseSignatureShare(s.ciphersuite, envelope.Payload)
	if err != nil {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"malformed signature share: %v",
				err,
			),
		}
	}

	// Verify the share in isolation against the sender's verifying share.
	// The check lets the failure name the misbehaving participant instead
	// of the whole session discovering an invalid aggregate later.
	valid, err := frost.NewCoordinator(s.ciphersuite, s.pkg.PublicKey()).
		VerifyShare(
			envelope.Sender,
			s.pkg.VerifyingShare(envelope.Sender),
			share,
			s.signingPackage,
			s.message,
		)
	if err != nil {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason: fmt.Sprintf(
				"signature share verification failed: %v",
				err,
			),
		}
	}
	if !valid {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason:      "invalid signature share",
		}
	}

	s.shares[envelope.Sender] = share
	s.sharePayloads[envelope.Sender] = envelope.Payload
	s.observer.signatureShareReceived()

	logger.Debug("signature share accepted",
		zap.Uint64("sender", envelope.Sender),
		zap.Int("collected", len(s.shares)),
	)

	return nil
}

// dropMismatchedSession implements the session isolation rule: a message
// tagged with another session's identifier is silently dropped, never
// a failure.
func (s *Signer) dropMismatchedSession(
	logger *zap.Logger,
	envelope *Envelope,
) bool {
	if envelope.SessionID == s.sessionID {
		return false
	}

	logger.Debug("dropping a message with a mismatched session id",
		zap.Uint64("message_session_id", envelope.SessionID),
		zap.Uint64("sender", envelope.Sender),
	)
	return true
}

func (s *Signer) validateSender(envelope *Envelope) error {
	if !slices.Contains(s.participants, envelope.Sender) {
		return &ProtocolError{
			SignerIndex: envelope.Sender,
			Reason:      "sender is not a session participant",
		}
	}
	return nil
}

func (s *Signer) broadcast(
	ctx context.Context,
	round Round,
	payload []byte,
) error {
	envelope := &Envelope{
		SessionID: s.sessionID,
		Sender:    s.signerIndex,
		Round:     round,
		Payload:   payload,
	}

	if err := s.transport.Send(ctx, envelope, Broadcast); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return fmt.Errorf("broadcast failed: [%v]", err)
	}

	return nil
}

// recv waits for the next message. The round context carries the round
// deadline; the parent context carries the coordinator's cancellation.
func (s *Signer) recv(
	ctx context.Context,
	roundCtx context.Context,
) (*Envelope, error) {
	envelope, err := s.transport.Recv(roundCtx, s.signerIndex)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
		}
		if roundCtx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("transport receive failed: [%v]", err)
	}
	return envelope, nil
}

// drainSession discards this signer's remaining queued messages of the
// failed session when the transport supports it.
func (s *Signer) drainSession() {
	if drainer, ok := s.transport.(sessionDrainer); ok {
		drainer.DrainSession(s.signerIndex, s.sessionID)
	}
}

func (s *Signer) setState(state SignerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Signer) setComplete(signature [64]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateComplete
	s.signature = signature
}

func (s *Signer) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.err = err
}
