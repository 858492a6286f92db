// Package ceremony implements a single execution of the [FROST] threshold
// signing protocol across a set of signers: the per-participant signing state
// machine, the coordinator driving it, and the transport the ceremony
// messages travel over.
package ceremony

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a protocol round deadline elapsed before
	// the threshold number of messages arrived. The failure is terminal
	// for the session.
	ErrTimeout = errors.New("round deadline elapsed")

	// ErrCancelled is returned by a signer whose context was cancelled;
	// the coordinator cancels the remaining signers when a sibling
	// fails. In that case the coordinator reports the sibling's root
	// failure, not ErrCancelled; ErrCancelled becomes the ceremony
	// result only when the caller's own context was cancelled.
	ErrCancelled = errors.New("ceremony cancelled")

	// ErrProtocol marks a protocol violation: an unexpected message, a
	// duplicate with a divergent payload, or a signature share failing
	// verification. Use errors.As with *ProtocolError to learn the
	// offending participant.
	ErrProtocol = errors.New("protocol violation")

	// ErrInvalidParameters is returned when the ceremony inputs are out
	// of range before any message is exchanged.
	ErrInvalidParameters = errors.New("invalid ceremony parameters")
)

// ProtocolError is a protocol violation attributed to a specific participant.
type ProtocolError struct {
	// SignerIndex identifies the offending participant.
	SignerIndex uint64

	// Reason describes the violation.
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf(
		"protocol violation by signer [%d]: %s",
		e.SignerIndex,
		e.Reason,
	)
}

// Unwrap lets errors.Is match a ProtocolError against ErrProtocol.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// failureReason maps a terminal ceremony error to the label used in the
// ceremony_failed counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrInvalidParameters):
		return "invalid_parameters"
	default:
		return "transport"
	}
}
