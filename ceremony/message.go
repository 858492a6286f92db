package ceremony

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Round tags the protocol round a ceremony message belongs to.
type Round uint8

const (
	// RoundCommitment tags Round One messages carrying a nonce commitment.
	RoundCommitment Round = 1

	// RoundShare tags Round Two messages carrying a signature share.
	RoundShare Round = 2
)

// String returns a human-readable round name for logging.
func (r Round) String() string {
	switch r {
	case RoundCommitment:
		return "commitment"
	case RoundShare:
		return "share"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// envelopeHeaderLength is the fixed header size: 8 bytes of the session
// identifier, 2 bytes of the sender index, 1 byte of the round tag.
const envelopeHeaderLength = 8 + 2 + 1

// Envelope is a ceremony message as it travels over the transport:
// an opaque protocol payload wrapped with the session identifier, the sender
// index, and the round tag.
type Envelope struct {
	SessionID uint64
	Sender    uint64
	Round     Round
	Payload   []byte
}

// Encode serializes the envelope to its wire form: big-endian fixed-width
// header followed by the payload. The sender index must fit the 16-bit wire
// field; the dealer never produces indices anywhere near that bound.
func (e *Envelope) Encode() ([]byte, error) {
	if e.Sender == 0 || e.Sender > math.MaxUint16 {
		return nil, fmt.Errorf(
			"sender index [%d] does not fit the wire format",
			e.Sender,
		)
	}
	if e.Round != RoundCommitment && e.Round != RoundShare {
		return nil, fmt.Errorf("unknown round tag [%d]", uint8(e.Round))
	}

	b := make([]byte, 0, envelopeHeaderLength+len(e.Payload))
	b = binary.BigEndian.AppendUint64(b, e.SessionID)
	b = binary.BigEndian.AppendUint16(b, uint16(e.Sender))
	b = append(b, uint8(e.Round))
	b = append(b, e.Payload...)
	return b, nil
}

// DecodeEnvelope deserializes an envelope from its wire form.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	if len(b) < envelopeHeaderLength {
		return nil, fmt.Errorf(
			"envelope too short: expected at least [%d] bytes, has [%d]",
			envelopeHeaderLength,
			len(b),
		)
	}

	round := Round(b[10])
	if round != RoundCommitment && round != RoundShare {
		return nil, fmt.Errorf("unknown round tag [%d]", b[10])
	}

	payload := make([]byte, len(b)-envelopeHeaderLength)
	copy(payload, b[envelopeHeaderLength:])

	return &Envelope{
		SessionID: binary.BigEndian.Uint64(b[0:8]),
		Sender:    uint64(binary.BigEndian.Uint16(b[8:10])),
		Round:     round,
		Payload:   payload,
	}, nil
}
