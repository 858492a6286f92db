package ceremony

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundtrip(t *testing.T) {
	envelope := &Envelope{
		SessionID: 0xdeadbeefcafebabe,
		Sender:    513,
		Round:     RoundCommitment,
		Payload:   []byte{0x01, 0x02, 0x03, 0x04, 0x05},
	}

	encoded, err := envelope.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)

	assert.Equal(t, envelope.SessionID, decoded.SessionID)
	assert.Equal(t, envelope.Sender, decoded.Sender)
	assert.Equal(t, envelope.Round, decoded.Round)
	assert.Equal(t, envelope.Payload, decoded.Payload)
}

func TestEnvelopeRoundtrip_EmptyPayload(t *testing.T) {
	envelope := &Envelope{
		SessionID: 1,
		Sender:    1,
		Round:     RoundShare,
	}

	encoded, err := envelope.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded.Payload)
}

func TestEnvelopeEncode_Errors(t *testing.T) {
	// sender out of the 16-bit wire range
	_, err := (&Envelope{Sender: 70000, Round: RoundShare}).Encode()
	assert.Error(t, err)

	// sender zero is reserved
	_, err = (&Envelope{Sender: 0, Round: RoundShare}).Encode()
	assert.Error(t, err)

	// unknown round tag
	_, err = (&Envelope{Sender: 1, Round: Round(7)}).Encode()
	assert.Error(t, err)
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	// too short
	_, err := DecodeEnvelope(make([]byte, 10))
	assert.Error(t, err)

	// unknown round tag
	envelope := &Envelope{SessionID: 1, Sender: 1, Round: RoundShare}
	encoded, err := envelope.Encode()
	require.NoError(t, err)
	encoded[10] = 9
	_, err = DecodeEnvelope(encoded)
	assert.Error(t, err)
}

func TestInMemoryTransport_SendRecv(t *testing.T) {
	transport := NewInMemoryTransport(1, 2, 3)
	ctx := context.Background()

	envelope := &Envelope{
		SessionID: 42,
		Sender:    1,
		Round:     RoundCommitment,
		Payload:   []byte{0xaa},
	}

	require.NoError(t, transport.Send(ctx, envelope, 2))

	received, err := transport.Recv(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, envelope.SessionID, received.SessionID)
	assert.Equal(t, envelope.Sender, received.Sender)
	assert.Equal(t, envelope.Payload, received.Payload)
}

func TestInMemoryTransport_Broadcast(t *testing.T) {
	transport := NewInMemoryTransport(1, 2, 3)
	ctx := context.Background()

	envelope := &Envelope{
		SessionID: 42,
		Sender:    1,
		Round:     RoundCommitment,
		Payload:   []byte{0xbb},
	}

	require.NoError(t, transport.Send(ctx, envelope, Broadcast))

	for _, receiver := range []uint64{2, 3} {
		received, err := transport.Recv(ctx, receiver)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), received.Sender)
	}

	// The sender does not receive its own broadcast.
	recvCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := transport.Recv(recvCtx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryTransport_RecvWakesUpOnEnqueue(t *testing.T) {
	transport := NewInMemoryTransport(1, 2)
	ctx := context.Background()

	done := make(chan *Envelope, 1)
	go func() {
		received, err := transport.Recv(ctx, 2)
		if err == nil {
			done <- received
		}
	}()

	// Give the receiver a moment to suspend before the enqueue.
	time.Sleep(20 * time.Millisecond)

	envelope := &Envelope{
		SessionID: 7,
		Sender:    1,
		Round:     RoundShare,
		Payload:   []byte{0xcc},
	}
	require.NoError(t, transport.Send(ctx, envelope, 2))

	select {
	case received := <-done:
		assert.Equal(t, uint64(7), received.SessionID)
	case <-time.After(time.Second):
		t.Fatal("receiver did not wake up on enqueue")
	}
}

func TestInMemoryTransport_PayloadIntegrity(t *testing.T) {
	transport := NewInMemoryTransport(1, 2)
	ctx := context.Background()

	payload := []byte{0x01, 0x02, 0x03}
	envelope := &Envelope{
		SessionID: 42,
		Sender:    1,
		Round:     RoundCommitment,
		Payload:   payload,
	}

	require.NoError(t, transport.Send(ctx, envelope, 2))

	// Mutating the producer's buffer after Send must not alter the
	// delivered message.
	payload[0] = 0xff

	received, err := transport.Recv(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, received.Payload)
}

func TestInMemoryTransport_DrainSession(t *testing.T) {
	transport := NewInMemoryTransport(1, 2)
	ctx := context.Background()

	for _, sessionID := range []uint64{10, 20, 10} {
		envelope := &Envelope{
			SessionID: sessionID,
			Sender:    1,
			Round:     RoundCommitment,
			Payload:   []byte{0x01},
		}
		require.NoError(t, transport.Send(ctx, envelope, 2))
	}

	assert.Equal(t, 2, transport.DrainSession(2, 10))

	received, err := transport.Recv(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), received.SessionID)
}

func TestInMemoryTransport_UnknownReceiver(t *testing.T) {
	transport := NewInMemoryTransport(1, 2)
	ctx := context.Background()

	envelope := &Envelope{
		SessionID: 1,
		Sender:    1,
		Round:     RoundCommitment,
	}
	assert.Error(t, transport.Send(ctx, envelope, 5))

	_, err := transport.Recv(ctx, 5)
	assert.Error(t, err)
}
