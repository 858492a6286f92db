package ceremony

import "context"

// Broadcast is the receiver value addressing all participants other than
// the sender. Participant indices start at 1 so the zero value is free.
const Broadcast uint64 = 0

// Transport is the capability a ceremony participant uses to exchange
// messages with the other participants of the session. Implementations must
// preserve per-sender message integrity and per-sender ordering; no ordering
// is guaranteed across senders. Duplicate delivery is permitted; receivers
// deduplicate by (session, sender, round).
//
// The signer consumes the capability and does not know whether it talks to
// the in-memory queue graph used in tests or to a real messaging layer.
type Transport interface {
	// Send delivers the envelope to the participant with the given index,
	// or to all participants except the sender when the receiver is
	// Broadcast. Send does not wait for the message to be consumed.
	Send(ctx context.Context, envelope *Envelope, receiver uint64) error

	// Recv returns the next message destined for the given participant,
	// suspending until one is available or the context is done.
	Recv(ctx context.Context, receiver uint64) (*Envelope, error)
}

// sessionDrainer is implemented by transports able to discard messages of a
// finished session without delivering them. Signers use it on terminal
// failure so a dead session's traffic does not linger in the queues.
type sessionDrainer interface {
	DrainSession(receiver uint64, sessionID uint64) int
}
