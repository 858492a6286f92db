package ceremony

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryTransport is a Transport connecting participants living in the
// same process. Each participant owns an ordered queue of incoming messages;
// the queue accepts concurrent producers and a single consumer, waking the
// consumer up on enqueue.
//
// The transport carries envelopes through their wire encoding so that
// anything that does not survive Encode/Decode does not survive the
// transport either, just like on a real messaging layer.
type InMemoryTransport struct {
	mailboxes map[uint64]*mailbox
}

type mailbox struct {
	mu    sync.Mutex
	queue []*Envelope
	wake  chan struct{}
}

// NewInMemoryTransport creates an in-memory transport connecting the
// participants with the given indices.
func NewInMemoryTransport(participants ...uint64) *InMemoryTransport {
	mailboxes := make(map[uint64]*mailbox, len(participants))
	for _, participant := range participants {
		mailboxes[participant] = &mailbox{
			wake: make(chan struct{}, 1),
		}
	}

	return &InMemoryTransport{mailboxes}
}

// Send implements the Transport interface.
func (t *InMemoryTransport) Send(
	_ context.Context,
	envelope *Envelope,
	receiver uint64,
) error {
	encoded, err := envelope.Encode()
	if err != nil {
		return fmt.Errorf("cannot encode envelope: [%v]", err)
	}

	if receiver != Broadcast {
		box, ok := t.mailboxes[receiver]
		if !ok {
			return fmt.Errorf("unknown receiver [%d]", receiver)
		}
		return box.enqueue(encoded)
	}

	for participant, box := range t.mailboxes {
		if participant == envelope.Sender {
			continue
		}
		if err := box.enqueue(encoded); err != nil {
			return err
		}
	}

	return nil
}

// Recv implements the Transport interface.
func (t *InMemoryTransport) Recv(
	ctx context.Context,
	receiver uint64,
) (*Envelope, error) {
	box, ok := t.mailboxes[receiver]
	if !ok {
		return nil, fmt.Errorf("unknown receiver [%d]", receiver)
	}

	for {
		if envelope := box.dequeue(); envelope != nil {
			return envelope, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-box.wake:
		}
	}
}

// DrainSession discards all queued messages of the given session destined
// for the given participant and returns the number of discarded messages.
func (t *InMemoryTransport) DrainSession(
	receiver uint64,
	sessionID uint64,
) int {
	box, ok := t.mailboxes[receiver]
	if !ok {
		return 0
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	kept := box.queue[:0]
	drained := 0
	for _, envelope := range box.queue {
		if envelope.SessionID == sessionID {
			drained++
			continue
		}
		kept = append(kept, envelope)
	}
	box.queue = kept

	return drained
}

func (m *mailbox) enqueue(encoded []byte) error {
	// Decoding makes a private copy of the payload, so a producer mutating
	// its buffer after Send cannot alter what the consumer reads.
	envelope, err := DecodeEnvelope(encoded)
	if err != nil {
		return fmt.Errorf("cannot decode envelope: [%v]", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, envelope)
	m.mu.Unlock()

	// Wake the consumer up; a pending wake-up already covers this message.
	select {
	case m.wake <- struct{}{}:
	default:
	}

	return nil
}

func (m *mailbox) dequeue() *Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil
	}

	envelope := m.queue[0]
	m.queue = m.queue[1:]
	return envelope
}
