package chain

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyClient fails the first getUTXOFailures GetUTXO calls and the first
// broadcastFailures Broadcast calls with a transport error.
type flakyClient struct {
	getUTXOFailures   int
	broadcastFailures int

	getUTXOCalls   int
	broadcastCalls int
}

func (c *flakyClient) GetUTXO(
	_ context.Context,
	_ wire.OutPoint,
) (*wire.TxOut, error) {
	c.getUTXOCalls++
	if c.getUTXOCalls <= c.getUTXOFailures {
		return nil, errors.Wrap(ErrTransport, "connection reset")
	}
	return wire.NewTxOut(10_000, []byte{0x51}), nil
}

func (c *flakyClient) Broadcast(
	_ context.Context,
	_ *wire.MsgTx,
) (chainhash.Hash, error) {
	c.broadcastCalls++
	if c.broadcastCalls <= c.broadcastFailures {
		return chainhash.Hash{}, errors.Wrap(ErrTransport, "connection reset")
	}
	return chainhash.Hash{0x01}, nil
}

func TestWithRetry_GetUTXORetriedOnce(t *testing.T) {
	client := &flakyClient{getUTXOFailures: 1}

	utxo, err := WithRetry(client).GetUTXO(context.Background(), wire.OutPoint{})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), utxo.Value)
	assert.Equal(t, 2, client.getUTXOCalls)
}

func TestWithRetry_GetUTXONotRetriedTwice(t *testing.T) {
	client := &flakyClient{getUTXOFailures: 2}

	_, err := WithRetry(client).GetUTXO(context.Background(), wire.OutPoint{})
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 2, client.getUTXOCalls)
}

func TestWithRetry_NotFoundNotRetried(t *testing.T) {
	client := &notFoundClient{}

	_, err := WithRetry(client).GetUTXO(context.Background(), wire.OutPoint{})
	require.ErrorIs(t, err, ErrUTXONotFound)
	assert.Equal(t, 1, client.calls)
}

type notFoundClient struct {
	calls int
}

func (c *notFoundClient) GetUTXO(
	_ context.Context,
	_ wire.OutPoint,
) (*wire.TxOut, error) {
	c.calls++
	return nil, ErrUTXONotFound
}

func (c *notFoundClient) Broadcast(
	_ context.Context,
	_ *wire.MsgTx,
) (chainhash.Hash, error) {
	return chainhash.Hash{}, nil
}

func TestWithRetry_BroadcastNeverRetried(t *testing.T) {
	client := &flakyClient{broadcastFailures: 1}

	_, err := WithRetry(client).Broadcast(context.Background(), wire.NewMsgTx(2))
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, client.broadcastCalls)
}

func TestRejectedError(t *testing.T) {
	err := &RejectedError{Reason: "txn-mempool-conflict"}
	assert.Contains(t, err.Error(), "txn-mempool-conflict")
}
