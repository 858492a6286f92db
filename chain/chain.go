// Package chain defines the Bitcoin node interface the spend pipeline
// consumes: UTXO lookup and raw transaction broadcast. The package carries
// no JSON-RPC transport of its own; a concrete client (bitcoind RPC, an
// indexer API) implements the interface elsewhere.
package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

var (
	// ErrUTXONotFound is returned by GetUTXO when the outpoint does not
	// exist or is already spent.
	ErrUTXONotFound = errors.New("utxo not found")

	// ErrTransport marks a node communication failure. Wrap concrete
	// transport errors with it so the retry policy can recognize them.
	ErrTransport = errors.New("node transport failure")
)

// RejectedError is returned by Broadcast when the node rejected the
// transaction.
type RejectedError struct {
	// Reason is the node's rejection reason.
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction rejected by the node: %s", e.Reason)
}

// Client is the Bitcoin node capability the spend pipeline needs.
type Client interface {
	// GetUTXO returns the script and value of the unspent output
	// referenced by the outpoint. Errors: ErrUTXONotFound, ErrTransport.
	GetUTXO(ctx context.Context, outpoint wire.OutPoint) (*wire.TxOut, error)

	// Broadcast submits the transaction to the network and returns its
	// id. Errors: *RejectedError, ErrTransport.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}

// retryingClient wraps a Client with the pipeline's retry policy: reads are
// retried once on a transport failure, broadcast is never retried because
// the caller must decide whether re-submitting a possibly-accepted
// transaction is safe.
type retryingClient struct {
	delegate Client
}

// WithRetry wraps the client with the read retry policy.
func WithRetry(client Client) Client {
	return &retryingClient{client}
}

func (c *retryingClient) GetUTXO(
	ctx context.Context,
	outpoint wire.OutPoint,
) (*wire.TxOut, error) {
	utxo, err := c.delegate.GetUTXO(ctx, outpoint)
	if err != nil && errors.Is(err, ErrTransport) && ctx.Err() == nil {
		utxo, err = c.delegate.GetUTXO(ctx, outpoint)
	}
	if err != nil {
		return nil, err
	}
	return utxo, nil
}

func (c *retryingClient) Broadcast(
	ctx context.Context,
	tx *wire.MsgTx,
) (chainhash.Hash, error) {
	return c.delegate.Broadcast(ctx, tx)
}
