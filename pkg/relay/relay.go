// Package relay provides the BitcoinRelay adapter the anchoring core
// consumes: a narrow interface over Bitcoin Core's JSON-RPC surface.
package relay

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// UTXO is one entry returned by list_unspent.
type UTXO struct {
	TxID          chainhash.Hash
	Vout          uint32
	Confirmations uint64
	ValueSat      int64
}

// Relay is the interface the anchoring core consumes, per spec §4.4. All
// methods are context-aware since relay I/O is the protocol's only
// suspension point (spec §5).
type Relay interface {
	// GetTx returns the raw transaction bytes for txid, or nil if
	// unknown (not confirmed and not in the mempool).
	GetTx(ctx context.Context, txid chainhash.Hash) ([]byte, error)

	// GetConfirmations returns the confirmation count for txid, nil if
	// unknown, 0 if it is only in the mempool.
	GetConfirmations(ctx context.Context, txid chainhash.Hash) (*uint64, error)

	// SendTx broadcasts rawTx. It is idempotent: resubmitting a tx
	// already in the chain or mempool is not an error.
	SendTx(ctx context.Context, rawTx []byte) error

	// ListUnspent returns the UTXO set at address.
	ListUnspent(ctx context.Context, address string) ([]UTXO, error)

	// WatchAddress asks the node to index address. Idempotent.
	WatchAddress(ctx context.Context, address string) error
}
