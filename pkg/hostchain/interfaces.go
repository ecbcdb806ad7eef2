// Package hostchain defines the narrow interfaces and service-transaction
// types the anchoring core consumes from the BFT host chain framework,
// per spec §6. The host framework itself (consensus, block production,
// config-change mechanism) stays out of scope; these are the seams the
// core is wired through in production.
package hostchain

import (
	"context"

	"github.com/certen/btc-anchoring/pkg/ledger"
)

// BlockOracle gives the core read access to the host chain's block
// height/hash stream.
type BlockOracle interface {
	Height() uint64
	BlockHash(height uint64) ([32]byte, bool)
}

// ValidatorRoster gives the core the anchoring validator set and this
// node's own position within it.
type ValidatorRoster interface {
	// AnchoringKeys returns the ordered anchoring key list active at
	// height; ordered position is the validator index.
	AnchoringKeys(height uint64) []ledger.AnchoringKey

	// OwnIndex returns this node's own validator index, if it holds an
	// anchoring key.
	OwnIndex() (int, bool)
}

// ServiceTxBroadcaster submits a signed service transaction to the host
// chain's mempool.
type ServiceTxBroadcaster interface {
	Broadcast(ctx context.Context, msg ServiceMessage) error
}
