package anchor

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/ledger"
)

// QuorumLect is the outcome of scanning every validator's latest LECT
// entry for agreement.
type QuorumLect struct {
	Found bool
	TxID  chainhash.Hash
	Tx    []byte
}

// ComputeQuorumLect scans every validator's latest LECT (per spec
// §4.5 step 2) and returns the tx ≥ majority validators agree on, if
// any. When several txs reach majority with the same agreement count,
// the lexicographically smaller txid wins; payload heights are not
// compared here.
func ComputeQuorumLect(schema *ledger.Schema, numValidators, majority int) (*QuorumLect, error) {
	counts := make(map[chainhash.Hash]int)
	txs := make(map[chainhash.Hash][]byte)

	for idx := 0; idx < numValidators; idx++ {
		raw, err := schema.LatestLect(idx)
		if err != nil {
			continue // no lect yet from this validator
		}
		tx, err := bitcoin.DeserializeTx(raw)
		if err != nil {
			return nil, fmt.Errorf("anchor: compute quorum lect: decode validator %d lect: %w", idx, err)
		}
		txid := bitcoin.TxID(tx)
		counts[txid]++
		txs[txid] = raw
	}

	// Map iteration order is nondeterministic, but the comparison below
	// always keeps the lexicographically smallest txid among tied best
	// counts, so the final result is independent of visitation order.
	var bestTxID chainhash.Hash
	var bestCount int
	var haveBest bool
	for txid, count := range counts {
		if count < majority {
			continue
		}
		if !haveBest || count > bestCount || (count == bestCount && bytes.Compare(txid[:], bestTxID[:]) < 0) {
			bestTxID, bestCount, haveBest = txid, count, true
		}
	}
	if !haveBest {
		return &QuorumLect{Found: false}, nil
	}
	return &QuorumLect{Found: true, TxID: bestTxID, Tx: txs[bestTxID]}, nil
}
