package anchor

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/ledger"
)

// maxWalkDepth bounds the prev-chain walk used to confirm a candidate
// LECT resolves to already-known history, per spec §4.5 step 1.
const maxWalkDepth = 1000

// resolvesToKnownHistory walks tx's chain of inputs backward through
// schema.KnownTx, stopping at the first ancestor already present in any
// validator's LECT log, or already recorded as a known funding tx
// (schema.IsFundingSpent or simply present in known_txs without an
// anchoring payload). It reports whether the walk terminated within
// maxWalkDepth steps; exceeding the bound is treated as "unknown" per
// spec, not as a Broken-state violation.
func resolvesToKnownHistory(schema *ledger.Schema, numValidators int, tx *wire.MsgTx) (bool, error) {
	current := tx
	for depth := 0; depth < maxWalkDepth; depth++ {
		if len(current.TxIn) == 0 {
			return false, nil
		}
		prevTxID := current.TxIn[0].PreviousOutPoint.Hash

		if anyValidatorHasLect(schema, numValidators, prevTxID) {
			return true, nil
		}
		if spent, err := schema.IsFundingSpent(prevTxID); err == nil && spent {
			return true, nil
		}

		rawPrev, err := schema.KnownTx(prevTxID)
		if err != nil {
			// Not a known tx at all: it may be the original funding tx,
			// which the walk cannot resolve further without relay
			// access the caller has already consulted. Treat absence
			// as the walk's terminal (unresolved) case.
			return false, nil
		}
		prevTx, err := bitcoin.DeserializeTx(rawPrev)
		if err != nil {
			return false, fmt.Errorf("anchor: walk chain: decode known tx: %w", err)
		}
		if _, ok := payloadHeight(prevTx); !ok {
			return true, nil // known tx without an anchoring payload: a funding tx
		}
		current = prevTx
	}
	return false, nil
}

func anyValidatorHasLect(schema *ledger.Schema, numValidators int, txid chainhash.Hash) bool {
	for idx := 0; idx < numValidators; idx++ {
		if _, ok, err := schema.LectIndex(idx, txid); err == nil && ok {
			return true
		}
	}
	return false
}

// payloadHeight extracts an anchoring tx's committed height, for
// comparisons against the target height in the Anchoring state.
func payloadHeight(tx *wire.MsgTx) (uint64, bool) {
	if len(tx.TxOut) < 2 {
		return 0, false
	}
	height, _, err := bitcoin.DecodeAnchorScript(tx.TxOut[1].PkScript)
	if err != nil {
		return 0, false
	}
	return height, true
}
