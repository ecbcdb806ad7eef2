package hostchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
)

func txIDOf(rawTx []byte) (chainhash.Hash, error) {
	tx, err := bitcoin.DeserializeTx(rawTx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("hostchain: decode tx: %w", err)
	}
	return bitcoin.TxID(tx), nil
}
