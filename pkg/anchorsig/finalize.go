package anchorsig

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Finalize assembles the witness stack for every input of tx from
// sigsPerInput, ordered the same way as tx.TxIn. Each entry must list at
// least majority signatures, already ordered according to anchoring_keys
// (the order callers sign in), per spec §4.2:
// `[empty, sig_1, ..., sig_m, redeem_script]`.
func Finalize(tx *wire.MsgTx, redeemScript []byte, majority int, sigsPerInput [][][]byte) (*wire.MsgTx, error) {
	if len(sigsPerInput) != len(tx.TxIn) {
		return nil, fmt.Errorf("anchorsig: expected %d signature sets, got %d", len(tx.TxIn), len(sigsPerInput))
	}
	out := tx.Copy()
	for i, sigs := range sigsPerInput {
		if len(sigs) < majority {
			return nil, fmt.Errorf("%w: input %d has %d of %d required", ErrInsufficientSignatures, i, len(sigs), majority)
		}
		witness := make(wire.TxWitness, 0, 2+majority)
		witness = append(witness, []byte{}) // OP_CHECKMULTISIG off-by-one dummy element
		for _, sig := range sigs[:majority] {
			witness = append(witness, sig)
		}
		witness = append(witness, redeemScript)
		out.TxIn[i].Witness = witness
	}
	return out, nil
}
