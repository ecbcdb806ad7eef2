package bitcoin

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// TxKind tags a raw Bitcoin transaction by inspection only, per spec §3's
// classifier contract. It is a tagged variant, not a type hierarchy:
// callers switch on the value rather than asking the tx what it is.
type TxKind int

const (
	TxKindOther TxKind = iota
	TxKindAnchoring
	TxKindFunding
)

func (k TxKind) String() string {
	switch k {
	case TxKindAnchoring:
		return "anchoring"
	case TxKindFunding:
		return "funding"
	default:
		return "other"
	}
}

// ClassifyTx inspects tx against the known multisig scriptPubKey
// (addressScript, the current or a historical anchoring address) and
// reports its kind plus, for anchoring txs, the decoded payload:
//
//   - Anchoring: output 0 pays addressScript and output 1 is a
//     well-formed 42-byte anchor OP_RETURN.
//   - Funding: output 0 pays addressScript but output 1 is absent or not
//     a well-formed anchor OP_RETURN.
//   - Other: output 0 does not pay addressScript at all.
func ClassifyTx(tx *wire.MsgTx, addressScript []byte) (TxKind, *Payload, error) {
	if len(tx.TxOut) == 0 || !bytes.Equal(tx.TxOut[0].PkScript, addressScript) {
		return TxKindOther, nil, nil
	}
	if len(tx.TxOut) < 2 {
		return TxKindFunding, nil, nil
	}
	height, hash, err := DecodeAnchorScript(tx.TxOut[1].PkScript)
	if err != nil {
		return TxKindFunding, nil, nil
	}
	payload := &Payload{BlockHeight: height, BlockHash: hash}
	if len(tx.TxOut) >= 3 {
		if prev, err := DecodePrevChainScript(tx.TxOut[2].PkScript); err == nil {
			payload.PrevTxChain = &prev
		}
	}
	return TxKindAnchoring, payload, nil
}
