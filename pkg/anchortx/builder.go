package anchortx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
)

// placeholderSigSize is the byte length reserved per signature when
// estimating the post-signature transaction size for fee calculation: a
// maximal 72-byte DER ECDSA signature plus its 1-byte sighash type.
// Using the conservative maximum rather than the typical ~71-72 byte
// observed size keeps every validator's fee estimate byte-identical
// regardless of the low-s signatures actually produced.
const placeholderSigSize = 73

// Builder assembles a Build input fluently. Build() itself remains a
// pure function of the accumulated fields: no setter here introduces
// nondeterminism (no map iteration, no wall-clock ordering).
type Builder struct {
	prevTx        *wire.MsgTx
	prevTxIsAnchor bool
	transit       bool
	funding       []*wire.MsgTx
	height        uint64
	blockHash     chainhash.Hash
	prevTxChain   *chainhash.Hash
	feePerByte    uint64
	toScript      []byte
	redeemScript  []byte
	majority      int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithPrevTx sets the transaction anchor-tip input. isAnchor selects
// whether input 0 is prevTx's output 0 (Anchoring) or its
// destination-paying output (Funding).
func (b *Builder) WithPrevTx(tx *wire.MsgTx, isAnchor bool) *Builder {
	b.prevTx = tx
	b.prevTxIsAnchor = isAnchor
	return b
}

// AsTransition marks this build as an explicit address transition: an
// anchoring prevTx's output 0 is allowed to pay a script other than the
// destination, since the whole point of a transition build is to move
// funds from the current address to a new one. Per spec §4.1, every
// other build keeps requiring prevTx's output 0 to already pay the
// destination script.
func (b *Builder) AsTransition() *Builder {
	b.transit = true
	return b
}

// WithFunding appends additional funding transactions, consumed in the
// given order as inputs 1..k.
func (b *Builder) WithFunding(txs ...*wire.MsgTx) *Builder {
	b.funding = append(b.funding, txs...)
	return b
}

// WithPayload sets the (height, hash) pair committed in output 1.
func (b *Builder) WithPayload(height uint64, hash chainhash.Hash) *Builder {
	b.height = height
	b.blockHash = hash
	return b
}

// WithPrevChain sets the recovery-anchor prev_tx_chain pointer written
// into output 2. Omit for a normal (non-recovery) build.
func (b *Builder) WithPrevChain(txid chainhash.Hash) *Builder {
	b.prevTxChain = &txid
	return b
}

// WithFeeRate sets fee_per_byte in satoshis.
func (b *Builder) WithFeeRate(feePerByte uint64) *Builder {
	b.feePerByte = feePerByte
	return b
}

// WithDestination sets the P2WSH scriptPubKey output 0 pays.
func (b *Builder) WithDestination(script []byte) *Builder {
	b.toScript = script
	return b
}

// WithRedeemScript sets the multisig witness script used only to size
// the placeholder signatures for fee estimation; it is not embedded in
// the unsigned transaction itself (that happens at Finalize time).
func (b *Builder) WithRedeemScript(script []byte, majority int) *Builder {
	b.redeemScript = script
	b.majority = majority
	return b
}

// Result is the builder's output: the unsigned transaction plus the
// prior transactions each of its inputs spends, in TxIn order, so a
// caller can recompute input values/scripts when signing.
type Result struct {
	UnsignedTx *wire.MsgTx
	InputTxs   []*wire.MsgTx
	InputValue []int64
}

// Build assembles the unsigned transaction deterministically. Given the
// same fields in the same order, it always produces byte-identical
// output, satisfying spec §4.1's cross-validator determinism
// requirement.
func (b *Builder) Build() (*Result, error) {
	if len(b.toScript) == 0 {
		return nil, ErrMissingDestination
	}
	if b.prevTx == nil && len(b.funding) == 0 {
		return nil, ErrNoInputs
	}
	if len(b.redeemScript) == 0 {
		return nil, ErrMissingRedeemScript
	}

	tx := wire.NewMsgTx(bitcoin.TxVersion)
	var inputTxs []*wire.MsgTx
	var inputValues []int64

	if b.prevTx != nil {
		idx, value, err := prevTxInputOutput(b.prevTx, b.prevTxIsAnchor, b.transit, b.toScript)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: bitcoin.TxID(b.prevTx), Index: idx},
		})
		inputTxs = append(inputTxs, b.prevTx)
		inputValues = append(inputValues, value)
	}

	for _, fundingTx := range b.funding {
		idx, value, err := findOutput(fundingTx, b.toScript)
		if err != nil {
			return nil, fmt.Errorf("%w", ErrUnsuitableFundingTx)
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: bitcoin.TxID(fundingTx), Index: idx},
		})
		inputTxs = append(inputTxs, fundingTx)
		inputValues = append(inputValues, value)
	}

	var balance int64
	for _, v := range inputValues {
		balance += v
	}

	anchorScript, err := bitcoin.EncodeAnchorScript(b.height, b.blockHash)
	if err != nil {
		return nil, fmt.Errorf("anchortx: encode payload: %w", err)
	}
	var prevChainScript []byte
	if b.prevTxChain != nil {
		prevChainScript, err = bitcoin.EncodePrevChainScript(*b.prevTxChain)
		if err != nil {
			return nil, fmt.Errorf("anchortx: encode prev chain pointer: %w", err)
		}
	}

	// Output 0 value is a placeholder until the fee is known; it is
	// appended now so the post-placeholder-signature size estimate
	// includes it.
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: append([]byte(nil), b.toScript...)})
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: anchorScript})
	if prevChainScript != nil {
		tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: prevChainScript})
	}

	fee, err := estimateFee(tx, b.redeemScript, b.majority, b.feePerByte)
	if err != nil {
		return nil, err
	}
	if fee > balance {
		return nil, &InsufficientFundsError{TotalFee: fee, Balance: balance}
	}
	tx.TxOut[0].Value = balance - fee

	return &Result{UnsignedTx: tx, InputTxs: inputTxs, InputValue: inputValues}, nil
}

// prevTxInputOutput resolves which output of prevTx input 0 spends. An
// anchoring prevTx's redeemable output is always output 0 by convention
// (spec §3). Per spec §4.1, that output must already pay the
// destination script unless this build is explicitly marked as a
// transition (AsTransition), the one case where paying a different
// script is the point; a non-anchor prevTx (a plain funding tx) has no
// such convention and must be matched by script like any other funding
// input.
func prevTxInputOutput(prevTx *wire.MsgTx, isAnchor, transit bool, toScript []byte) (uint32, int64, error) {
	if isAnchor {
		if len(prevTx.TxOut) == 0 {
			return 0, 0, ErrUnsuitableOutput
		}
		if !transit && !bytes.Equal(prevTx.TxOut[0].PkScript, toScript) {
			return 0, 0, ErrUnsuitableOutput
		}
		return 0, prevTx.TxOut[0].Value, nil
	}
	idx, value, err := findOutput(prevTx, toScript)
	if err != nil {
		return 0, 0, ErrUnsuitableFundingTx
	}
	return idx, value, nil
}

// findOutput locates the (first) output of tx paying script.
func findOutput(tx *wire.MsgTx, script []byte) (uint32, int64, error) {
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return uint32(i), out.Value, nil
		}
	}
	return 0, 0, fmt.Errorf("anchortx: no output pays the expected script")
}

// estimateFee computes fee_per_byte * serialized_byte_length of tx with
// placeholder witnesses of majority dummy signatures per input attached,
// matching the final signed transaction's size.
func estimateFee(tx *wire.MsgTx, redeemScript []byte, majority int, feePerByte uint64) (int64, error) {
	sized := tx.Copy()
	dummySig := make([]byte, placeholderSigSize)
	for i := range sized.TxIn {
		witness := make(wire.TxWitness, 0, majority+2)
		witness = append(witness, []byte{})
		for j := 0; j < majority; j++ {
			witness = append(witness, dummySig)
		}
		witness = append(witness, redeemScript)
		sized.TxIn[i].Witness = witness
	}
	raw, err := bitcoin.SerializeTx(sized)
	if err != nil {
		return 0, fmt.Errorf("anchortx: size placeholder tx: %w", err)
	}
	return int64(feePerByte) * int64(len(raw)), nil
}
