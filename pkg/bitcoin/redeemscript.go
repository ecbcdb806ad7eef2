package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// BuildRedeemScript assembles the m-of-n P2WSH witness script for the
// anchoring multisig: OP_m <pubkey_1> .. <pubkey_n> OP_n OP_CHECKMULTISIG.
// Pubkeys must already be in config order; callers never reorder them
// (ordered position is the validator index used for signatures and LECT
// ownership).
func BuildRedeemScript(pubkeys [][]byte, majority int) ([]byte, error) {
	n := len(pubkeys)
	if n == 0 {
		return nil, fmt.Errorf("bitcoin: redeem script requires at least one pubkey")
	}
	if majority < 1 || majority > n {
		return nil, fmt.Errorf("bitcoin: majority %d out of range for %d keys", majority, n)
	}
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_1 - 1 + byte(majority))
	for _, pk := range pubkeys {
		if len(pk) != 33 {
			return nil, fmt.Errorf("bitcoin: anchoring pubkeys must be compressed (33 bytes), got %d", len(pk))
		}
		builder.AddData(pk)
	}
	builder.AddOp(txscript.OP_1 - 1 + byte(n))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// P2WSHScriptPubKey derives the witness-program scriptPubKey (OP_0
// <sha256(redeem_script)>) for a redeem script, per BIP-141.
func P2WSHScriptPubKey(redeemScript []byte) ([]byte, error) {
	hash := sha256Sum(redeemScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
}

// P2WSHAddress derives the bech32 P2WSH address string for a redeem
// script on the given network.
func P2WSHAddress(redeemScript []byte, network Network) (string, error) {
	params, err := network.Params()
	if err != nil {
		return "", err
	}
	hash := sha256Sum(redeemScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(hash[:], params)
	if err != nil {
		return "", fmt.Errorf("bitcoin: derive p2wsh address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// MajorityCount implements majority_count = floor(2n/3) + 1 from spec §3.
func MajorityCount(n int) int {
	return (2*n)/3 + 1
}
