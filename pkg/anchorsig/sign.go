// Package anchorsig computes and verifies the per-input ECDSA signatures
// over anchoring transactions and assembles the finished P2WSH witness
// stacks, per the BIP-141/143 contract.
package anchorsig

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SigHashType is the single hash type the protocol uses: SIGHASH_ALL.
const SigHashType = txscript.SigHashAll

// SignInput computes the BIP-143 witness sighash for input idx (spending
// prevOutValue satoshis locked by redeemScript) and returns a DER-encoded
// ECDSA signature with the SIGHASH_ALL type byte appended, per spec
// §4.2's sign_input contract.
func SignInput(tx *wire.MsgTx, idx int, prevOutValue int64, redeemScript []byte, priv *btcec.PrivateKey) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d", ErrInputOutOfRange, idx)
	}
	sigHash, err := witnessSigHash(tx, idx, prevOutValue, redeemScript)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(priv, sigHash)
	return append(sig.Serialize(), byte(SigHashType)), nil
}

// Sign signs input idx using whichever key in ks corresponds to pubkey.
func (ks *KeyStore) Sign(tx *wire.MsgTx, idx int, prevOutValue int64, redeemScript, pubkey []byte) ([]byte, error) {
	priv, err := ks.private(pubkey)
	if err != nil {
		return nil, err
	}
	return SignInput(tx, idx, prevOutValue, redeemScript, priv)
}

// VerifyInput checks that sig (DER + trailing sighash-type byte) is a
// valid SIGHASH_ALL signature by pubkey over input idx.
func VerifyInput(tx *wire.MsgTx, idx int, prevOutValue int64, redeemScript, pubkey, sig []byte) error {
	if idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("%w: %d", ErrInputOutOfRange, idx)
	}
	if len(sig) == 0 {
		return fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	hashType := txscript.SigHashType(sig[len(sig)-1])
	if hashType != SigHashType {
		return fmt.Errorf("%w: unexpected sighash type %d", ErrInvalidSignature, hashType)
	}
	der := sig[:len(sig)-1]
	parsed, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return fmt.Errorf("%w: bad pubkey: %v", ErrInvalidSignature, err)
	}
	sigHash, err := witnessSigHash(tx, idx, prevOutValue, redeemScript)
	if err != nil {
		return err
	}
	if !parsed.Verify(sigHash, pub) {
		return ErrInvalidSignature
	}
	return nil
}

func witnessSigHash(tx *wire.MsgTx, idx int, prevOutValue int64, redeemScript []byte) ([]byte, error) {
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(nil, prevOutValue)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)
	hash, err := txscript.CalcWitnessSigHash(redeemScript, sigHashes, SigHashType, tx, idx, prevOutValue)
	if err != nil {
		return nil, fmt.Errorf("anchorsig: compute witness sighash: %w", err)
	}
	return hash, nil
}
