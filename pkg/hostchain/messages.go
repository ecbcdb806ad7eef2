package hostchain

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// ServiceMessage is the common shape of every envelope the core
// broadcasts: a payload plus the service pubkey whose Ed25519 signature
// authenticates it once Envelope wraps it.
type ServiceMessage interface {
	// MessageType distinguishes wire messages for dispatch/logging.
	MessageType() string
}

// MsgAnchoringSignature carries one validator's signature over one input
// of a proposed anchoring transaction, per spec §6.
type MsgAnchoringSignature struct {
	FromServicePubKey [32]byte
	ValidatorIdx      uint32
	Tx                []byte // full Bitcoin-serialized tx being signed
	InputIndex        uint32
	Signature         []byte // DER ECDSA + sighash byte
}

// MessageType implements ServiceMessage.
func (MsgAnchoringSignature) MessageType() string { return "MsgAnchoringSignature" }

// TxID returns the txid of the transaction this signature is over.
func (m MsgAnchoringSignature) TxID() (chainhash.Hash, error) {
	return txIDOf(m.Tx)
}

// MsgAnchoringUpdateLatest declares a validator's current LECT, per spec
// §6.
type MsgAnchoringUpdateLatest struct {
	FromServicePubKey [32]byte
	ValidatorIdx      uint32
	Tx                []byte
	LectCount         uint64 // sender's own log length after this entry
}

// MessageType implements ServiceMessage.
func (MsgAnchoringUpdateLatest) MessageType() string { return "MsgAnchoringUpdateLatest" }

// TxID returns the txid of the LECT entry tx.
func (m MsgAnchoringUpdateLatest) TxID() (chainhash.Hash, error) {
	return txIDOf(m.Tx)
}
