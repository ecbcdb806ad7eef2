package ledger

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
)

// AnchoringKey pairs a validator's Bitcoin signing key with its
// host-chain service key, in the order used as the validator's index for
// signatures and LECT ownership.
type AnchoringKey struct {
	BitcoinPubKey []byte `json:"bitcoin_pubkey"`
	ServicePubKey []byte `json:"service_pubkey"`
}

// AnchoringConfig is the versioned configuration anchoring runs under,
// per spec §3. It is created by a host config-change, activates at
// ActualFrom, and is never mutated once committed.
type AnchoringConfig struct {
	ActualFrom         uint64         `json:"actual_from"`
	AnchoringKeys       []AnchoringKey `json:"anchoring_keys"`
	Network             bitcoin.Network `json:"network"`
	AnchoringInterval   uint64         `json:"anchoring_interval"`
	FeePerByte          uint64         `json:"fee_per_byte"`
	UTXOConfirmations   uint64         `json:"utxo_confirmations"`
	// FundingTransaction is only set on a *following* config that
	// introduces a fresh chain (recovery path), per spec §4.5.
	FundingTransaction []byte `json:"funding_transaction,omitempty"`
}

// Majority returns floor(2n/3)+1 for this config's anchoring key set.
func (c *AnchoringConfig) Majority() int {
	return bitcoin.MajorityCount(len(c.AnchoringKeys))
}

// RedeemScript rebuilds this config's m-of-n P2WSH witness script from
// its anchoring keys, in config order.
func (c *AnchoringConfig) RedeemScript() ([]byte, error) {
	pubkeys := make([][]byte, len(c.AnchoringKeys))
	for i, k := range c.AnchoringKeys {
		pubkeys[i] = k.BitcoinPubKey
	}
	return bitcoin.BuildRedeemScript(pubkeys, c.Majority())
}

// Address derives this config's P2WSH address.
func (c *AnchoringConfig) Address() (string, error) {
	redeem, err := c.RedeemScript()
	if err != nil {
		return "", err
	}
	return bitcoin.P2WSHAddress(redeem, c.Network)
}

// StoredSignature is a pool entry of the signatures table: one
// validator's signature over one input of a candidate anchoring tx.
type StoredSignature struct {
	TxID           chainhash.Hash `json:"txid"`
	InputIndex     int            `json:"input_index"`
	ValidatorIndex int            `json:"validator_index"`
	Signature      []byte         `json:"signature"`
}

// LectEntry is one entry of a validator's append-only LECT log: the raw
// Bitcoin transaction the validator currently considers its latest
// expected correct anchor.
type LectEntry struct {
	Tx []byte `json:"tx"` // BIP-141 serialized wire.MsgTx
}
