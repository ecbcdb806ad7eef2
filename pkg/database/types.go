// Database Types for the anchoring read-model
//
// These types map directly to the PostgreSQL schema defined in
// migrations/001_read_model.sql. The read-model is a denormalized
// projection of pkg/ledger.Schema's transactions_chain, config_history,
// and signatures tables, kept only so the HTTP API can answer indexed
// queries (by height, by chain index) without walking the KV store.

package database

import (
	"encoding/json"
	"time"
)

// AnchoringTransaction is one entry of the validated anchor chain, as
// stored in the read-model.
// Maps to: anchoring_transactions table
type AnchoringTransaction struct {
	ChainIndex       int64     `db:"chain_index" json:"chain_index"`
	TxID             string    `db:"txid" json:"txid"`
	PrevTxID         string    `db:"prev_txid" json:"prev_txid,omitempty"`
	RawTx            []byte    `db:"raw_tx" json:"raw_tx"`
	PayloadHeight    uint64    `db:"payload_height" json:"payload_height"`
	PayloadBlockHash string    `db:"payload_block_hash" json:"payload_block_hash"`
	Confirmations    int       `db:"confirmations" json:"confirmations"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
}

// ConfigHistoryEntry is a versioned anchoring configuration, as defined
// by pkg/ledger.AnchoringConfig, denormalized for the `GET config` and
// config-lookup-by-height API operations.
// Maps to: config_history table
type ConfigHistoryEntry struct {
	ActualFrom        uint64          `db:"actual_from" json:"actual_from"`
	Network           string          `db:"network" json:"network"`
	AnchoringInterval uint64          `db:"anchoring_interval" json:"anchoring_interval"`
	FeePerByte        uint64          `db:"fee_per_byte" json:"fee_per_byte"`
	UTXOConfirmations uint64          `db:"utxo_confirmations" json:"utxo_confirmations"`
	AnchoringKeys     json.RawMessage `db:"anchoring_keys" json:"anchoring_keys"` // JSON array of ledger.AnchoringKey
	FundingTx         []byte          `db:"funding_tx" json:"funding_tx,omitempty"`
	RecordedAt        time.Time       `db:"recorded_at" json:"recorded_at"`
}

// ValidatorSignature is one pooled signature over one input of a
// candidate anchoring transaction, denormalized from pkg/ledger's
// signatures table for audit/debugging queries.
// Maps to: validator_signatures table
type ValidatorSignature struct {
	ID             int64     `db:"id" json:"id"`
	TxID           string    `db:"txid" json:"txid"`
	InputIndex     int       `db:"input_index" json:"input_index"`
	ValidatorIndex int       `db:"validator_index" json:"validator_index"`
	Signature      []byte    `db:"signature" json:"signature"`
	RecordedAt     time.Time `db:"recorded_at" json:"recorded_at"`
}

// NewAnchoringTransaction is used to insert a newly-validated chain entry.
type NewAnchoringTransaction struct {
	ChainIndex       int64
	TxID             string
	PrevTxID         string
	RawTx            []byte
	PayloadHeight    uint64
	PayloadBlockHash string
}

// NewConfigHistoryEntry is used to insert a newly-activated config.
type NewConfigHistoryEntry struct {
	ActualFrom        uint64
	Network           string
	AnchoringInterval uint64
	FeePerByte        uint64
	UTXOConfirmations uint64
	AnchoringKeys     json.RawMessage
	FundingTx         []byte
}

// NewValidatorSignature is used to record a pooled signature.
type NewValidatorSignature struct {
	TxID           string
	InputIndex     int
	ValidatorIndex int
	Signature      []byte
}
