// Package kvdb adapts a CometBFT dbm.DB backend (GoLevelDB in production,
// MemDB in tests) to the narrow ledger.KV interface the anchoring schema
// is written against, so the schema itself stays free of any dependency
// on a particular storage engine.
package kvdb

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/btc-anchoring/pkg/ledger"
)

// KVAdapter wraps a dbm.DB and exposes it as ledger.KV. Writes go through
// SetSync/DeleteSync so a commit-time write is durable before the host
// chain's commit hook returns, matching the single-writer-per-height
// access pattern ledger.Schema assumes.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter wraps db for use as a ledger.Schema backing store.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

var _ ledger.KV = (*KVAdapter)(nil)

// Get implements ledger.KV.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kvdb: get: %w", err)
	}
	return v, nil
}

// Has implements ledger.KV.
func (a *KVAdapter) Has(key []byte) (bool, error) {
	ok, err := a.db.Has(key)
	if err != nil {
		return false, fmt.Errorf("kvdb: has: %w", err)
	}
	return ok, nil
}

// Set implements ledger.KV, writing synchronously so the value survives
// a crash immediately after the call returns.
func (a *KVAdapter) Set(key, value []byte) error {
	if err := a.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kvdb: set: %w", err)
	}
	return nil
}

// Delete implements ledger.KV.
func (a *KVAdapter) Delete(key []byte) error {
	if err := a.db.DeleteSync(key); err != nil {
		return fmt.Errorf("kvdb: delete: %w", err)
	}
	return nil
}

// Iterator implements ledger.KV. A nil end bound (as returned by a prefix
// that is all 0xff bytes) is passed through unchanged; dbm treats a nil
// end as "no upper bound".
func (a *KVAdapter) Iterator(start, end []byte) (ledger.Iterator, error) {
	it, err := a.db.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("kvdb: iterator: %w", err)
	}
	return it, nil
}

// Close releases the underlying database handle. Callers should invoke
// this once during process shutdown, after the host chain has stopped
// delivering commits.
func (a *KVAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("kvdb: close: %w", err)
	}
	return nil
}
