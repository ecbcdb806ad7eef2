package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
)

// KV is the narrow key-value interface Schema is built on. It is the
// same shape as the host's Merkle-backed store; a concrete backend (e.g.
// cometbft-db via pkg/kvdb) or a test double both satisfy it without the
// rest of the package knowing which.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterator(start, end []byte) (Iterator, error)
}

// Iterator walks a key range in ascending order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// Schema provides high-level, typed access to the seven anchoring
// key-value tables of spec §4.3, over a KV store; keys carry only a
// per-table prefix.
//
// CONCURRENCY: Schema assumes single-writer access and is designed to be
// called from the host chain's commit thread only. Callers needing
// concurrent access must add their own synchronization.
type Schema struct {
	kv KV
}

// NewSchema wraps kv in a Schema.
func NewSchema(kv KV) *Schema {
	return &Schema{kv: kv}
}

// ====== KV key layout ======

var (
	keyLectCountPrefix = []byte("lects:count:")  // + validator_idx(be64) -> count(be64)
	keyLectEntryPrefix = []byte("lects:entry:")  // + validator_idx(be64) + seq(be64) -> LectEntry JSON
	keyLectIndexPrefix = []byte("lectidx:")      // + validator_idx(be64) + txid(32) -> seq(be64)

	keySignaturePrefix = []byte("sig:") // + txid(32) + input_idx(be32) + validator_idx(be32) -> StoredSignature JSON

	keyChainCount  = []byte("chain:count")  // -> count(be64)
	keyChainPrefix = []byte("chain:entry:") // + seq(be64) -> raw tx bytes

	keyKnownTxPrefix = []byte("knowntx:") // + txid(32) -> raw tx bytes

	keySpentFundingPrefix = []byte("spentfund:") // + txid(32) -> []byte{1}

	keyConfigHistoryPrefix = []byte("confighist:") // + actual_from(be64) -> AnchoringConfig JSON

	keyBroadcastPrefix = []byte("broadcast:") // + txid(32) -> host height(be64) last (re)sent at
)

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func concatKey(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ====== lects / lect_indexes ======

// LectCount returns the number of entries in validatorIdx's LECT log.
func (s *Schema) LectCount(validatorIdx int) (uint64, error) {
	raw, err := s.kv.Get(concatKey(keyLectCountPrefix, be64(uint64(validatorIdx))))
	if err != nil {
		return 0, fmt.Errorf("ledger: read lect count: %w", err)
	}
	if raw == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

// LectAt returns the tx at position idx in validatorIdx's LECT log.
func (s *Schema) LectAt(validatorIdx int, idx uint64) ([]byte, error) {
	raw, err := s.kv.Get(concatKey(keyLectEntryPrefix, be64(uint64(validatorIdx)), be64(idx)))
	if err != nil {
		return nil, fmt.Errorf("ledger: read lect entry: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var entry LectEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("ledger: decode lect entry: %w", err)
	}
	return entry.Tx, nil
}

// LatestLect returns the most recent tx in validatorIdx's LECT log, or
// ErrNotFound if the log is empty.
func (s *Schema) LatestLect(validatorIdx int) ([]byte, error) {
	count, err := s.LectCount(validatorIdx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return s.LectAt(validatorIdx, count-1)
}

// LectIndex returns the position of txid in validatorIdx's LECT log.
func (s *Schema) LectIndex(validatorIdx int, txid chainhash.Hash) (uint64, bool, error) {
	raw, err := s.kv.Get(concatKey(keyLectIndexPrefix, be64(uint64(validatorIdx)), txid[:]))
	if err != nil {
		return 0, false, fmt.Errorf("ledger: read lect index: %w", err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// AppendLect appends rawTx to validatorIdx's LECT log. It enforces the
// monotonic-LECT invariant (spec §3 invariant 1): the new entry's input 0
// must spend an output reachable from the log's current tip, or the new
// entry must be a recovery anchor whose payload.prev_tx_chain points at
// some earlier entry in the log. isRecoveryOf should be nil for a normal
// extension and set to the earlier txid being recovered from otherwise;
// callers (the state machine) are responsible for having already
// validated which case applies by inspecting the tx.
func (s *Schema) AppendLect(validatorIdx int, rawTx []byte, extendsTip bool, isRecoveryOf *chainhash.Hash) error {
	count, err := s.LectCount(validatorIdx)
	if err != nil {
		return err
	}
	if count > 0 && !extendsTip && isRecoveryOf == nil {
		return ErrLectNotMonotonic
	}
	if isRecoveryOf != nil {
		if _, ok, err := s.LectIndex(validatorIdx, *isRecoveryOf); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: recovery pointer references unknown lect entry", ErrLectNotMonotonic)
		}
	}

	tx, err := bitcoin.DeserializeTx(rawTx)
	if err != nil {
		return fmt.Errorf("ledger: append lect: %w", err)
	}
	txid := bitcoin.TxID(tx)

	entryBytes, err := json.Marshal(LectEntry{Tx: rawTx})
	if err != nil {
		return fmt.Errorf("ledger: marshal lect entry: %w", err)
	}
	if err := s.kv.Set(concatKey(keyLectEntryPrefix, be64(uint64(validatorIdx)), be64(count)), entryBytes); err != nil {
		return fmt.Errorf("ledger: write lect entry: %w", err)
	}
	if err := s.kv.Set(concatKey(keyLectIndexPrefix, be64(uint64(validatorIdx)), txid[:]), be64(count)); err != nil {
		return fmt.Errorf("ledger: write lect index: %w", err)
	}
	if err := s.kv.Set(concatKey(keyLectCountPrefix, be64(uint64(validatorIdx))), be64(count+1)); err != nil {
		return fmt.Errorf("ledger: write lect count: %w", err)
	}
	return nil
}

// ====== signatures ======

// AddSignature stores a signature pool entry. Per spec §4.5's tie-break
// rule, the pool keeps the first signature received from a given
// validator for a given (txid, input) and silently drops any later one
// for the same key, rather than overwriting it.
func (s *Schema) AddSignature(sig StoredSignature) error {
	key := concatKey(keySignaturePrefix, sig.TxID[:], be32(uint32(sig.InputIndex)), be32(uint32(sig.ValidatorIndex)))
	exists, err := s.kv.Has(key)
	if err != nil {
		return fmt.Errorf("ledger: check signature: %w", err)
	}
	if exists {
		return nil
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("ledger: marshal signature: %w", err)
	}
	if err := s.kv.Set(key, raw); err != nil {
		return fmt.Errorf("ledger: write signature: %w", err)
	}
	return nil
}

// Signatures returns every stored signature for txid, across all inputs
// and validators.
func (s *Schema) Signatures(txid chainhash.Hash) ([]StoredSignature, error) {
	prefix := concatKey(keySignaturePrefix, txid[:])
	it, err := s.kv.Iterator(prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate signatures: %w", err)
	}
	defer it.Close()

	var out []StoredSignature
	for ; it.Valid(); it.Next() {
		var sig StoredSignature
		if err := json.Unmarshal(it.Value(), &sig); err != nil {
			return nil, fmt.Errorf("ledger: decode signature: %w", err)
		}
		out = append(out, sig)
	}
	return out, nil
}

// DiscardSignatures removes every pooled signature for txid, once the tx
// has been finalized and broadcast.
func (s *Schema) DiscardSignatures(txid chainhash.Hash) error {
	prefix := concatKey(keySignaturePrefix, txid[:])
	it, err := s.kv.Iterator(prefix, prefixUpperBound(prefix))
	if err != nil {
		return fmt.Errorf("ledger: iterate signatures: %w", err)
	}
	defer it.Close()

	var keys [][]byte
	for ; it.Valid(); it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			return fmt.Errorf("ledger: delete signature: %w", err)
		}
	}
	return nil
}

// ====== transactions_chain ======

// ChainLen returns the length of the globally agreed anchor chain.
func (s *Schema) ChainLen() (uint64, error) {
	raw, err := s.kv.Get(keyChainCount)
	if err != nil {
		return 0, fmt.Errorf("ledger: read chain count: %w", err)
	}
	if raw == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

// ChainAt returns the raw tx at position idx of the agreed anchor chain.
func (s *Schema) ChainAt(idx uint64) ([]byte, error) {
	raw, err := s.kv.Get(concatKey(keyChainPrefix, be64(idx)))
	if err != nil {
		return nil, fmt.Errorf("ledger: read chain entry: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw, nil
}

// AppendChain appends rawTx to transactions_chain. Entries are only ever
// appended, matching the schema's append-only guarantee.
func (s *Schema) AppendChain(rawTx []byte) error {
	count, err := s.ChainLen()
	if err != nil {
		return err
	}
	if err := s.kv.Set(concatKey(keyChainPrefix, be64(count)), rawTx); err != nil {
		return fmt.Errorf("ledger: write chain entry: %w", err)
	}
	if err := s.kv.Set(keyChainCount, be64(count+1)); err != nil {
		return fmt.Errorf("ledger: write chain count: %w", err)
	}
	return nil
}

// ====== known_txs ======

// PutKnownTx records rawTx under its txid.
func (s *Schema) PutKnownTx(rawTx []byte) error {
	tx, err := bitcoin.DeserializeTx(rawTx)
	if err != nil {
		return fmt.Errorf("ledger: put known tx: %w", err)
	}
	txid := bitcoin.TxID(tx)
	if err := s.kv.Set(concatKey(keyKnownTxPrefix, txid[:]), rawTx); err != nil {
		return fmt.Errorf("ledger: write known tx: %w", err)
	}
	return nil
}

// KnownTx looks up a previously stored tx by txid.
func (s *Schema) KnownTx(txid chainhash.Hash) ([]byte, error) {
	raw, err := s.kv.Get(concatKey(keyKnownTxPrefix, txid[:]))
	if err != nil {
		return nil, fmt.Errorf("ledger: read known tx: %w", err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw, nil
}

// ====== spent_funding_transactions ======

// MarkFundingSpent records that txid's funding output has been consumed,
// rejecting future attempts to spend it again.
func (s *Schema) MarkFundingSpent(txid chainhash.Hash) error {
	if err := s.kv.Set(concatKey(keySpentFundingPrefix, txid[:]), []byte{1}); err != nil {
		return fmt.Errorf("ledger: mark funding spent: %w", err)
	}
	return nil
}

// IsFundingSpent reports whether txid has already been consumed as a
// funding input.
func (s *Schema) IsFundingSpent(txid chainhash.Hash) (bool, error) {
	ok, err := s.kv.Has(concatKey(keySpentFundingPrefix, txid[:]))
	if err != nil {
		return false, fmt.Errorf("ledger: read spent funding: %w", err)
	}
	return ok, nil
}

// ====== config_history ======

// PutConfig appends cfg to config_history, keyed by its ActualFrom
// height. Configs are never mutated once committed.
func (s *Schema) PutConfig(cfg AnchoringConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("ledger: marshal config: %w", err)
	}
	if err := s.kv.Set(concatKey(keyConfigHistoryPrefix, be64(cfg.ActualFrom)), raw); err != nil {
		return fmt.Errorf("ledger: write config: %w", err)
	}
	return nil
}

// ActiveConfig returns the AnchoringConfig with the greatest ActualFrom
// height that is ≤ height.
func (s *Schema) ActiveConfig(height uint64) (*AnchoringConfig, error) {
	it, err := s.kv.Iterator(keyConfigHistoryPrefix, prefixUpperBound(keyConfigHistoryPrefix))
	if err != nil {
		return nil, fmt.Errorf("ledger: iterate config history: %w", err)
	}
	defer it.Close()

	var best *AnchoringConfig
	for ; it.Valid(); it.Next() {
		var cfg AnchoringConfig
		if err := json.Unmarshal(it.Value(), &cfg); err != nil {
			return nil, fmt.Errorf("ledger: decode config: %w", err)
		}
		if cfg.ActualFrom > height {
			continue
		}
		if best == nil || cfg.ActualFrom > best.ActualFrom {
			c := cfg
			best = &c
		}
	}
	if best == nil {
		return nil, ErrConfigNotFound
	}
	return best, nil
}

// FollowingConfig returns the AnchoringConfig with the smallest
// ActualFrom height strictly greater than height, if any is scheduled.
func (s *Schema) FollowingConfig(height uint64) (*AnchoringConfig, bool, error) {
	it, err := s.kv.Iterator(keyConfigHistoryPrefix, prefixUpperBound(keyConfigHistoryPrefix))
	if err != nil {
		return nil, false, fmt.Errorf("ledger: iterate config history: %w", err)
	}
	defer it.Close()

	var best *AnchoringConfig
	for ; it.Valid(); it.Next() {
		var cfg AnchoringConfig
		if err := json.Unmarshal(it.Value(), &cfg); err != nil {
			return nil, false, fmt.Errorf("ledger: decode config: %w", err)
		}
		if cfg.ActualFrom <= height {
			continue
		}
		if best == nil || cfg.ActualFrom < best.ActualFrom {
			c := cfg
			best = &c
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// ====== broadcast tracking ======
//
// This table is not one of spec §3's seven named tables: it is local
// bookkeeping the Anchoring-state step uses to decide when a proposal it
// already sent needs resending (spec §4.5's resend-after-K-blocks rule),
// and is safe for every validator to compute independently since it
// never feeds into a cross-validator invariant.

// SetBroadcastHeight records the host height at which txid was last
// (re)broadcast to the relay.
func (s *Schema) SetBroadcastHeight(txid chainhash.Hash, height uint64) error {
	if err := s.kv.Set(concatKey(keyBroadcastPrefix, txid[:]), be64(height)); err != nil {
		return fmt.Errorf("ledger: write broadcast height: %w", err)
	}
	return nil
}

// BroadcastHeight returns the last height txid was (re)broadcast at.
func (s *Schema) BroadcastHeight(txid chainhash.Hash) (uint64, bool, error) {
	raw, err := s.kv.Get(concatKey(keyBroadcastPrefix, txid[:]))
	if err != nil {
		return 0, false, fmt.Errorf("ledger: read broadcast height: %w", err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, for use as an Iterator end bound.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; no upper bound needed
}
