// Package observer implements the read-only anchor-chain auditor of
// spec §4.6: a background walker that validates the on-chain anchor
// chain back to its funding origin and records the validated chain into
// the schema's transactions_chain table. It never emits service
// transactions; lagging behind the state machine is acceptable.
//
// Runs a context-cancelable Start/Stop with a ticker-driven poll loop
// and a mutex-guarded running flag, walking backward over known Bitcoin
// transactions on each tick.
package observer

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/hostchain"
	"github.com/certen/btc-anchoring/pkg/ledger"
	"github.com/certen/btc-anchoring/pkg/relay"
)

// Config tunes the Observer's poll cadence and walk bound.
type Config struct {
	// PollInterval is how often Run scans for new chain tips.
	PollInterval time.Duration
	// MaxWalkDepth bounds how many ancestors a single pass walks back
	// from one candidate tip; at the bound the walk stops and the chain
	// walked so far is recorded.
	MaxWalkDepth int
}

// DefaultConfig returns the Observer's recommended Config.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Minute, MaxWalkDepth: 10000}
}

// AddressSource supplies the address the Observer should audit on each
// poll tick. It is typically the schema's current-config address, but is
// left as a seam so the Observer never has to reason about config
// history itself (spec §4.6's "read-only auditor" has no business
// deciding which config is active; that's the state machine's job).
type AddressSource func() (string, error)

// Observer walks the anchor chain backward from each UTXO at the
// current address, verifying prev-hash linkage, strictly increasing
// payload heights, and block-hash agreement with the host chain.
type Observer struct {
	Schema  *ledger.Schema
	Relay   relay.Relay
	Oracle  hostchain.BlockOracle
	Address AddressSource
	Config  Config
	Logger  *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runningMu sync.Mutex
	running   bool
}

// New wires an Observer with DefaultConfig applied.
func New(schema *ledger.Schema, rl relay.Relay, oracle hostchain.BlockOracle, address AddressSource) *Observer {
	return &Observer{
		Schema:  schema,
		Relay:   rl,
		Oracle:  oracle,
		Address: address,
		Config:  DefaultConfig(),
		Logger:  log.New(log.Writer(), "[Observer] ", log.LstdFlags),
	}
}

// Start begins the background poll loop. Calling Start twice without an
// intervening Stop returns an error.
func (o *Observer) Start(ctx context.Context) error {
	o.runningMu.Lock()
	if o.running {
		o.runningMu.Unlock()
		return fmt.Errorf("observer: already running")
	}
	o.running = true
	o.runningMu.Unlock()

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.pollLoop()
	o.Logger.Printf("observer started, poll interval %s", o.Config.PollInterval)
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (o *Observer) Stop() {
	o.runningMu.Lock()
	if !o.running {
		o.runningMu.Unlock()
		return
	}
	o.running = false
	o.runningMu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.Logger.Printf("observer stopped")
}

func (o *Observer) pollLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			addr, err := o.Address()
			if err != nil {
				o.Logger.Printf("resolve current address: %v", err)
				continue
			}
			if err := o.RunOnce(o.ctx, addr); err != nil {
				o.Logger.Printf("walk failed: %v", err)
			}
		}
	}
}

// RunOnce walks every UTXO at address once, validating and appending any
// newly-confirmed tip of the anchor chain it can fully reconcile back to
// a funding origin or an already-recorded chain entry.
func (o *Observer) RunOnce(ctx context.Context, address string) error {
	if address == "" {
		return nil // nothing configured to audit yet
	}
	utxos, err := o.Relay.ListUnspent(ctx, address)
	if err != nil {
		return fmt.Errorf("observer: list unspent: %w", err)
	}

	for _, u := range utxos {
		raw, err := o.Relay.GetTx(ctx, u.TxID)
		if err != nil || raw == nil {
			continue
		}
		tx, err := bitcoin.DeserializeTx(raw)
		if err != nil {
			o.Logger.Printf("skip undecodable utxo tx %s: %v", u.TxID, err)
			continue
		}
		if len(tx.TxOut) < 2 {
			continue // not an anchoring-shaped tx; nothing to audit
		}
		if err := o.validateAndRecord(tx); err != nil {
			o.Logger.Printf("chain validation failed for %s: %v", u.TxID, err)
		}
	}
	return nil
}

// validateAndRecord walks tip's ancestry backward through known_txs,
// following each step's prev_hash and checking that (a) payload heights
// strictly increase walking forward (decrease walking backward) and (b)
// each payload's block hash matches the host chain wherever the oracle
// knows that height, per spec §4.6 and the testable property in spec §8
// ("prev-chain walk terminates ... within <= chain-length steps"). The
// walk ends without error at the first prev_hash not found in known_txs;
// that ancestor is not itself checked to be a funding tx. On success the
// full chain, tip-to-origin, is (re)recorded into transactions_chain.
func (o *Observer) validateAndRecord(tip *wire.MsgTx) error {
	chain := []*wire.MsgTx{tip}
	current := tip
	lastHeight, ok := payloadHeight(current)
	if !ok {
		return fmt.Errorf("tip carries no payload")
	}
	if hash, ok := payloadHash(tip); ok {
		if hostHash, known := o.Oracle.BlockHash(lastHeight); known && hostHash != hash {
			return fmt.Errorf("payload hash mismatch at height %d for tip", lastHeight)
		}
	}

	for depth := 0; depth < o.Config.MaxWalkDepth; depth++ {
		if len(current.TxIn) == 0 {
			break
		}
		prevTxID := current.TxIn[0].PreviousOutPoint.Hash
		rawPrev, err := o.Schema.KnownTx(prevTxID)
		if err != nil {
			// Unresolved ancestor: this may be the original funding tx
			// (out of known_txs by design) or simply not yet observed.
			// Either way the walk stops here without error; the chain
			// recorded so far is still valid from this point forward.
			break
		}
		prevTx, err := bitcoin.DeserializeTx(rawPrev)
		if err != nil {
			return fmt.Errorf("decode ancestor %s: %w", prevTxID, err)
		}
		if h, ok := payloadHeight(prevTx); ok {
			if h >= lastHeight {
				return fmt.Errorf("payload height non-increasing at ancestor %s (%d >= %d)", prevTxID, h, lastHeight)
			}
			if hash, ok2 := payloadHash(prevTx); ok2 {
				if hostHash, known := o.Oracle.BlockHash(h); known && hostHash != hash {
					return fmt.Errorf("payload hash mismatch at height %d for ancestor %s", h, prevTxID)
				}
			}
			lastHeight = h
		}
		chain = append(chain, prevTx)
		current = prevTx
	}

	// Record tip-to-origin order, oldest first, skipping entries already
	// present at the head of transactions_chain to keep this idempotent
	// across repeated polls.
	reverse(chain)
	existingLen, err := o.Schema.ChainLen()
	if err != nil {
		return err
	}
	for i, tx := range chain {
		if uint64(i) < existingLen {
			existing, err := o.Schema.ChainAt(uint64(i))
			if err == nil && sameTx(existing, tx) {
				continue
			}
		}
		raw, err := bitcoin.SerializeTx(tx)
		if err != nil {
			return err
		}
		if err := o.Schema.AppendChain(raw); err != nil {
			return err
		}
	}
	return nil
}

func payloadHeight(tx *wire.MsgTx) (uint64, bool) {
	if len(tx.TxOut) < 2 {
		return 0, false
	}
	h, _, err := bitcoin.DecodeAnchorScript(tx.TxOut[1].PkScript)
	if err != nil {
		return 0, false
	}
	return h, true
}

func payloadHash(tx *wire.MsgTx) ([32]byte, bool) {
	if len(tx.TxOut) < 2 {
		return [32]byte{}, false
	}
	_, hash, err := bitcoin.DecodeAnchorScript(tx.TxOut[1].PkScript)
	if err != nil {
		return [32]byte{}, false
	}
	return [32]byte(hash), true
}

func sameTx(rawA []byte, b *wire.MsgTx) bool {
	rawB, err := bitcoin.SerializeTx(b)
	if err != nil {
		return false
	}
	return bytes.Equal(rawA, rawB)
}

func reverse(txs []*wire.MsgTx) {
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
}
