package anchor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/certen/btc-anchoring/pkg/anchorsig"
	"github.com/certen/btc-anchoring/pkg/anchortx"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/hostchain"
	"github.com/certen/btc-anchoring/pkg/ledger"
	"github.com/certen/btc-anchoring/pkg/relay"
)

// Config holds the per-block procedure's tunable parameters that are
// not already carried by ledger.AnchoringConfig.
type Config struct {
	// ResendAfterBlocks is K in spec §4.5: a broadcast anchoring tx is
	// resent once this many blocks have passed since it was last (re)sent
	// and get_tx no longer finds it.
	ResendAfterBlocks uint64

	// TransitionLostAfterBlocks answers spec §9's open question: how
	// long, past a following config's ActualFrom height, the machine
	// waits for the transition tx to confirm before declaring it lost
	// and entering Recovery. A value of 0 means "one anchoring_interval
	// of the following config", the default this package ships with;
	// see DESIGN.md for the reasoning.
	TransitionLostAfterBlocks uint64
}

// DefaultConfig returns the Config this package recommends absent an
// operator override.
func DefaultConfig() Config {
	return Config{ResendAfterBlocks: 3, TransitionLostAfterBlocks: 0}
}

// MetricsSink receives observations from the state machine. It is
// satisfied structurally (no import of pkg/metrics from here) so the
// metrics package can depend on anchor without a cycle.
type MetricsSink interface {
	ObserveState(validatorIdx int, state State)
	IncProposalsBuilt()
	IncSignaturesEmitted()
	IncSignaturesIngested(accepted bool)
	IncAnchorsFinalized()
	ObserveRelayCall(method string, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveState(int, State)        {}
func (noopMetrics) IncProposalsBuilt()              {}
func (noopMetrics) IncSignaturesEmitted()           {}
func (noopMetrics) IncSignaturesIngested(bool)      {}
func (noopMetrics) IncAnchorsFinalized()            {}
func (noopMetrics) ObserveRelayCall(string, error)  {}

// Machine drives the per-block anchoring procedure of spec §4.5. It is
// a thin orchestrator: all durable state lives in Schema, all Bitcoin
// I/O goes through Relay, and HandleCommit's only side effects outside
// those two are the messages it returns for the caller to broadcast via
// Broadcaster, matching the "pure function over schema + relay
// results" framing of the Design Notes.
type Machine struct {
	Schema      *ledger.Schema
	Relay       relay.Relay
	Roster      hostchain.ValidatorRoster
	Oracle      hostchain.BlockOracle
	Broadcaster hostchain.ServiceTxBroadcaster
	Keys        *anchorsig.KeyStore
	Service     *hostchain.ServiceSigner
	Config      Config
	Logger      *log.Logger
	Metrics     MetricsSink
}

// NewMachine wires a Machine with sensible defaults for Config/Logger/
// Metrics when left zero.
func NewMachine(schema *ledger.Schema, rl relay.Relay, roster hostchain.ValidatorRoster, oracle hostchain.BlockOracle, broadcaster hostchain.ServiceTxBroadcaster, keys *anchorsig.KeyStore, service *hostchain.ServiceSigner) *Machine {
	return &Machine{
		Schema:      schema,
		Relay:       rl,
		Roster:      roster,
		Oracle:      oracle,
		Broadcaster: broadcaster,
		Keys:        keys,
		Service:     service,
		Config:      DefaultConfig(),
		Logger:      log.New(log.Writer(), "[AnchoringMachine] ", log.LstdFlags),
		Metrics:     noopMetrics{},
	}
}

// HandleCommit is the handle_commit hook entry point: it runs the full
// per-block procedure of spec §4.5 for a single validator and returns
// the service messages to broadcast. It performs no broadcasting
// itself when Broadcaster is nil, so callers (tests, or a dry-run CLI)
// can inspect the intended messages without side effects.
func (m *Machine) HandleCommit(ctx context.Context, height uint64) ([]hostchain.ServiceMessage, error) {
	ownIdx, ok := m.Roster.OwnIndex()
	if !ok {
		return nil, ErrNotAnchoringValidator
	}
	keys := m.Roster.AnchoringKeys(height)
	n := len(keys)
	majority := bitcoin.MajorityCount(n)

	actual, err := m.Schema.ActiveConfig(height)
	if err != nil {
		return nil, fmt.Errorf("anchor: handle commit: %w", err)
	}

	ownLectConfirmations := m.ownLectConfirmations(ctx, ownIdx)

	derived, err := DeriveState(m.Schema, ownIdx, height, ownLectConfirmations, m.Config.TransitionLostAfterBlocks)
	if err != nil {
		if errors.Is(err, ErrBroken) {
			m.Logger.Printf("FATAL: %v", err)
			panic(err)
		}
		return nil, err
	}
	m.Metrics.ObserveState(ownIdx, derived.State)

	var out []hostchain.ServiceMessage

	lectMsgs, err := m.updateOwnLect(ctx, ownIdx, actual, derived.Following, n)
	if err != nil {
		m.Logger.Printf("update own lect: %v", err)
	} else {
		out = append(out, lectMsgs...)
	}

	quorum, err := ComputeQuorumLect(m.Schema, n, majority)
	if err != nil {
		return out, fmt.Errorf("anchor: handle commit: %w", err)
	}

	var stepMsgs []hostchain.ServiceMessage
	switch derived.State {
	case StateAnchoring:
		stepMsgs, err = m.stepAnchoring(ctx, ownIdx, actual, quorum, height, keys, majority)
	case StateWaiting:
		// Nothing to do beyond the LECT resend already folded into
		// updateOwnLect above; exits once confirmations clear the bar.
	case StateTransitioning:
		stepMsgs, err = m.stepTransitioning(ctx, ownIdx, derived.Actual, derived.Following, quorum, height, keys)
	case StateRecovering:
		stepMsgs, err = m.stepRecovering(ctx, ownIdx, derived.Actual, quorum, height, keys, majority)
	default:
		err = fmt.Errorf("%w: unexpected state %s", ErrBroken, derived.State)
	}
	if err != nil {
		if errors.Is(err, ErrBroken) {
			panic(err)
		}
		m.Logger.Printf("state %s step failed: %v", derived.State, err)
	}
	out = append(out, stepMsgs...)

	for _, msg := range out {
		if m.Broadcaster != nil {
			if err := m.Broadcaster.Broadcast(ctx, msg); err != nil {
				m.Logger.Printf("broadcast %s failed: %v", msg.MessageType(), err)
			}
		}
	}
	return out, nil
}

// ownLectConfirmations returns 0 (treated as "unknown/mempool") on any
// relay error, per spec §7: relay errors are retried next block rather
// than failing the whole commit.
func (m *Machine) ownLectConfirmations(ctx context.Context, ownIdx int) uint64 {
	raw, err := m.Schema.LatestLect(ownIdx)
	if err != nil {
		return 0
	}
	tx, err := bitcoin.DeserializeTx(raw)
	if err != nil {
		return 0
	}
	confs, err := m.Relay.GetConfirmations(ctx, bitcoin.TxID(tx))
	m.Metrics.ObserveRelayCall("getconfirmations", err)
	if err != nil || confs == nil {
		return 0
	}
	return *confs
}

// updateOwnLect implements spec §4.5 step 1: walk the current
// address's UTXO set, classify each transaction, and find the unique
// anchoring tx whose prev-chain walk resolves to known history. It
// emits MsgAnchoringUpdateLatest when the candidate differs from the
// validator's current LECT, or re-emits the previous LECT if it has
// disappeared from the mempool/chain view entirely (recovery of a
// dropped broadcast, not a chain recovery anchor).
//
// following, when non-nil (the machine is in the Transitioning state),
// additionally scans following's address: once the transition tx is
// broadcast it pays the following address, not actual's, so a scan
// scoped to actual alone would never observe it and LECTs would never
// converge on it before actual_from.
func (m *Machine) updateOwnLect(ctx context.Context, ownIdx int, actual, following *ledger.AnchoringConfig, numValidators int) ([]hostchain.ServiceMessage, error) {
	candidates, err := m.scanAddressForCandidates(ctx, actual, numValidators)
	if err != nil {
		return nil, err
	}
	if following != nil {
		more, err := m.scanAddressForCandidates(ctx, following, numValidators)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, more...)
	}

	best := pickTieBreakWinner(candidates)

	ownRaw, ownErr := m.Schema.LatestLect(ownIdx)

	if best != nil {
		if ownErr == nil && bytes.Equal(ownRaw, serializeOrNil(best)) {
			return nil, nil // unchanged
		}
		return m.emitLectUpdate(ownIdx, best)
	}

	// No candidate found this block. If the validator's previous LECT
	// has disappeared from the relay's view entirely, re-announce it
	// (spec §4.5 step 1's recovery clause); this is not an error, it's
	// the normal reaction to a mempool eviction.
	if ownErr == nil {
		ownTx, err := bitcoin.DeserializeTx(ownRaw)
		if err == nil {
			if raw, _ := m.Relay.GetTx(ctx, bitcoin.TxID(ownTx)); raw == nil {
				return m.emitLectUpdate(ownIdx, ownTx)
			}
		}
	}
	return nil, nil
}

// scanAddressForCandidates lists cfg's address's UTXOs, classifies each,
// and returns every anchoring tx among them whose prev-chain walk
// resolves to already-known history.
func (m *Machine) scanAddressForCandidates(ctx context.Context, cfg *ledger.AnchoringConfig, numValidators int) ([]*wire.MsgTx, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	addrScript, err := configScript(cfg)
	if err != nil {
		return nil, err
	}

	utxos, err := m.Relay.ListUnspent(ctx, addr)
	m.Metrics.ObserveRelayCall("listunspent", err)
	if err != nil {
		return nil, fmt.Errorf("anchor: list unspent: %w", err)
	}

	var candidates []*wire.MsgTx
	for _, u := range utxos {
		raw, err := m.Relay.GetTx(ctx, u.TxID)
		m.Metrics.ObserveRelayCall("getrawtransaction", err)
		if err != nil || raw == nil {
			continue
		}
		tx, err := bitcoin.DeserializeTx(raw)
		if err != nil {
			continue
		}
		kind, _, err := bitcoin.ClassifyTx(tx, addrScript)
		if err != nil || kind != bitcoin.TxKindAnchoring {
			continue
		}
		_ = m.Schema.PutKnownTx(raw)
		ok, err := resolvesToKnownHistory(m.Schema, numValidators, tx)
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, tx)
		}
	}
	return candidates, nil
}

func serializeOrNil(tx *wire.MsgTx) []byte {
	raw, err := bitcoin.SerializeTx(tx)
	if err != nil {
		return nil
	}
	return raw
}

func (m *Machine) emitLectUpdate(ownIdx int, tx *wire.MsgTx) ([]hostchain.ServiceMessage, error) {
	raw, err := bitcoin.SerializeTx(tx)
	if err != nil {
		return nil, err
	}
	count, err := m.Schema.LectCount(ownIdx)
	if err != nil {
		return nil, err
	}
	msg := hostchain.MsgAnchoringUpdateLatest{
		FromServicePubKey: servicePubKeyArray(m.Service),
		ValidatorIdx:      uint32(ownIdx),
		Tx:                raw,
		LectCount:         count + 1,
	}
	return []hostchain.ServiceMessage{msg}, nil
}

func servicePubKeyArray(s *hostchain.ServiceSigner) [32]byte {
	var out [32]byte
	if s == nil {
		return out
	}
	copy(out[:], s.PublicKey())
	return out
}

// pickTieBreakWinner applies spec §4.5's tie-break rule: among
// candidates at the greatest payload height, prefer the smallest txid.
func pickTieBreakWinner(candidates []*wire.MsgTx) *wire.MsgTx {
	var best *wire.MsgTx
	var bestHeight uint64
	var bestTxID chainhash.Hash
	for _, tx := range candidates {
		height, ok := payloadHeight(tx)
		if !ok {
			continue
		}
		txid := bitcoin.TxID(tx)
		switch {
		case best == nil:
			best, bestHeight, bestTxID = tx, height, txid
		case height > bestHeight:
			best, bestHeight, bestTxID = tx, height, txid
		case height == bestHeight && bytes.Compare(txid[:], bestTxID[:]) < 0:
			best, bestHeight, bestTxID = tx, height, txid
		}
	}
	return best
}
