package anchor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/certen/btc-anchoring/pkg/anchorsig"
	"github.com/certen/btc-anchoring/pkg/anchortx"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/hostchain"
	"github.com/certen/btc-anchoring/pkg/ledger"
	"github.com/certen/btc-anchoring/pkg/relay"
)

// stepAnchoring implements spec §4.5 step 3's Anchoring branch: build the
// next periodic anchor once the quorum lect falls behind the current
// target height, sign it, and finalize once enough validators agree.
func (m *Machine) stepAnchoring(ctx context.Context, ownIdx int, actual *ledger.AnchoringConfig, quorum *QuorumLect, height uint64, keys []ledger.AnchoringKey, majority int) ([]hostchain.ServiceMessage, error) {
	interval := actual.AnchoringInterval
	if interval == 0 {
		interval = 1
	}
	target := (height / interval) * interval

	redeemScript, err := actual.RedeemScript()
	if err != nil {
		return nil, err
	}
	destScript, err := bitcoin.P2WSHScriptPubKey(redeemScript)
	if err != nil {
		return nil, err
	}

	if !quorum.Found {
		// No validator-agreed tip yet. If the chain has never produced
		// an anchor at all, this is the genesis case (spec §8 scenario
		// 1): bootstrap straight off the current address's funding
		// UTXOs rather than waiting on a quorum LECT that can only ever
		// arise once some anchor exists. Once any anchor has ever been
		// agreed on, the absence of a quorum just means peers haven't
		// converged yet, and nothing should be proposed to avoid
		// competing tips.
		chainLen, err := m.Schema.ChainLen()
		if err != nil {
			return nil, err
		}
		if chainLen != 0 {
			return nil, nil
		}
		return m.stepGenesis(ctx, ownIdx, actual, height, target, redeemScript, destScript, majority, keys)
	}
	quorumTx, err := bitcoin.DeserializeTx(quorum.Tx)
	if err != nil {
		return nil, fmt.Errorf("anchor: decode quorum lect: %w", err)
	}
	if h, ok := payloadHeight(quorumTx); ok && h >= target {
		if err := m.maybeResend(ctx, quorum.TxID, quorum.Tx, height); err != nil {
			m.Logger.Printf("resend quorum lect: %v", err)
		}
		return nil, nil
	}

	blockHash, ok := m.Oracle.BlockHash(target)
	if !ok {
		return nil, nil // target block not yet visible to the oracle
	}

	builder := anchortx.NewBuilder().
		WithPrevTx(quorumTx, true).
		WithPayload(target, blockHash).
		WithFeeRate(actual.FeePerByte).
		WithDestination(destScript).
		WithRedeemScript(redeemScript, majority)

	funding, err := m.eligibleFunding(ctx, actual, destScript)
	if err != nil {
		m.Logger.Printf("list eligible funding: %v", err)
	}
	if len(funding) > 0 {
		builder = builder.WithFunding(funding...)
	}

	result, err := builder.Build()
	if err != nil {
		var insuff *anchortx.InsufficientFundsError
		if errors.As(err, &insuff) {
			m.Logger.Printf("anchoring proposal needs more funds: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("anchor: build anchoring proposal: %w", err)
	}
	m.Metrics.IncProposalsBuilt()
	return m.signAndFinalize(ctx, ownIdx, result, redeemScript, majority, keys, height)
}

// stepGenesis builds the very first anchoring transaction of the chain,
// spending straight off the current address's funding UTXOs rather than
// an existing LECT, since none exists yet (spec §8 scenario 1). The
// target height is still the nearest interval boundary ≤ height, exactly
// as in the steady-state Anchoring branch.
func (m *Machine) stepGenesis(ctx context.Context, ownIdx int, actual *ledger.AnchoringConfig, height, target uint64, redeemScript, destScript []byte, majority int, keys []ledger.AnchoringKey) ([]hostchain.ServiceMessage, error) {
	blockHash, ok := m.Oracle.BlockHash(target)
	if !ok {
		return nil, nil // target block not yet visible to the oracle
	}

	funding, err := m.eligibleFunding(ctx, actual, destScript)
	if err != nil {
		m.Logger.Printf("list eligible funding: %v", err)
	}
	if len(funding) == 0 {
		return nil, nil // no funding observed yet at the address
	}

	result, err := anchortx.NewBuilder().
		WithFunding(funding...).
		WithPayload(target, blockHash).
		WithFeeRate(actual.FeePerByte).
		WithDestination(destScript).
		WithRedeemScript(redeemScript, majority).
		Build()
	if err != nil {
		var insuff *anchortx.InsufficientFundsError
		if errors.As(err, &insuff) {
			m.Logger.Printf("genesis anchoring proposal needs more funds: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("anchor: build genesis anchoring proposal: %w", err)
	}
	m.Metrics.IncProposalsBuilt()
	return m.signAndFinalize(ctx, ownIdx, result, redeemScript, majority, keys, height)
}

// stepTransitioning implements spec §4.5 step 3's Transitioning branch:
// once the quorum lect has matured under the new config's confirmation
// bar, move the funds to the new address by re-anchoring the same
// (height, hash) pair the quorum already agreed on.
func (m *Machine) stepTransitioning(ctx context.Context, ownIdx int, actual, following *ledger.AnchoringConfig, quorum *QuorumLect, height uint64, keys []ledger.AnchoringKey) ([]hostchain.ServiceMessage, error) {
	if !quorum.Found {
		return nil, nil
	}
	confs, err := m.Relay.GetConfirmations(ctx, quorum.TxID)
	m.Metrics.ObserveRelayCall("getconfirmations", err)
	if err != nil {
		return nil, nil // unknown this block; retry next
	}
	if confs == nil || *confs < following.UTXOConfirmations {
		return nil, nil
	}

	quorumTx, err := bitcoin.DeserializeTx(quorum.Tx)
	if err != nil {
		return nil, fmt.Errorf("anchor: decode quorum lect: %w", err)
	}
	payloadH, hash, err := decodePayload(quorumTx)
	if err != nil {
		return nil, fmt.Errorf("%w: quorum lect carries no payload: %v", ErrBroken, err)
	}

	actualMajority := actual.Majority()
	actualRedeem, err := actual.RedeemScript()
	if err != nil {
		return nil, err
	}
	followingRedeem, err := following.RedeemScript()
	if err != nil {
		return nil, err
	}
	destScript, err := bitcoin.P2WSHScriptPubKey(followingRedeem)
	if err != nil {
		return nil, err
	}

	result, err := anchortx.NewBuilder().
		WithPrevTx(quorumTx, true).
		AsTransition().
		WithPayload(payloadH, hash).
		WithFeeRate(actual.FeePerByte).
		WithDestination(destScript).
		WithRedeemScript(actualRedeem, actualMajority).
		Build()
	if err != nil {
		var insuff *anchortx.InsufficientFundsError
		if errors.As(err, &insuff) {
			m.Logger.Printf("transition proposal needs more funds: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("anchor: build transition proposal: %w", err)
	}
	m.Metrics.IncProposalsBuilt()
	return m.signAndFinalize(ctx, ownIdx, result, actualRedeem, actualMajority, keys, height)
}

// stepRecovering implements spec §4.5 step 3's Recovering branch: the
// transition tx was lost, so start a fresh chain from actual's
// FundingTransaction, pointing prev_tx_chain at the last validator-agreed
// anchor so Observer can still stitch the two chains together.
func (m *Machine) stepRecovering(ctx context.Context, ownIdx int, actual *ledger.AnchoringConfig, quorum *QuorumLect, height uint64, keys []ledger.AnchoringKey, majority int) ([]hostchain.ServiceMessage, error) {
	if len(actual.FundingTransaction) == 0 {
		return nil, nil // stalled: waiting on an operator-supplied funding tx
	}
	fundingTx, err := bitcoin.DeserializeTx(actual.FundingTransaction)
	if err != nil {
		return nil, fmt.Errorf("anchor: decode recovery funding tx: %w", err)
	}
	fundingTxID := bitcoin.TxID(fundingTx)

	spent, err := m.Schema.IsFundingSpent(fundingTxID)
	if err != nil {
		return nil, err
	}
	if spent {
		return nil, nil // the recovery chain has already started from this funding tx
	}

	redeemScript, err := actual.RedeemScript()
	if err != nil {
		return nil, err
	}
	destScript, err := bitcoin.P2WSHScriptPubKey(redeemScript)
	if err != nil {
		return nil, err
	}

	var payloadH uint64
	var blockHash chainhash.Hash
	builder := anchortx.NewBuilder().
		WithFunding(fundingTx).
		WithFeeRate(actual.FeePerByte).
		WithDestination(destScript).
		WithRedeemScript(redeemScript, majority)

	if quorum.Found {
		quorumTx, err := bitcoin.DeserializeTx(quorum.Tx)
		if err != nil {
			return nil, fmt.Errorf("anchor: decode quorum lect: %w", err)
		}
		h, hash, err := decodePayload(quorumTx)
		if err != nil {
			return nil, fmt.Errorf("%w: quorum lect carries no payload: %v", ErrBroken, err)
		}
		payloadH, blockHash = h, hash
		builder = builder.WithPrevChain(quorum.TxID)
	} else {
		payloadH = height
		if bh, ok := m.Oracle.BlockHash(height); ok {
			blockHash = bh
		}
	}
	builder = builder.WithPayload(payloadH, blockHash)

	result, err := builder.Build()
	if err != nil {
		var insuff *anchortx.InsufficientFundsError
		if errors.As(err, &insuff) {
			m.Logger.Printf("recovery proposal needs more funds: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("anchor: build recovery proposal: %w", err)
	}
	m.Metrics.IncProposalsBuilt()
	return m.signAndFinalize(ctx, ownIdx, result, redeemScript, majority, keys, height)
}

func decodePayload(tx *wire.MsgTx) (uint64, chainhash.Hash, error) {
	if len(tx.TxOut) < 2 {
		return 0, chainhash.Hash{}, fmt.Errorf("tx has no payload output")
	}
	return bitcoin.DecodeAnchorScript(tx.TxOut[1].PkScript)
}

// eligibleFunding returns every UTXO at cfg's address that classifies as
// a plain funding tx (not yet an anchor's own output chain), has matured
// past cfg.UTXOConfirmations, and has not already been consumed.
func (m *Machine) eligibleFunding(ctx context.Context, cfg *ledger.AnchoringConfig, addrScript []byte) ([]*wire.MsgTx, error) {
	addr, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	utxos, err := m.Relay.ListUnspent(ctx, addr)
	m.Metrics.ObserveRelayCall("listunspent", err)
	if err != nil {
		return nil, fmt.Errorf("anchor: list unspent: %w", err)
	}

	var out []*wire.MsgTx
	seen := make(map[chainhash.Hash]bool)
	for _, u := range utxos {
		if u.Confirmations < cfg.UTXOConfirmations || seen[u.TxID] {
			continue
		}
		if spent, err := m.Schema.IsFundingSpent(u.TxID); err != nil || spent {
			continue
		}
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
		if err != nil || kind != bitcoin.TxKindFunding {
			continue
		}
		seen[u.TxID] = true
		out = append(out, tx)
	}
	return out, nil
}

// maybeResend re-broadcasts a previously finalized tx that the relay no
// longer reports as known, once ResendAfterBlocks have passed since it
// was last (re)sent, per spec §4.5.
func (m *Machine) maybeResend(ctx context.Context, txid chainhash.Hash, raw []byte, height uint64) error {
	lastSent, ok, err := m.Schema.BroadcastHeight(txid)
	if err != nil || !ok {
		return err
	}
	if height < lastSent+m.Config.ResendAfterBlocks {
		return nil
	}
	seen, err := m.Relay.GetTx(ctx, txid)
	m.Metrics.ObserveRelayCall("getrawtransaction", err)
	if err != nil || seen != nil {
		return nil
	}
	if err := m.Relay.SendTx(ctx, raw); err != nil {
		m.Metrics.ObserveRelayCall("sendrawtransaction", err)
		if !errors.Is(err, relay.ErrAlreadyInChain) && !errors.Is(err, relay.ErrMempoolConflict) {
			return fmt.Errorf("anchor: resend: %w", err)
		}
	} else {
		m.Metrics.ObserveRelayCall("sendrawtransaction", nil)
	}
	return m.Schema.SetBroadcastHeight(txid, height)
}

// signAndFinalize signs every input of result with the node's own key (if
// it holds one for this config), pools the resulting signatures alongside
// whatever peers have already contributed, and finalizes + broadcasts
// once every input has reached majority, per spec §4.2/§4.5.
func (m *Machine) signAndFinalize(ctx context.Context, ownIdx int, result *anchortx.Result, redeemScript []byte, majority int, keys []ledger.AnchoringKey, height uint64) ([]hostchain.ServiceMessage, error) {
	tx := result.UnsignedTx
	txid := bitcoin.TxID(tx)
	var out []hostchain.ServiceMessage

	// Record every input tx this proposal spends before announcing a
	// signature over it: a peer's IngestSignature resolves the spent
	// output's value via Schema.KnownTx to confirm the tx is currently
	// proposable (spec §7), and without this a peer that hasn't
	// independently scanned the same funding/prior tx would reject an
	// otherwise-valid signature for want of a known prevout.
	for _, in := range result.InputTxs {
		if raw, err := bitcoin.SerializeTx(in); err == nil {
			if err := m.Schema.PutKnownTx(raw); err != nil {
				m.Logger.Printf("put known input tx: %v", err)
			}
		}
	}

	if ownIdx >= 0 && ownIdx < len(keys) && m.Keys != nil {
		ownPub := keys[ownIdx].BitcoinPubKey
		if m.Keys.Has(ownPub) {
			raw, err := bitcoin.SerializeTx(tx)
			if err != nil {
				return out, err
			}
			for idx := range tx.TxIn {
				sig, err := m.Keys.Sign(tx, idx, result.InputValue[idx], redeemScript, ownPub)
				if err != nil {
					m.Logger.Printf("sign input %d: %v", idx, err)
					continue
				}
				if err := m.Schema.AddSignature(ledger.StoredSignature{
					TxID: txid, InputIndex: idx, ValidatorIndex: ownIdx, Signature: sig,
				}); err != nil {
					return out, err
				}
				m.Metrics.IncSignaturesEmitted()
				out = append(out, hostchain.MsgAnchoringSignature{
					FromServicePubKey: servicePubKeyArray(m.Service),
					ValidatorIdx:      uint32(ownIdx),
					Tx:                raw,
					InputIndex:        uint32(idx),
					Signature:         sig,
				})
			}
		}
	}

	perInput, err := m.gatherSignatures(tx, result.InputValue, redeemScript, keys)
	if err != nil {
		return out, err
	}
	for _, sigs := range perInput {
		if len(sigs) < majority {
			return out, nil // not enough verified signatures yet
		}
	}

	finalized, err := anchorsig.Finalize(tx, redeemScript, majority, perInput)
	if err != nil {
		return out, fmt.Errorf("anchor: finalize: %w", err)
	}
	raw, err := bitcoin.SerializeTx(finalized)
	if err != nil {
		return out, err
	}

	if err := m.Relay.SendTx(ctx, raw); err != nil {
		m.Metrics.ObserveRelayCall("sendrawtransaction", err)
		if !errors.Is(err, relay.ErrAlreadyInChain) && !errors.Is(err, relay.ErrMempoolConflict) {
			return out, fmt.Errorf("anchor: send tx: %w", err)
		}
	} else {
		m.Metrics.ObserveRelayCall("sendrawtransaction", nil)
	}

	if err := m.Schema.PutKnownTx(raw); err != nil {
		m.Logger.Printf("put known tx: %v", err)
	}
	for _, in := range tx.TxIn {
		if err := m.Schema.MarkFundingSpent(in.PreviousOutPoint.Hash); err != nil {
			m.Logger.Printf("mark funding spent: %v", err)
		}
	}
	if err := m.Schema.DiscardSignatures(txid); err != nil {
		m.Logger.Printf("discard signatures: %v", err)
	}
	if err := m.Schema.SetBroadcastHeight(txid, height); err != nil {
		m.Logger.Printf("set broadcast height: %v", err)
	}
	m.Metrics.IncAnchorsFinalized()
	return out, nil
}

// gatherSignatures reads every pooled signature for tx's txid, verifies
// each against the exact (prevOutValue, redeemScript) this build uses,
// and returns them grouped per input and ordered by validator index to
// match anchoring_keys order, per spec §4.2's Finalize contract.
// IngestSignature already rejects signatures that don't verify against
// the active-or-following config at pooling time, but a config can roll
// over between pooling and finalize, so a pool entry that verified
// against a config that is no longer current is dropped here too.
func (m *Machine) gatherSignatures(tx *wire.MsgTx, inputValues []int64, redeemScript []byte, keys []ledger.AnchoringKey) ([][][]byte, error) {
	txid := bitcoin.TxID(tx)
	stored, err := m.Schema.Signatures(txid)
	if err != nil {
		return nil, fmt.Errorf("anchor: gather signatures: %w", err)
	}

	byInput := make(map[int][]ledger.StoredSignature, len(tx.TxIn))
	for _, sig := range stored {
		byInput[sig.InputIndex] = append(byInput[sig.InputIndex], sig)
	}

	out := make([][][]byte, len(tx.TxIn))
	for idx := range tx.TxIn {
		sigs := byInput[idx]
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].ValidatorIndex < sigs[j].ValidatorIndex })

		var valid [][]byte
		seen := make(map[int]bool, len(sigs))
		for _, s := range sigs {
			if s.ValidatorIndex < 0 || s.ValidatorIndex >= len(keys) || seen[s.ValidatorIndex] {
				continue
			}
			pub := keys[s.ValidatorIndex].BitcoinPubKey
			if err := anchorsig.VerifyInput(tx, idx, inputValues[idx], redeemScript, pub, s.Signature); err != nil {
				continue
			}
			seen[s.ValidatorIndex] = true
			valid = append(valid, s.Signature)
		}
		out[idx] = valid
	}
	return out, nil
}

// IngestSignature validates and pools a peer's signature message. Per
// spec §7's failure semantics, a signature whose referenced tx is not
// the currently-proposable tx is rejected without ever being persisted:
// that is checked here by requiring the spent output to resolve to a
// tx this node already knows (the prevout a real proposal would spend
// is always recorded via PutKnownTx when it was built or finalized),
// and by verifying the signature itself against the redeem script of
// the config active (or, per invariant 3, the one about to follow it)
// at height. Only a signature that verifies is pooled; gatherSignatures
// still re-verifies at finalize time against the exact live proposal,
// since a signature can be valid against a redeem script yet not
// belong to the specific unsigned tx finalize is assembling.
func (m *Machine) IngestSignature(msg hostchain.MsgAnchoringSignature, numValidators int, height uint64) error {
	if int(msg.ValidatorIdx) >= numValidators {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("anchor: validator index %d out of range", msg.ValidatorIdx)
	}
	tx, err := bitcoin.DeserializeTx(msg.Tx)
	if err != nil {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("anchor: ingest signature: decode tx: %w", err)
	}
	if int(msg.InputIndex) >= len(tx.TxIn) {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("anchor: input index %d out of range", msg.InputIndex)
	}
	if len(msg.Signature) == 0 {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("%w: empty signature", ErrSignatureStale)
	}

	in := tx.TxIn[msg.InputIndex]
	prevRaw, err := m.Schema.KnownTx(in.PreviousOutPoint.Hash)
	if err != nil {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("%w: spent output is not a known tx", ErrSignatureStale)
	}
	prevTx, err := bitcoin.DeserializeTx(prevRaw)
	if err != nil {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("anchor: ingest signature: decode prev tx: %w", err)
	}
	if int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("%w: spent output index out of range", ErrSignatureStale)
	}
	value := prevTx.TxOut[in.PreviousOutPoint.Index].Value

	if !m.verifyAgainstKnownConfigs(tx, int(msg.InputIndex), value, int(msg.ValidatorIdx), msg.Signature, height) {
		m.Metrics.IncSignaturesIngested(false)
		return fmt.Errorf("%w: signature does not verify against the active or following redeem script", ErrSignatureStale)
	}

	if err := m.Schema.PutKnownTx(msg.Tx); err != nil {
		m.Metrics.IncSignaturesIngested(false)
		return err
	}
	if err := m.Schema.AddSignature(ledger.StoredSignature{
		TxID:           bitcoin.TxID(tx),
		InputIndex:     int(msg.InputIndex),
		ValidatorIndex: int(msg.ValidatorIdx),
		Signature:      msg.Signature,
	}); err != nil {
		m.Metrics.IncSignaturesIngested(false)
		return err
	}
	m.Metrics.IncSignaturesIngested(true)
	return nil
}

// verifyAgainstKnownConfigs reports whether sig is a valid signature by
// validatorIdx's bitcoin key over tx's input idx, against either the
// config active at height or the one scheduled to follow it (spec §3
// invariant 3: the pool retains a signature only if it verifies against
// the current-or-following redeem script).
func (m *Machine) verifyAgainstKnownConfigs(tx *wire.MsgTx, idx int, value int64, validatorIdx int, sig []byte, height uint64) bool {
	if actual, err := m.Schema.ActiveConfig(height); err == nil {
		if validatorIdx < len(actual.AnchoringKeys) {
			if redeem, err := actual.RedeemScript(); err == nil {
				if anchorsig.VerifyInput(tx, idx, value, redeem, actual.AnchoringKeys[validatorIdx].BitcoinPubKey, sig) == nil {
					return true
				}
			}
		}
	}
	if following, ok, err := m.Schema.FollowingConfig(height); err == nil && ok {
		if validatorIdx < len(following.AnchoringKeys) {
			if redeem, err := following.RedeemScript(); err == nil {
				if anchorsig.VerifyInput(tx, idx, value, redeem, following.AnchoringKeys[validatorIdx].BitcoinPubKey, sig) == nil {
					return true
				}
			}
		}
	}
	return false
}

// IngestLectUpdate validates and appends a peer's LECT announcement,
// enforcing the monotonic-log and payload-cross-check rules of spec §3's
// invariant 1 and §4.5's failure semantics: the validator index must be
// in range, the declared log length must extend the log by exactly one,
// the tx must classify as Anchoring against the config active at height,
// and its committed block hash (if the oracle has an opinion yet) must
// match what the host chain actually saw at that height.
func (m *Machine) IngestLectUpdate(msg hostchain.MsgAnchoringUpdateLatest, numValidators int, height uint64) error {
	if int(msg.ValidatorIdx) >= numValidators {
		return fmt.Errorf("anchor: validator index %d out of range", msg.ValidatorIdx)
	}
	tx, err := bitcoin.DeserializeTx(msg.Tx)
	if err != nil {
		return fmt.Errorf("anchor: ingest lect: decode tx: %w", err)
	}

	count, err := m.Schema.LectCount(int(msg.ValidatorIdx))
	if err != nil {
		return err
	}
	if msg.LectCount != count+1 {
		return fmt.Errorf("anchor: lect count %d does not extend log at %d", msg.LectCount, count)
	}

	if count > 0 {
		if currentRaw, cerr := m.Schema.LatestLect(int(msg.ValidatorIdx)); cerr == nil {
			if currentTx, derr := bitcoin.DeserializeTx(currentRaw); derr == nil {
				if bitcoin.TxID(currentTx) == bitcoin.TxID(tx) {
					// Re-announcement of the unchanged tip (it briefly
					// dropped out of the relay's view and came back, or
					// the sender simply re-asserted it): nothing new to
					// log, and it isn't a chain extension by any reading
					// of the prev-tx walk.
					return nil
				}
			}
		}
	}

	cfg, err := m.Schema.ActiveConfig(height)
	if err != nil {
		return err
	}
	addrScript, err := configScript(cfg)
	if err != nil {
		return err
	}
	kind, payload, err := bitcoin.ClassifyTx(tx, addrScript)
	if err != nil {
		return fmt.Errorf("anchor: classify lect tx: %w", err)
	}
	if kind != bitcoin.TxKindAnchoring {
		// A transition tx pays the following address, not the active
		// one; a LECT announcing it would otherwise always be rejected
		// here, so it gets a second chance against whatever config is
		// queued to take over, if any (spec §4.5's Transitioning step).
		if following, hasFollowing, ferr := m.Schema.FollowingConfig(height); ferr == nil && hasFollowing {
			if followingScript, serr := configScript(following); serr == nil {
				if k2, p2, cerr := bitcoin.ClassifyTx(tx, followingScript); cerr == nil && k2 == bitcoin.TxKindAnchoring {
					kind, payload = k2, p2
				}
			}
		}
	}
	if kind != bitcoin.TxKindAnchoring {
		return fmt.Errorf("anchor: lect tx is not a well-formed anchoring tx")
	}
	if hostHash, ok := m.Oracle.BlockHash(payload.BlockHeight); ok && hostHash != [32]byte(payload.BlockHash) {
		return fmt.Errorf("anchor: lect payload hash mismatches the host chain at height %d", payload.BlockHeight)
	}

	if err := m.Schema.PutKnownTx(msg.Tx); err != nil {
		return err
	}

	extendsTip := count == 0
	var recoveryOf *chainhash.Hash
	if !extendsTip {
		prevTxID := tx.TxIn[0].PreviousOutPoint.Hash
		if idx, ok, err := m.Schema.LectIndex(int(msg.ValidatorIdx), prevTxID); err == nil && ok && idx == count-1 {
			extendsTip = true
		} else if payload.PrevTxChain != nil {
			recoveryOf = payload.PrevTxChain
		}
	}
	if err := m.Schema.AppendLect(int(msg.ValidatorIdx), msg.Tx, extendsTip, recoveryOf); err != nil {
		return fmt.Errorf("anchor: append lect: %w", err)
	}
	return nil
}
