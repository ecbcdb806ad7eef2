// Package anchor implements the per-block anchoring state machine of
// spec §4.5: deriving the current state from the schema, computing the
// quorum LECT, and deciding which service transactions to emit.
package anchor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/ledger"
)

// State is the anchoring state machine's current mode, per spec §4.5.
type State int

const (
	StateAnchoring State = iota
	StateWaiting
	StateTransitioning
	StateRecovering
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateAnchoring:
		return "anchoring"
	case StateWaiting:
		return "waiting"
	case StateTransitioning:
		return "transitioning"
	case StateRecovering:
		return "recovering"
	default:
		return "broken"
	}
}

// Derived is the result of DeriveState: the current mode plus the
// configs it was computed from.
type Derived struct {
	State     State
	Actual    *ledger.AnchoringConfig
	Following *ledger.AnchoringConfig // set only when State == StateTransitioning
}

// ErrBroken is returned when an invariant violation forces the state
// machine into the Broken sink state; it is never returned for ordinary
// relay or scheduling conditions.
var ErrBroken = errors.New("anchor: invariant violation, entering broken state")

// DeriveState is a pure function of a schema snapshot, the requesting
// validator's own index, the current host height, and the confirmation
// count of that validator's own latest LECT (fetched from the relay by
// the caller, since DeriveState itself performs no I/O) into the current
// State, per spec §4.5's state-derivation rules. transitionLostAfter is
// the number of blocks past a config's ActualFrom the machine tolerates
// an unconfirmed address change before declaring the transition tx lost
// and moving to Recovering (spec §9's open question); 0 means "one
// anchoring_interval of the now-active config".
func DeriveState(schema *ledger.Schema, ownIdx int, height uint64, ownLectConfirmations uint64, transitionLostAfter uint64) (*Derived, error) {
	actual, err := schema.ActiveConfig(height)
	if err != nil {
		return nil, fmt.Errorf("anchor: derive state: %w", err)
	}
	actualScript, err := configScript(actual)
	if err != nil {
		return nil, err
	}

	following, hasFollowing, err := schema.FollowingConfig(height)
	if err != nil {
		return nil, fmt.Errorf("anchor: derive state: %w", err)
	}
	if hasFollowing {
		followingScript, err := configScript(following)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(actualScript, followingScript) {
			return &Derived{State: StateTransitioning, Actual: actual, Following: following}, nil
		}
	}

	rawLect, err := schema.LatestLect(ownIdx)
	if errors.Is(err, ledger.ErrNotFound) {
		return &Derived{State: StateAnchoring, Actual: actual}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("anchor: derive state: %w", err)
	}
	ownLect, err := bitcoin.DeserializeTx(rawLect)
	if err != nil {
		return nil, fmt.Errorf("%w: own lect does not parse: %v", ErrBroken, err)
	}
	if len(ownLect.TxOut) == 0 {
		return nil, fmt.Errorf("%w: own lect has no outputs", ErrBroken)
	}
	ownScript := ownLect.TxOut[0].PkScript
	kind, _, err := bitcoin.ClassifyTx(ownLect, ownScript)
	if err != nil {
		return nil, fmt.Errorf("anchor: classify own lect: %w", err)
	}
	if kind == bitcoin.TxKindAnchoring && !bytes.Equal(ownScript, actualScript) {
		if ownLectConfirmations < actual.UTXOConfirmations {
			return &Derived{State: StateWaiting, Actual: actual}, nil
		}
		// Confirmations cleared but the own LECT still sits at a prior
		// address: either the transition tx hasn't been observed yet
		// (keep waiting, bounded) or it is lost (recover onto a fresh
		// funding tx), per spec §4.5's Transitioning/Recovering notes.
		threshold := transitionLostAfter
		if threshold == 0 {
			threshold = actual.AnchoringInterval
		}
		if height >= actual.ActualFrom+threshold {
			if len(actual.FundingTransaction) > 0 {
				return &Derived{State: StateRecovering, Actual: actual}, nil
			}
			// No funding tx installed yet: the chain stalls until an
			// operator supplies one via a config change, per spec §4.5.
		}
		return &Derived{State: StateWaiting, Actual: actual}, nil
	}
	return &Derived{State: StateAnchoring, Actual: actual}, nil
}

func configScript(cfg *ledger.AnchoringConfig) ([]byte, error) {
	redeem, err := cfg.RedeemScript()
	if err != nil {
		return nil, fmt.Errorf("anchor: build redeem script: %w", err)
	}
	return bitcoin.P2WSHScriptPubKey(redeem)
}
