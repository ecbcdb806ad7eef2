// Package anchortx builds the unsigned anchoring and transition
// transactions described in spec §4.1, deterministically from a prior
// tx/funding set, a payload and a fee rate.
package anchortx

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputs is returned when neither a previous tx nor any
	// additional funding tx was supplied.
	ErrNoInputs = errors.New("anchortx: no inputs available (no prev tx and no funding)")

	// ErrUnsuitableOutput is returned when an anchoring prev_tx has no
	// output 0 at all, or its output 0 pays a script other than the
	// destination and the build was not explicitly marked as a
	// transition (spec §4.1).
	ErrUnsuitableOutput = errors.New("anchortx: prev tx output 0 does not pay the destination script")

	// ErrUnsuitableFundingTx is returned when a supplied funding tx has
	// no output paying the destination script.
	ErrUnsuitableFundingTx = errors.New("anchortx: funding tx has no output paying the destination script")

	// ErrMissingDestination is returned when Build is called without a
	// destination script configured.
	ErrMissingDestination = errors.New("anchortx: destination script not set")

	// ErrMissingRedeemScript is returned when Build is called without
	// the multisig redeem script needed to size placeholder witnesses.
	ErrMissingRedeemScript = errors.New("anchortx: redeem script not set")
)

// InsufficientFundsError reports that the computed fee exceeds the
// available balance, carrying both values for the caller to log or
// surface, per spec §4.1.
type InsufficientFundsError struct {
	TotalFee int64
	Balance  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("anchortx: insufficient funds: fee %d exceeds balance %d", e.TotalFee, e.Balance)
}
