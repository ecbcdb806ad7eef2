package metrics

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/certen/btc-anchoring/pkg/relay"
)

// TimedRelay wraps a relay.Relay so every call's latency is recorded
// against ObserveRelayDuration, independent of the state machine's own
// ObserveRelayCall bookkeeping (which has no timing hook of its own).
type TimedRelay struct {
	relay.Relay
	metrics *Metrics
}

// NewTimedRelay wraps rl with latency instrumentation reported to m.
func NewTimedRelay(rl relay.Relay, m *Metrics) *TimedRelay {
	return &TimedRelay{Relay: rl, metrics: m}
}

func (t *TimedRelay) time(method string, fn func()) {
	start := time.Now()
	fn()
	t.metrics.ObserveRelayDuration(method, time.Since(start))
}

// GetTx implements relay.Relay with latency recorded under "getrawtransaction".
func (t *TimedRelay) GetTx(ctx context.Context, txid chainhash.Hash) ([]byte, error) {
	var raw []byte
	var err error
	t.time("getrawtransaction", func() { raw, err = t.Relay.GetTx(ctx, txid) })
	return raw, err
}

// GetConfirmations implements relay.Relay with latency recorded under "getconfirmations".
func (t *TimedRelay) GetConfirmations(ctx context.Context, txid chainhash.Hash) (*uint64, error) {
	var confs *uint64
	var err error
	t.time("getconfirmations", func() { confs, err = t.Relay.GetConfirmations(ctx, txid) })
	return confs, err
}

// SendTx implements relay.Relay with latency recorded under "sendrawtransaction".
func (t *TimedRelay) SendTx(ctx context.Context, rawTx []byte) error {
	var err error
	t.time("sendrawtransaction", func() { err = t.Relay.SendTx(ctx, rawTx) })
	return err
}

// ListUnspent implements relay.Relay with latency recorded under "listunspent".
func (t *TimedRelay) ListUnspent(ctx context.Context, address string) ([]relay.UTXO, error) {
	var utxos []relay.UTXO
	var err error
	t.time("listunspent", func() { utxos, err = t.Relay.ListUnspent(ctx, address) })
	return utxos, err
}

// WatchAddress implements relay.Relay with latency recorded under "importaddress".
func (t *TimedRelay) WatchAddress(ctx context.Context, address string) error {
	var err error
	t.time("importaddress", func() { err = t.Relay.WatchAddress(ctx, address) })
	return err
}

var _ relay.Relay = (*TimedRelay)(nil)
