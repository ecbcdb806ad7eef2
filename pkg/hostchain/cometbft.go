package hostchain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
)

// CometClient adapts a CometBFT RPC endpoint to BlockOracle and
// ServiceTxBroadcaster, for deployments where the anchoring core runs
// alongside (rather than embedded inside) the host BFT chain framework
// and reaches it over RPC instead of an in-process commit hook.
type CometClient struct {
	rpc     *cmthttp.HTTP
	signer  *ServiceSigner
	timeout time.Duration

	lastHeight uint64
	lastHash   [32]byte
	haveHash   bool
}

var (
	_ BlockOracle          = (*CometClient)(nil)
	_ ServiceTxBroadcaster = (*CometClient)(nil)
)

// NewCometClient dials remote (e.g. "http://localhost:26657") and wraps
// it for anchoring use. signer authenticates service transactions this
// node broadcasts; it may be nil for a read-only BlockOracle.
func NewCometClient(remote string, signer *ServiceSigner) (*CometClient, error) {
	rpc, err := cmthttp.New(remote, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("hostchain: dial cometbft rpc at %s: %w", remote, err)
	}
	return &CometClient{rpc: rpc, signer: signer, timeout: 10 * time.Second}, nil
}

// Refresh polls the node's current sync status and caches the latest
// height/hash it reports. Callers that need fresh data on every read
// should call this before Height/BlockHash; cmd/anchoring-node calls it
// on a 5-second ticker.
func (c *CometClient) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.rpc.Status(ctx)
	if err != nil {
		return fmt.Errorf("hostchain: cometbft status: %w", err)
	}
	if status.SyncInfo.LatestBlockHeight <= 0 {
		return fmt.Errorf("hostchain: cometbft reports no committed blocks yet")
	}

	c.lastHeight = uint64(status.SyncInfo.LatestBlockHeight)
	hashBytes := status.SyncInfo.LatestBlockHash.Bytes()
	if len(hashBytes) == 32 {
		copy(c.lastHash[:], hashBytes)
		c.haveHash = true
	} else {
		c.haveHash = false
	}
	return nil
}

// Height implements BlockOracle using the height cached by the most
// recent Refresh. It never blocks on RPC itself, matching the other
// BlockOracle implementations used in tests.
func (c *CometClient) Height() uint64 { return c.lastHeight }

// BlockHash implements BlockOracle. It only ever resolves the height
// Refresh last observed; CometClient does not keep a history of past
// block hashes, so any other height reports unknown.
func (c *CometClient) BlockHash(height uint64) ([32]byte, bool) {
	if !c.haveHash || height != c.lastHeight {
		return [32]byte{}, false
	}
	return c.lastHash, true
}

// Broadcast implements ServiceTxBroadcaster: it signs msg into an
// Envelope with the client's service key and submits it to the node's
// mempool via BroadcastTxSync, returning once CheckTx accepts it (not
// once a later block commits it).
func (c *CometClient) Broadcast(ctx context.Context, msg ServiceMessage) error {
	if c.signer == nil {
		return fmt.Errorf("hostchain: cometbft client has no service signer configured")
	}
	env, err := c.signer.Sign(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("hostchain: marshal envelope: %w", err)
	}

	res, err := c.rpc.BroadcastTxSync(ctx, payload)
	if err != nil {
		return fmt.Errorf("hostchain: broadcast %s: %w", msg.MessageType(), err)
	}
	if res.Code != 0 {
		return fmt.Errorf("hostchain: %s rejected by CheckTx: code=%d log=%s", msg.MessageType(), res.Code, res.Log)
	}
	return nil
}
