package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
)

// RPCClient talks to a Bitcoin Core node over its JSON-RPC interface,
// reusing a single *http.Client across calls.
type RPCClient struct {
	httpClient *http.Client
	url        string
	user       string
	pass       string
}

// NewRPCClient returns an RPCClient targeting url (e.g.
// "http://127.0.0.1:8332"), authenticating with user/pass.
func NewRPCClient(url, user, pass string) *RPCClient {
	return &RPCClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		user:       user,
		pass:       pass,
	}
}

var _ Relay = (*RPCClient)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	// A fresh id per call lets request/response pairs be correlated in
	// Bitcoin Core's debug log when diagnosing a stuck call.
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: uuid.NewString(), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("relay: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("relay: %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return classifyRPCError(rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("relay: %s: decode result: %w", method, err)
	}
	return nil
}

// classifyRPCError normalizes the Bitcoin Core error messages SendTx
// must treat as success/no-retry into sentinel errors.
func classifyRPCError(rpcErr *RPCError) error {
	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "already in block chain"), strings.Contains(msg, "transaction already in block chain"), strings.Contains(msg, "txn-already-in-mempool"):
		return ErrAlreadyInChain
	case strings.Contains(msg, "txn-mempool-conflict"), strings.Contains(msg, "conflicts with"):
		return ErrMempoolConflict
	default:
		return rpcErr
	}
}

// GetTx implements Relay.GetTx via getrawtransaction.
func (c *RPCClient) GetTx(ctx context.Context, txid chainhash.Hash) ([]byte, error) {
	var result struct {
		Hex string `json:"hex"`
	}
	err := c.call(ctx, "getrawtransaction", []interface{}{txid.String(), false}, &result)
	if err != nil {
		if isUnknownTx(err) {
			return nil, nil
		}
		return nil, err
	}
	raw, err := hex.DecodeString(result.Hex)
	if err != nil {
		return nil, fmt.Errorf("relay: decode raw tx hex: %w", err)
	}
	return raw, nil
}

// GetConfirmations implements Relay.GetConfirmations via
// getrawtransaction with verbose output.
func (c *RPCClient) GetConfirmations(ctx context.Context, txid chainhash.Hash) (*uint64, error) {
	var result struct {
		Confirmations uint64 `json:"confirmations"`
	}
	err := c.call(ctx, "getrawtransaction", []interface{}{txid.String(), true}, &result)
	if err != nil {
		if isUnknownTx(err) {
			return nil, nil
		}
		return nil, err
	}
	confirmations := result.Confirmations
	return &confirmations, nil
}

// SendTx implements Relay.SendTx via sendrawtransaction.
func (c *RPCClient) SendTx(ctx context.Context, rawTx []byte) error {
	err := c.call(ctx, "sendrawtransaction", []interface{}{hex.EncodeToString(rawTx)}, nil)
	if err == nil || err == ErrAlreadyInChain {
		return nil
	}
	return err
}

type unspentEntry struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Confirmations uint64  `json:"confirmations"`
	Amount        float64 `json:"amount"`
}

// ListUnspent implements Relay.ListUnspent via listunspent.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]UTXO, error) {
	var entries []unspentEntry
	err := c.call(ctx, "listunspent", []interface{}{0, 9999999, []string{address}}, &entries)
	if err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(entries))
	for _, e := range entries {
		txid, err := chainhash.NewHashFromStr(e.TxID)
		if err != nil {
			return nil, fmt.Errorf("relay: parse utxo txid: %w", err)
		}
		out = append(out, UTXO{
			TxID:          *txid,
			Vout:          e.Vout,
			Confirmations: e.Confirmations,
			ValueSat:      int64(e.Amount * 1e8),
		})
	}
	return out, nil
}

// WatchAddress implements Relay.WatchAddress via importaddress.
func (c *RPCClient) WatchAddress(ctx context.Context, address string) error {
	return c.call(ctx, "importaddress", []interface{}{address, "", false}, nil)
}

func isUnknownTx(err error) bool {
	var rpcErr *RPCError
	if e, ok := err.(*RPCError); ok {
		rpcErr = e
	} else {
		return false
	}
	return rpcErr.Code == -5 // RPC_INVALID_ADDRESS_OR_KEY, Core's "No such mempool or blockchain transaction"
}
