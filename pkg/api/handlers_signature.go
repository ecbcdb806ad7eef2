package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/hostchain"
)

// signInputRequest is the body of POST /sign-input: a signature this
// validator produced out-of-band (e.g. via an HSM signing flow) for one
// input of a tx the node already regards as proposable. RawTxHex carries
// the full proposal, not just its txid, because ingestion needs the live
// transaction to verify the signature against.
type signInputRequest struct {
	RawTxHex       string `json:"raw_tx"`
	InputIndex     int    `json:"input_index"`
	ValidatorIndex int    `json:"validator_index"`
	SignatureHex   string `json:"signature"`
}

// handleSignInput handles POST /sign-input. It is validator-only: callers
// are trusted to have authenticated at the transport layer (this package
// does not implement an auth scheme of its own). The signature is routed
// through the same anchor.Machine.IngestSignature path a MsgAnchoringSignature
// arriving over the host chain would take, so it gets the identical
// validator-index/input-index range checks and redeem-script verification
// before ever being pooled.
func (s *Server) handleSignInput(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req signInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	raw, err := hex.DecodeString(req.RawTxHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid raw_tx hex: "+err.Error())
		return
	}
	if _, err := bitcoin.DeserializeTx(raw); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable transaction: "+err.Error())
		return
	}
	sig, err := hex.DecodeString(req.SignatureHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature hex: "+err.Error())
		return
	}
	if req.InputIndex < 0 || req.ValidatorIndex < 0 {
		writeError(w, http.StatusBadRequest, "input_index and validator_index must be non-negative")
		return
	}

	height := s.Oracle.Height()
	cfg, err := s.Schema.ActiveConfig(height)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve active config: "+err.Error())
		return
	}

	msg := hostchain.MsgAnchoringSignature{
		ValidatorIdx: uint32(req.ValidatorIndex),
		Tx:           raw,
		InputIndex:   uint32(req.InputIndex),
		Signature:    sig,
	}
	if err := s.Machine.IngestSignature(msg, len(cfg.AnchoringKeys), height); err != nil {
		writeError(w, http.StatusBadRequest, "ingest signature: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// addFundsRequest is the body of POST /add-funds: the raw transaction of
// a manually-sent funding UTXO, for the case spec §4.5 calls "stalled:
// waiting on an operator-supplied funding tx" during recovery.
type addFundsRequest struct {
	RawTxHex string `json:"raw_tx"`
}

// handleAddFunds handles POST /add-funds. It records rawTx in the
// schema's known-tx set (so the observer and transaction builder can walk
// and spend from it); it does not submit the tx to the relay. It does not
// itself judge whether the tx is eligible
// funding — that check belongs to the builder at proposal time.
func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req addFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	raw, err := hex.DecodeString(req.RawTxHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid raw_tx hex: "+err.Error())
		return
	}
	if _, err := bitcoin.DeserializeTx(raw); err != nil {
		writeError(w, http.StatusBadRequest, "undecodable transaction: "+err.Error())
		return
	}
	if err := s.Schema.PutKnownTx(raw); err != nil {
		writeError(w, http.StatusInternalServerError, "record funding tx: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
