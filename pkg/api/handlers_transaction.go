package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/database"
)

// txView is the JSON shape returned by the transaction-lookup endpoints,
// decoded fresh from the raw BIP-141 bytes rather than trusting any
// cached projection of them.
type txView struct {
	Index         uint64 `json:"index"`
	TxID          string `json:"txid"`
	PayloadHeight uint64 `json:"payload_height"`
	PayloadHash   string `json:"payload_block_hash"`
	RawTxHex      string `json:"raw_tx"`
}

func decodeTxView(index uint64, raw []byte) (*txView, error) {
	tx, err := bitcoin.DeserializeTx(raw)
	if err != nil {
		return nil, err
	}
	view := &txView{
		Index:    index,
		TxID:     bitcoin.TxID(tx).String(),
		RawTxHex: hex.EncodeToString(raw),
	}
	if len(tx.TxOut) >= 2 {
		if height, hash, err := bitcoin.DecodeAnchorScript(tx.TxOut[1].PkScript); err == nil {
			view.PayloadHeight = height
			view.PayloadHash = hash.String()
		}
	}
	return view, nil
}

// handleTransaction handles GET /transaction?index=N: the chain entry at
// the given zero-based position.
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	index, ok := parseUint(w, r, "index")
	if !ok {
		return
	}
	raw, err := s.Schema.ChainAt(index)
	if err != nil {
		writeError(w, http.StatusNotFound, "transaction not found: "+err.Error())
		return
	}
	view, err := decodeTxView(index, raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "decode transaction: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleFindTransaction handles GET /find-transaction?height=N: the
// chain entry whose payload references host height N. Uses the
// read-model's indexed lookup when available, falling back to a linear
// scan of the authoritative chain otherwise.
func (s *Server) handleFindTransaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	height, ok := parseUint(w, r, "height")
	if !ok {
		return
	}

	if s.Repos != nil {
		entry, err := s.Repos.Transactions.ByHeight(r.Context(), height)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, &txView{
				Index:         uint64(entry.ChainIndex),
				TxID:          entry.TxID,
				PayloadHeight: entry.PayloadHeight,
				PayloadHash:   entry.PayloadBlockHash,
				RawTxHex:      hex.EncodeToString(entry.RawTx),
			})
			return
		case errors.Is(err, database.ErrTransactionNotFound):
			writeError(w, http.StatusNotFound, "no transaction references that height")
			return
		default:
			writeError(w, http.StatusInternalServerError, "read-model lookup: "+err.Error())
			return
		}
	}

	length, err := s.Schema.ChainLen()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chain length: "+err.Error())
		return
	}
	for i := uint64(0); i < length; i++ {
		raw, err := s.Schema.ChainAt(i)
		if err != nil {
			continue
		}
		view, err := decodeTxView(i, raw)
		if err != nil {
			continue
		}
		if view.PayloadHeight == height {
			writeJSON(w, http.StatusOK, view)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no transaction references that height")
}

// handleTransactionsCount handles GET /transactions-count.
func (s *Server) handleTransactionsCount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	length, err := s.Schema.ChainLen()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chain length: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": length})
}

func parseUint(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		writeError(w, http.StatusBadRequest, param+" is required")
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return v, true
}
