package api_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/certen/btc-anchoring/pkg/anchor"
	"github.com/certen/btc-anchoring/pkg/anchorsig"
	"github.com/certen/btc-anchoring/pkg/api"
	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/certen/btc-anchoring/pkg/kvdb"
	"github.com/certen/btc-anchoring/pkg/ledger"
)

type fakeOracle struct{ height uint64 }

func (f *fakeOracle) Height() uint64                          { return f.height }
func (f *fakeOracle) BlockHash(uint64) ([32]byte, bool)        { return [32]byte{}, false }

func newTestServer(t *testing.T) (*api.Server, *ledger.Schema) {
	t.Helper()
	schema := ledger.NewSchema(kvdb.NewKVAdapter(dbm.NewMemDB()))
	require.NoError(t, schema.PutConfig(ledger.AnchoringConfig{
		ActualFrom: 0,
		AnchoringKeys: []ledger.AnchoringKey{
			{BitcoinPubKey: mustPubKey(t, 1)},
			{BitcoinPubKey: mustPubKey(t, 2)},
			{BitcoinPubKey: mustPubKey(t, 3)},
		},
		Network:           bitcoin.Regtest,
		AnchoringInterval: 100,
		FeePerByte:        1,
		UTXOConfirmations: 6,
	}))
	return api.NewServer(schema, nil, &fakeOracle{height: 10}, nil), schema
}

func mustPubKey(t *testing.T, seed byte) []byte {
	t.Helper()
	// A syntactically valid compressed secp256k1 point isn't needed for
	// RedeemScript building in these tests; only byte length matters to
	// bitcoin.BuildRedeemScript, so reuse a fixed generator point varied
	// only in its final byte to keep each key distinct.
	pk := make([]byte, 33)
	pk[0] = 0x02
	pk[32] = seed
	return pk
}

func TestAddressActual(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/address/actual", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["address"])
}

func TestTransactionsCountAndLookup(t *testing.T) {
	srv, schema := newTestServer(t)

	tx := wire.NewMsgTx(bitcoin.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0xAA}, Index: 0}})
	payload, err := bitcoin.EncodeAnchorScript(50, chainhash.Hash{0xBB})
	require.NoError(t, err)
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte("dest")})
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: payload})
	raw, err := bitcoin.SerializeTx(tx)
	require.NoError(t, err)
	require.NoError(t, schema.AppendChain(raw))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions-count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var countBody map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &countBody))
	require.Equal(t, uint64(1), countBody["count"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/find-transaction?height=50", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transaction?index=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/find-transaction?height=999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// realValidatorKey derives a syntactically valid secp256k1 keypair, needed
// here (unlike mustPubKey's placeholder bytes) because sign-input now
// exercises real signature verification.
func realValidatorKey(t *testing.T, seed byte) (*btcec.PrivateKey, []byte) {
	t.Helper()
	var b [32]byte
	b[31] = seed
	priv, pub := btcec.PrivKeyFromBytes(b[:])
	return priv, pub.SerializeCompressed()
}

func TestSignInputAndAddFunds(t *testing.T) {
	schema := ledger.NewSchema(kvdb.NewKVAdapter(dbm.NewMemDB()))
	priv0, pub0 := realValidatorKey(t, 1)
	_, pub1 := realValidatorKey(t, 2)
	priv2, pub2 := realValidatorKey(t, 3)
	cfg := ledger.AnchoringConfig{
		ActualFrom:        0,
		AnchoringKeys:     []ledger.AnchoringKey{{BitcoinPubKey: pub0}, {BitcoinPubKey: pub1}, {BitcoinPubKey: pub2}},
		Network:           bitcoin.Regtest,
		AnchoringInterval: 100,
		FeePerByte:        1,
		UTXOConfirmations: 6,
	}
	require.NoError(t, schema.PutConfig(cfg))
	redeem, err := cfg.RedeemScript()
	require.NoError(t, err)
	destScript, err := bitcoin.P2WSHScriptPubKey(redeem)
	require.NoError(t, err)

	prev := wire.NewMsgTx(bitcoin.TxVersion)
	prev.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0xFE}, Index: 0}})
	prev.AddTxOut(&wire.TxOut{Value: 5000, PkScript: destScript})
	prevRaw, err := bitcoin.SerializeTx(prev)
	require.NoError(t, err)
	require.NoError(t, schema.PutKnownTx(prevRaw))

	tx := wire.NewMsgTx(bitcoin.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: bitcoin.TxID(prev), Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 4900, PkScript: destScript})
	raw, err := bitcoin.SerializeTx(tx)
	require.NoError(t, err)

	sig, err := anchorsig.SignInput(tx, 0, prev.TxOut[0].Value, redeem, priv0)
	require.NoError(t, err)

	machine := anchor.NewMachine(schema, nil, nil, &fakeOracle{height: 10}, nil, nil, nil)
	srv := api.NewServer(schema, machine, &fakeOracle{height: 10}, nil)

	signBody, _ := json.Marshal(map[string]interface{}{
		"raw_tx":          hex.EncodeToString(raw),
		"input_index":     0,
		"validator_index": 0,
		"signature":       hex.EncodeToString(sig),
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-input", bytes.NewReader(signBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// A signature from the wrong key for the claimed validator index must
	// be rejected, not silently pooled.
	badSig, err := anchorsig.SignInput(tx, 0, prev.TxOut[0].Value, redeem, priv2)
	require.NoError(t, err)
	badBody, _ := json.Marshal(map[string]interface{}{
		"raw_tx":          hex.EncodeToString(raw),
		"input_index":     0,
		"validator_index": 0,
		"signature":       hex.EncodeToString(badSig),
	})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-input", bytes.NewReader(badBody)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fundsBody, _ := json.Marshal(map[string]string{"raw_tx": hex.EncodeToString(raw)})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/add-funds", bytes.NewReader(fundsBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)
}
