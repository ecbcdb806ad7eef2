package bitcoin

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: mustHash(t, 0xaa), Index: 0},
		Witness:          wire.TxWitness{[]byte{}, []byte("sig"), []byte("redeem")},
	})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x00}})

	raw, err := SerializeTx(tx)
	require.NoError(t, err)

	got, err := DeserializeTx(raw)
	require.NoError(t, err)
	require.Equal(t, TxID(tx), TxID(got))

	rawAgain, err := SerializeTx(got)
	require.NoError(t, err)
	require.Equal(t, raw, rawAgain)
}

func TestDeserializeTxRejectsGarbage(t *testing.T) {
	_, err := DeserializeTx([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestOutPointString(t *testing.T) {
	op := wire.OutPoint{Hash: mustHash(t, 0x01), Index: 2}
	s := OutPointString(op)
	require.Contains(t, s, ":2")
	require.Equal(t, chainhash.Hash(mustHash(t, 0x01)), op.Hash)
}
