package anchorsig

import (
	"testing"

	"github.com/certen/btc-anchoring/pkg/bitcoin"
	"github.com/stretchr/testify/require"
)

func TestFinalizeAssemblesWitnessStack(t *testing.T) {
	priv1, priv2, priv3 := testKey(t, 1), testKey(t, 2), testKey(t, 3)
	pubkeys := [][]byte{
		priv1.PubKey().SerializeCompressed(),
		priv2.PubKey().SerializeCompressed(),
		priv3.PubKey().SerializeCompressed(),
	}
	majority := bitcoin.MajorityCount(3)
	redeem, err := bitcoin.BuildRedeemScript(pubkeys, majority)
	require.NoError(t, err)
	tx := buildTestTx(t, redeem)

	sig1, err := SignInput(tx, 0, 10000, redeem, priv1)
	require.NoError(t, err)
	sig2, err := SignInput(tx, 0, 10000, redeem, priv2)
	require.NoError(t, err)

	finalized, err := Finalize(tx, redeem, majority, [][][]byte{{sig1, sig2}})
	require.NoError(t, err)

	witness := finalized.TxIn[0].Witness
	require.Len(t, witness, 1+majority+1)
	require.Empty(t, witness[0])
	require.Equal(t, sig1, []byte(witness[1]))
	require.Equal(t, sig2, []byte(witness[2]))
	require.Equal(t, redeem, []byte(witness[len(witness)-1]))

	// Original tx must be untouched (Finalize operates on a copy).
	require.Empty(t, tx.TxIn[0].Witness)
}

func TestFinalizeRejectsInsufficientSignatures(t *testing.T) {
	priv1 := testKey(t, 1)
	redeem, err := bitcoin.BuildRedeemScript([][]byte{priv1.PubKey().SerializeCompressed()}, 1)
	require.NoError(t, err)
	tx := buildTestTx(t, redeem)

	_, err = Finalize(tx, redeem, 2, [][][]byte{{}})
	require.ErrorIs(t, err, ErrInsufficientSignatures)
}

func TestFinalizeRejectsMismatchedInputCount(t *testing.T) {
	redeem, err := bitcoin.BuildRedeemScript([][]byte{testKey(t, 1).PubKey().SerializeCompressed()}, 1)
	require.NoError(t, err)
	tx := buildTestTx(t, redeem)

	_, err = Finalize(tx, redeem, 1, [][][]byte{})
	require.Error(t, err)
}
