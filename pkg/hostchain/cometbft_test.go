package hostchain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/btc-anchoring/pkg/hostchain"
)

func TestCometClientBlockHashUnknownBeforeRefresh(t *testing.T) {
	client, err := hostchain.NewCometClient("http://127.0.0.1:26657", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), client.Height())

	_, ok := client.BlockHash(0)
	require.False(t, ok)
}

func TestCometClientBroadcastRequiresSigner(t *testing.T) {
	client, err := hostchain.NewCometClient("http://127.0.0.1:26657", nil)
	require.NoError(t, err)

	err = client.Broadcast(context.Background(), hostchain.MsgAnchoringUpdateLatest{ValidatorIdx: 1})
	require.Error(t, err)
}
