// Integration tests for the read-model repositories. Requires a live
// Postgres instance migrated with migrations/001_read_model.sql; set
// ANCHORING_TEST_DB to a postgres:// connection string to run them, or
// they're skipped.

package database

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/stretchr/testify/require"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("ANCHORING_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	if testDB == nil {
		t.Skip("ANCHORING_TEST_DB not configured")
	}
	for _, table := range []string{"validator_signatures", "config_history", "anchoring_transactions"} {
		_, err := testDB.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	return &Client{db: testDB}
}

func TestTransactionRepositoryUpsertAndLookup(t *testing.T) {
	client := newTestClient(t)
	repo := NewTransactionRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &NewAnchoringTransaction{
		ChainIndex:       0,
		TxID:             "aa",
		RawTx:            []byte{0x01},
		PayloadHeight:    100,
		PayloadBlockHash: "blockhash100",
	}))
	require.NoError(t, repo.Upsert(ctx, &NewAnchoringTransaction{
		ChainIndex:       1,
		TxID:             "bb",
		PrevTxID:         "aa",
		RawTx:            []byte{0x02},
		PayloadHeight:    200,
		PayloadBlockHash: "blockhash200",
	}))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	byIndex, err := repo.ByIndex(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "bb", byIndex.TxID)
	require.Equal(t, "aa", byIndex.PrevTxID)

	byHeight, err := repo.ByHeight(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "aa", byHeight.TxID)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "bb", latest.TxID)

	_, err = repo.ByIndex(ctx, 99)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestConfigRepositoryActualAndFollowing(t *testing.T) {
	client := newTestClient(t)
	repo := NewConfigRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &NewConfigHistoryEntry{
		ActualFrom:        0,
		Network:           "regtest",
		AnchoringInterval: 1000,
		FeePerByte:        1,
		UTXOConfirmations: 6,
		AnchoringKeys:     []byte(`[]`),
	}))
	require.NoError(t, repo.Insert(ctx, &NewConfigHistoryEntry{
		ActualFrom:        5000,
		Network:           "regtest",
		AnchoringInterval: 2000,
		FeePerByte:        2,
		UTXOConfirmations: 6,
		AnchoringKeys:     []byte(`[]`),
	}))

	actual, err := repo.Actual(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), actual.ActualFrom)

	following, err := repo.Following(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), following.ActualFrom)

	_, err = repo.Following(ctx, 5000)
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestSignatureRepositoryInsertIsIdempotent(t *testing.T) {
	client := newTestClient(t)
	repo := NewSignatureRepository(client)
	ctx := context.Background()

	sig := &NewValidatorSignature{TxID: "aa", InputIndex: 0, ValidatorIndex: 2, Signature: []byte{0xAB}}
	require.NoError(t, repo.Insert(ctx, sig))
	require.NoError(t, repo.Insert(ctx, sig)) // duplicate, should be ignored

	sigs, err := repo.ForTx(ctx, "aa")
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.Equal(t, 2, sigs[0].ValidatorIndex)
}
