// Transaction Repository - CRUD operations for the validated anchor chain

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TransactionRepository handles anchoring_transactions operations.
type TransactionRepository struct {
	client *Client
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(client *Client) *TransactionRepository {
	return &TransactionRepository{client: client}
}

// Upsert records tx at its chain index, overwriting any prior entry at
// that index, so recording the same entry again is harmless rather than
// an error.
func (r *TransactionRepository) Upsert(ctx context.Context, tx *NewAnchoringTransaction) error {
	query := `
		INSERT INTO anchoring_transactions (
			chain_index, txid, prev_txid, raw_tx, payload_height, payload_block_hash
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain_index) DO UPDATE SET
			txid = EXCLUDED.txid,
			prev_txid = EXCLUDED.prev_txid,
			raw_tx = EXCLUDED.raw_tx,
			payload_height = EXCLUDED.payload_height,
			payload_block_hash = EXCLUDED.payload_block_hash`

	_, err := r.client.ExecContext(ctx, query,
		tx.ChainIndex, tx.TxID, nullIfEmpty(tx.PrevTxID), tx.RawTx, tx.PayloadHeight, tx.PayloadBlockHash)
	if err != nil {
		return fmt.Errorf("failed to upsert anchoring transaction: %w", err)
	}
	return nil
}

// UpdateConfirmations records the current confirmation count for the
// transaction at chainIndex.
func (r *TransactionRepository) UpdateConfirmations(ctx context.Context, chainIndex int64, confirmations int) error {
	_, err := r.client.ExecContext(ctx,
		`UPDATE anchoring_transactions SET confirmations = $2 WHERE chain_index = $1`,
		chainIndex, confirmations)
	if err != nil {
		return fmt.Errorf("failed to update confirmations: %w", err)
	}
	return nil
}

// ByIndex retrieves the transaction at the given chain index, as served
// by `GET transaction?index=`.
func (r *TransactionRepository) ByIndex(ctx context.Context, chainIndex int64) (*AnchoringTransaction, error) {
	return r.scanOne(r.client.QueryRowContext(ctx, selectAnchoringTransaction+` WHERE chain_index = $1`, chainIndex))
}

// ByHeight retrieves the transaction whose payload references height, as
// served by `GET find-transaction?height=`.
func (r *TransactionRepository) ByHeight(ctx context.Context, height uint64) (*AnchoringTransaction, error) {
	return r.scanOne(r.client.QueryRowContext(ctx, selectAnchoringTransaction+` WHERE payload_height = $1`, height))
}

// Latest retrieves the highest-indexed chain entry, i.e. the current tip.
func (r *TransactionRepository) Latest(ctx context.Context) (*AnchoringTransaction, error) {
	return r.scanOne(r.client.QueryRowContext(ctx, selectAnchoringTransaction+` ORDER BY chain_index DESC LIMIT 1`))
}

// Count returns the number of recorded chain entries, as served by
// `GET transactions-count`.
func (r *TransactionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM anchoring_transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count anchoring transactions: %w", err)
	}
	return count, nil
}

const selectAnchoringTransaction = `
	SELECT chain_index, txid, COALESCE(prev_txid, ''), raw_tx, payload_height, payload_block_hash, confirmations, recorded_at
	FROM anchoring_transactions`

func (r *TransactionRepository) scanOne(row *sql.Row) (*AnchoringTransaction, error) {
	tx := &AnchoringTransaction{}
	err := row.Scan(&tx.ChainIndex, &tx.TxID, &tx.PrevTxID, &tx.RawTx, &tx.PayloadHeight, &tx.PayloadBlockHash, &tx.Confirmations, &tx.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan anchoring transaction: %w", err)
	}
	return tx, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
