// Config Repository - CRUD operations for anchoring config history

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfigRepository handles config_history operations.
type ConfigRepository struct {
	client *Client
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(client *Client) *ConfigRepository {
	return &ConfigRepository{client: client}
}

// Insert records a newly-activated config. Config history is append-only
// (spec: a committed AnchoringConfig is never mutated), so a conflict on
// actual_from is left as an error rather than silently upserted.
func (r *ConfigRepository) Insert(ctx context.Context, entry *NewConfigHistoryEntry) error {
	query := `
		INSERT INTO config_history (
			actual_from, network, anchoring_interval, fee_per_byte, utxo_confirmations, anchoring_keys, funding_tx
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.client.ExecContext(ctx, query,
		entry.ActualFrom, entry.Network, entry.AnchoringInterval, entry.FeePerByte,
		entry.UTXOConfirmations, entry.AnchoringKeys, entry.FundingTx)
	if err != nil {
		return fmt.Errorf("failed to insert config history entry: %w", err)
	}
	return nil
}

// Actual returns the config active at host height, i.e. the entry with
// the largest actual_from <= height, as served by `GET config` and
// `GET address/actual`.
func (r *ConfigRepository) Actual(ctx context.Context, height uint64) (*ConfigHistoryEntry, error) {
	return r.scanOne(r.client.QueryRowContext(ctx,
		selectConfigHistory+` WHERE actual_from <= $1 ORDER BY actual_from DESC LIMIT 1`, height))
}

// Following returns the config that will activate after the one active at
// height, if any, as served by `GET address/following`.
func (r *ConfigRepository) Following(ctx context.Context, height uint64) (*ConfigHistoryEntry, error) {
	return r.scanOne(r.client.QueryRowContext(ctx,
		selectConfigHistory+` WHERE actual_from > $1 ORDER BY actual_from ASC LIMIT 1`, height))
}

const selectConfigHistory = `
	SELECT actual_from, network, anchoring_interval, fee_per_byte, utxo_confirmations, anchoring_keys, funding_tx, recorded_at
	FROM config_history`

func (r *ConfigRepository) scanOne(row *sql.Row) (*ConfigHistoryEntry, error) {
	entry := &ConfigHistoryEntry{}
	err := row.Scan(&entry.ActualFrom, &entry.Network, &entry.AnchoringInterval, &entry.FeePerByte,
		&entry.UTXOConfirmations, &entry.AnchoringKeys, &entry.FundingTx, &entry.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan config history entry: %w", err)
	}
	return entry, nil
}
