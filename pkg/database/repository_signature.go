// Signature Repository - CRUD operations for pooled anchoring signatures

package database

import (
	"context"
	"fmt"
)

// SignatureRepository handles validator_signatures operations.
type SignatureRepository struct {
	client *Client
}

// NewSignatureRepository creates a new signature repository.
func NewSignatureRepository(client *Client) *SignatureRepository {
	return &SignatureRepository{client: client}
}

// Insert records one validator's signature over one input. Duplicate
// (txid, input_index, validator_index) submissions are ignored, mirroring
// pkg/ledger's AddSignature idempotence under repeated MsgAnchoringSignature
// delivery.
func (r *SignatureRepository) Insert(ctx context.Context, sig *NewValidatorSignature) error {
	query := `
		INSERT INTO validator_signatures (txid, input_index, validator_index, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (txid, input_index, validator_index) DO NOTHING`

	_, err := r.client.ExecContext(ctx, query, sig.TxID, sig.InputIndex, sig.ValidatorIndex, sig.Signature)
	if err != nil {
		return fmt.Errorf("failed to insert validator signature: %w", err)
	}
	return nil
}

// ForTx returns every pooled signature over txid, across all inputs and
// validators, ordered for deterministic presentation.
func (r *SignatureRepository) ForTx(ctx context.Context, txid string) ([]*ValidatorSignature, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, txid, input_index, validator_index, signature, recorded_at
		FROM validator_signatures
		WHERE txid = $1
		ORDER BY input_index, validator_index`, txid)
	if err != nil {
		return nil, fmt.Errorf("failed to query signatures for tx: %w", err)
	}
	defer rows.Close()

	var sigs []*ValidatorSignature
	for rows.Next() {
		sig := &ValidatorSignature{}
		if err := rows.Scan(&sig.ID, &sig.TxID, &sig.InputIndex, &sig.ValidatorIndex, &sig.Signature, &sig.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validator signature: %w", err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}
