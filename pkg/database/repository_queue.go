package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QueueRepository handles location_update_queue CRUD and the transactional
// completion/rejection mutations over its execution_results column (C4, C7).
type QueueRepository struct {
	client *Client
}

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(client *Client) *QueueRepository {
	return &QueueRepository{client: client}
}

const queueColumns = `id, user_id, public_key, lat, lng, received_at, processed_at, status,
	matched_rule_ids, execution_results`

func scanQueueRow(row interface{ Scan(dest ...interface{}) error }) (*LocationUpdate, error) {
	u := &LocationUpdate{}
	err := row.Scan(&u.ID, &u.UserID, &u.PublicKey, &u.Lat, &u.Lng, &u.ReceivedAt, &u.ProcessedAt,
		&u.Status, &u.MatchedRuleIDsRaw, &u.ExecutionResultsRaw)
	if err == sql.ErrNoRows {
		return nil, ErrLocationUpdateNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Insert creates a new LocationUpdate row with matchedRuleIds and an
// ExecutionResult slice of the same length.
func (qr *QueueRepository) Insert(ctx context.Context, u *LocationUpdate) (*LocationUpdate, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	query := `
		INSERT INTO location_update_queue (
			id, user_id, public_key, lat, lng, status, matched_rule_ids, execution_results
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING ` + queueColumns

	row := qr.client.QueryRowContext(ctx, query,
		u.ID, u.UserID, u.PublicKey, u.Lat, u.Lng, u.Status, u.MatchedRuleIDsRaw, u.ExecutionResultsRaw,
	)
	result, err := scanQueueRow(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert location update: %w", err)
	}
	return result, nil
}

// Get retrieves a queue row by ID.
func (qr *QueueRepository) Get(ctx context.Context, id string) (*LocationUpdate, error) {
	query := `SELECT ` + queueColumns + ` FROM location_update_queue WHERE id = $1`
	result, err := scanQueueRow(qr.client.QueryRowContext(ctx, query, id))
	if err != nil && err != ErrLocationUpdateNotFound {
		return nil, fmt.Errorf("failed to get location update: %w", err)
	}
	return result, err
}

// UpdateResults rewrites a row's status/processed_at/execution_results.
func (qr *QueueRepository) UpdateResults(ctx context.Context, id string, status QueueStatus, setProcessed bool, results []ExecutionResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}
	var query string
	var args []interface{}
	if setProcessed {
		query = `UPDATE location_update_queue SET status = $1, execution_results = $2, processed_at = now() WHERE id = $3`
		args = []interface{}{status, raw, id}
	} else {
		query = `UPDATE location_update_queue SET status = $1, execution_results = $2 WHERE id = $3`
		args = []interface{}{status, raw, id}
	}
	_, err = qr.client.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update location update: %w", err)
	}
	return nil
}

// RecentForActor returns queue rows for (userId OR publicKey), most recent
// first, used by pending/completed/rejected projections (C8) and by C7's
// fallback/cleanup lookups.
func (qr *QueueRepository) RecentForActor(ctx context.Context, userID string, publicKey *string, limit int) ([]*LocationUpdate, error) {
	query := `SELECT ` + queueColumns + ` FROM location_update_queue
		WHERE user_id = $1 OR ($2::text IS NOT NULL AND public_key = $2)
		ORDER BY received_at DESC
		LIMIT $3`
	rows, err := qr.client.QueryContext(ctx, query, userID, publicKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue rows for actor: %w", err)
	}
	defer rows.Close()

	var out []*LocationUpdate
	for rows.Next() {
		u, err := scanQueueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LatestByPublicKey returns the most recent queue row reported under
// publicKey across every user, used by the quorum oracle to evaluate whether
// a required wallet is currently within a rule's geometry (spec.md §4.2).
func (qr *QueueRepository) LatestByPublicKey(ctx context.Context, publicKey string) (*LocationUpdate, error) {
	query := `SELECT ` + queueColumns + ` FROM location_update_queue
		WHERE public_key = $1
		ORDER BY received_at DESC
		LIMIT 1`
	result, err := scanQueueRow(qr.client.QueryRowContext(ctx, query, publicKey))
	if err != nil && err != ErrLocationUpdateNotFound {
		return nil, fmt.Errorf("failed to get latest location for public key: %w", err)
	}
	return result, err
}

// CandidatesForCleanup returns rows received at-or-before target's
// received_at, for the same (userId, publicKey), whose matched_rule_ids
// contains ruleID, excluding the target itself — the candidate set for C7
// step 6's deletion guard (spec.md §4.7 step 6).
func (qr *QueueRepository) CandidatesForCleanup(ctx context.Context, userID, publicKey, ruleID, targetID string, receivedAtCutoff interface{}) ([]*LocationUpdate, error) {
	ruleIDFilter, err := json.Marshal([]string{ruleID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule id filter: %w", err)
	}
	query := `SELECT ` + queueColumns + ` FROM location_update_queue
		WHERE user_id = $1 AND public_key = $2 AND id != $3 AND received_at <= $4 AND matched_rule_ids @> $5::jsonb
		ORDER BY received_at ASC`
	rows, err := qr.client.QueryContext(ctx, query, userID, publicKey, targetID, receivedAtCutoff, ruleIDFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleanup candidates: %w", err)
	}
	defer rows.Close()

	var out []*LocationUpdate
	for rows.Next() {
		u, err := scanQueueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Delete hard-deletes a queue row (used only by C7's cleanup step, which has
// already verified the row carries no completed result).
func (qr *QueueRepository) Delete(ctx context.Context, id string) error {
	_, err := qr.client.ExecContext(ctx, `DELETE FROM location_update_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue row: %w", err)
	}
	return nil
}

// LockForUpdate loads a row within tx with SELECT ... FOR UPDATE, giving C7
// exclusive access to it for the duration of the transaction (spec.md §5).
func (qr *QueueRepository) LockForUpdate(ctx context.Context, tx *Tx, id string) (*LocationUpdate, error) {
	query := `SELECT ` + queueColumns + ` FROM location_update_queue WHERE id = $1 FOR UPDATE`
	row := tx.Tx().QueryRowContext(ctx, query, id)
	return scanQueueRow(row)
}

// LockCandidatesForUpdate loads the cleanup candidate set within tx, each
// row locked FOR UPDATE so a concurrent completion cannot race the delete.
// Candidates are scoped to the same (userId, publicKey, ruleId) as target and
// received at-or-before it (spec.md §4.7 step 6).
func (qr *QueueRepository) LockCandidatesForUpdate(ctx context.Context, tx *Tx, userID, publicKey, ruleID, targetID string, receivedAtCutoff interface{}) ([]*LocationUpdate, error) {
	ruleIDFilter, err := json.Marshal([]string{ruleID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule id filter: %w", err)
	}
	query := `SELECT ` + queueColumns + ` FROM location_update_queue
		WHERE user_id = $1 AND public_key = $2 AND id != $3 AND received_at <= $4 AND matched_rule_ids @> $5::jsonb
		ORDER BY received_at ASC
		FOR UPDATE`
	rows, err := tx.Tx().QueryContext(ctx, query, userID, publicKey, targetID, receivedAtCutoff, ruleIDFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cleanup candidates: %w", err)
	}
	defer rows.Close()

	var out []*LocationUpdate
	for rows.Next() {
		u, err := scanQueueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked queue row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateResultsTx is UpdateResults run against an in-flight transaction.
func (qr *QueueRepository) UpdateResultsTx(ctx context.Context, tx *Tx, id string, status QueueStatus, setProcessed bool, results []ExecutionResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal execution results: %w", err)
	}
	var query string
	if setProcessed {
		query = `UPDATE location_update_queue SET status = $1, execution_results = $2, processed_at = now() WHERE id = $3`
	} else {
		query = `UPDATE location_update_queue SET status = $1, execution_results = $2 WHERE id = $3`
	}
	_, err = tx.Tx().ExecContext(ctx, query, status, raw, id)
	if err != nil {
		return fmt.Errorf("failed to update location update in tx: %w", err)
	}
	return nil
}

// DeleteTx is Delete run against an in-flight transaction.
func (qr *QueueRepository) DeleteTx(ctx context.Context, tx *Tx, id string) error {
	_, err := tx.Tx().ExecContext(ctx, `DELETE FROM location_update_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue row in tx: %w", err)
	}
	return nil
}

// HistoryRepository is the append-only rate-limit ledger.
type HistoryRepository struct {
	client *Client
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(client *Client) *HistoryRepository {
	return &HistoryRepository{client: client}
}

// Append records a rule execution for rate-limit accounting.
func (hr *HistoryRepository) Append(ctx context.Context, ruleID, publicKey, txHash string, summary map[string]interface{}) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal result summary: %w", err)
	}
	_, err = hr.client.ExecContext(ctx,
		`INSERT INTO rule_execution_history (rule_id, public_key, transaction_hash, result_summary) VALUES ($1,$2,$3,$4)`,
		ruleID, publicKey, sql.NullString{String: txHash, Valid: txHash != ""}, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to append rule execution history: %w", err)
	}
	return nil
}

// AppendTx is Append run against an in-flight transaction.
func (hr *HistoryRepository) AppendTx(ctx context.Context, tx *Tx, ruleID, publicKey, txHash string, summary map[string]interface{}) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal result summary: %w", err)
	}
	_, err = tx.Tx().ExecContext(ctx,
		`INSERT INTO rule_execution_history (rule_id, public_key, transaction_hash, result_summary) VALUES ($1,$2,$3,$4)`,
		ruleID, publicKey, sql.NullString{String: txHash, Valid: txHash != ""}, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to append rule execution history in tx: %w", err)
	}
	return nil
}

// CountInWindow counts executions for (ruleId, publicKey) within the last
// windowSeconds, for the rate-limit check in C5.
func (hr *HistoryRepository) CountInWindow(ctx context.Context, ruleID, publicKey string, windowSeconds int) (int, error) {
	var count int
	err := hr.client.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rule_execution_history
			WHERE rule_id = $1 AND public_key = $2 AND at >= now() - ($3 || ' seconds')::interval`,
		ruleID, publicKey, windowSeconds,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rule execution history: %w", err)
	}
	return count, nil
}

// PasskeyRepository caches the on-chain (address → passkey) relationship.
type PasskeyRepository struct {
	client *Client
}

// NewPasskeyRepository creates a new passkey repository.
func NewPasskeyRepository(client *Client) *PasskeyRepository {
	return &PasskeyRepository{client: client}
}

// Upsert records (or re-registers) a signer's passkey.
func (pr *PasskeyRepository) Upsert(ctx context.Context, p *UserPasskey) error {
	_, err := pr.client.ExecContext(ctx, `
		INSERT INTO user_passkeys (user_id, public_key, signer_address, spki_hex)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (signer_address) DO UPDATE SET
			user_id = EXCLUDED.user_id, public_key = EXCLUDED.public_key,
			spki_hex = EXCLUDED.spki_hex, registered_at = now()`,
		p.UserID, p.PublicKey, p.SignerAddress, p.SPKIHex,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert passkey: %w", err)
	}
	return nil
}

// GetBySignerAddress retrieves the cached passkey for a signer address.
func (pr *PasskeyRepository) GetBySignerAddress(ctx context.Context, signerAddress string) (*UserPasskey, error) {
	p := &UserPasskey{}
	err := pr.client.QueryRowContext(ctx,
		`SELECT user_id, public_key, signer_address, spki_hex, registered_at FROM user_passkeys WHERE signer_address = $1`,
		signerAddress,
	).Scan(&p.UserID, &p.PublicKey, &p.SignerAddress, &p.SPKIHex, &p.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get passkey: %w", err)
	}
	return p, nil
}
