package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RuleRepository handles contract_execution_rules CRUD (C2).
type RuleRepository struct {
	client *Client
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(client *Client) *RuleRepository {
	return &RuleRepository{client: client}
}

const ruleColumns = `id, user_id, contract_id, rule_name, rule_type, center_lat, center_lng,
	radius_meters, geofence_id, function_name, function_parameters, trigger_on, auto_execute,
	requires_confirmation, target_wallet_public_key, required_wallet_public_keys,
	minimum_wallet_count, quorum_type, max_executions_per_public_key, execution_time_window_seconds,
	min_location_duration_seconds, auto_deactivate_on_balance, balance_threshold_xlm,
	balance_check_asset_address, use_smart_wallet_balance, submit_readonly_to_ledger, is_active,
	created_at, updated_at`

func scanRule(row interface{ Scan(dest ...interface{}) error }) (*ExecutionRule, error) {
	r := &ExecutionRule{}
	err := row.Scan(
		&r.ID, &r.UserID, &r.ContractID, &r.RuleName, &r.RuleType, &r.CenterLat, &r.CenterLng,
		&r.RadiusMeters, &r.GeofenceID, &r.FunctionName, &r.FunctionParameters, &r.TriggerOn, &r.AutoExecute,
		&r.RequiresConfirmation, &r.TargetWalletPublicKey, &r.RequiredWalletPublicKeys,
		&r.MinimumWalletCount, &r.QuorumType, &r.MaxExecutionsPerPublicKey, &r.ExecutionTimeWindowSeconds,
		&r.MinLocationDurationSeconds, &r.AutoDeactivateOnBalance, &r.BalanceThresholdXLM,
		&r.BalanceCheckAssetAddress, &r.UseSmartWalletBalance, &r.SubmitReadonlyToLedger, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create inserts a new rule.
func (rr *RuleRepository) Create(ctx context.Context, r *ExecutionRule) (*ExecutionRule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if len(r.FunctionParameters) == 0 {
		r.FunctionParameters = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO contract_execution_rules (
			id, user_id, contract_id, rule_name, rule_type, center_lat, center_lng, radius_meters,
			geofence_id, function_name, function_parameters, trigger_on, auto_execute, requires_confirmation,
			target_wallet_public_key, required_wallet_public_keys, minimum_wallet_count, quorum_type,
			max_executions_per_public_key, execution_time_window_seconds, min_location_duration_seconds,
			auto_deactivate_on_balance, balance_threshold_xlm, balance_check_asset_address,
			use_smart_wallet_balance, submit_readonly_to_ledger, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
		RETURNING ` + ruleColumns

	row := rr.client.QueryRowContext(ctx, query,
		r.ID, r.UserID, r.ContractID, r.RuleName, r.RuleType, r.CenterLat, r.CenterLng, r.RadiusMeters,
		r.GeofenceID, r.FunctionName, r.FunctionParameters, r.TriggerOn, r.AutoExecute, r.RequiresConfirmation,
		r.TargetWalletPublicKey, r.RequiredWalletPublicKeys, r.MinimumWalletCount, r.QuorumType,
		r.MaxExecutionsPerPublicKey, r.ExecutionTimeWindowSeconds, r.MinLocationDurationSeconds,
		r.AutoDeactivateOnBalance, r.BalanceThresholdXLM, r.BalanceCheckAssetAddress,
		r.UseSmartWalletBalance, r.SubmitReadonlyToLedger, r.IsActive,
	)
	result, err := scanRule(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return result, nil
}

// Get retrieves a rule by ID.
func (rr *RuleRepository) Get(ctx context.Context, id string) (*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM contract_execution_rules WHERE id = $1`
	result, err := scanRule(rr.client.QueryRowContext(ctx, query, id))
	if err != nil && err != ErrRuleNotFound {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return result, err
}

// ListMine lists all rules owned by a user.
func (rr *RuleRepository) ListMine(ctx context.Context, userID string) ([]*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM contract_execution_rules WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := rr.client.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

// ListPublicActive lists all active rules.
func (rr *RuleRepository) ListPublicActive(ctx context.Context) ([]*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM contract_execution_rules WHERE is_active = true ORDER BY created_at DESC`
	rows, err := rr.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list public rules: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

// ListActiveByType lists active rules of a given geometry kind, for the
// Location Matcher (C3).
func (rr *RuleRepository) ListActiveByType(ctx context.Context, ruleType RuleType) ([]*ExecutionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM contract_execution_rules
		WHERE is_active = true AND rule_type = $1`
	rows, err := rr.client.QueryContext(ctx, query, ruleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules by type: %w", err)
	}
	defer rows.Close()
	return scanRuleRows(rows)
}

func scanRuleRows(rows *sql.Rows) ([]*ExecutionRule, error) {
	var out []*ExecutionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update applies a partial update; only non-nil fields in patch overwrite.
// Callers build patch from request-supplied fields only (spec.md §4.2: only
// provided fields overwritten).
type RulePatch struct {
	RuleName                   *string
	AutoExecute                *bool
	RequiresConfirmation       *bool
	MaxExecutionsPerPublicKey  *int64
	ExecutionTimeWindowSeconds *int64
	IsActive                   *bool
	QuorumType                 *QuorumType
	MinimumWalletCount         *int64
}

// Update applies a partial patch to a rule.
func (rr *RuleRepository) Update(ctx context.Context, id string, patch RulePatch) (*ExecutionRule, error) {
	existing, err := rr.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.RuleName != nil {
		existing.RuleName = *patch.RuleName
	}
	if patch.AutoExecute != nil {
		existing.AutoExecute = *patch.AutoExecute
	}
	if patch.RequiresConfirmation != nil {
		existing.RequiresConfirmation = *patch.RequiresConfirmation
	}
	if patch.MaxExecutionsPerPublicKey != nil {
		existing.MaxExecutionsPerPublicKey = sql.NullInt64{Int64: *patch.MaxExecutionsPerPublicKey, Valid: true}
	}
	if patch.ExecutionTimeWindowSeconds != nil {
		existing.ExecutionTimeWindowSeconds = sql.NullInt64{Int64: *patch.ExecutionTimeWindowSeconds, Valid: true}
	}
	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
	}
	if patch.QuorumType != nil {
		existing.QuorumType = *patch.QuorumType
	}
	if patch.MinimumWalletCount != nil {
		existing.MinimumWalletCount = sql.NullInt64{Int64: *patch.MinimumWalletCount, Valid: true}
	}

	query := `
		UPDATE contract_execution_rules SET
			rule_name = $1, auto_execute = $2, requires_confirmation = $3,
			max_executions_per_public_key = $4, execution_time_window_seconds = $5,
			is_active = $6, quorum_type = $7, minimum_wallet_count = $8, updated_at = now()
		WHERE id = $9
		RETURNING ` + ruleColumns

	row := rr.client.QueryRowContext(ctx, query,
		existing.RuleName, existing.AutoExecute, existing.RequiresConfirmation,
		existing.MaxExecutionsPerPublicKey, existing.ExecutionTimeWindowSeconds,
		existing.IsActive, existing.QuorumType, existing.MinimumWalletCount, id,
	)
	return scanRule(row)
}

// Delete hard-deletes a rule (spec.md §4.2: delete is a hard delete).
func (rr *RuleRepository) Delete(ctx context.Context, id string) error {
	res, err := rr.client.ExecContext(ctx, `DELETE FROM contract_execution_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Deactivate is used by the auto-deactivate-on-balance-threshold path.
func (rr *RuleRepository) Deactivate(ctx context.Context, id string) error {
	_, err := rr.client.ExecContext(ctx, `UPDATE contract_execution_rules SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	return nil
}

// GeofenceRepository handles geofences CRUD, used by geofence-type rules.
type GeofenceRepository struct {
	client *Client
}

// NewGeofenceRepository creates a new geofence repository.
func NewGeofenceRepository(client *Client) *GeofenceRepository {
	return &GeofenceRepository{client: client}
}

// Get retrieves a geofence by ID.
func (gr *GeofenceRepository) Get(ctx context.Context, id string) (*Geofence, error) {
	query := `SELECT id, user_id, name, vertices, created_at FROM geofences WHERE id = $1`
	g := &Geofence{}
	err := gr.client.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.UserID, &g.Name, &g.VerticesRaw, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geofence: %w", err)
	}
	return g, nil
}

// Create inserts a new geofence.
func (gr *GeofenceRepository) Create(ctx context.Context, g *Geofence) (*Geofence, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	query := `INSERT INTO geofences (id, user_id, name, vertices) VALUES ($1,$2,$3,$4)
		RETURNING id, user_id, name, vertices, created_at`
	out := &Geofence{}
	err := gr.client.QueryRowContext(ctx, query, g.ID, g.UserID, g.Name, g.VerticesRaw).
		Scan(&out.ID, &out.UserID, &out.Name, &out.VerticesRaw, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create geofence: %w", err)
	}
	return out, nil
}
