package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ContractRepository handles custom_contracts CRUD (C1).
type ContractRepository struct {
	client *Client
}

// NewContractRepository creates a new contract repository.
func NewContractRepository(client *Client) *ContractRepository {
	return &ContractRepository{client: client}
}

const contractColumns = `id, user_id, address, network, discovered_functions, function_mappings,
	use_smart_wallet, smart_wallet_contract_id, payment_function_name, requires_webauthn,
	webauthn_verifier_contract_id, wasm_meta, is_active, created_at, updated_at`

func scanContract(row interface {
	Scan(dest ...interface{}) error
}) (*CustomContract, error) {
	c := &CustomContract{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Address, &c.Network, &c.DiscoveredFunctions, &c.FunctionMappings,
		&c.UseSmartWallet, &c.SmartWalletContractID, &c.PaymentFunctionName, &c.RequiresWebauthn,
		&c.WebauthnVerifierContractID, &c.WasmMetaRaw, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Upsert creates or updates a contract keyed by (userId, address).
func (r *ContractRepository) Upsert(ctx context.Context, c *CustomContract) (*CustomContract, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if len(c.DiscoveredFunctions) == 0 {
		c.DiscoveredFunctions = json.RawMessage(`{}`)
	}
	if len(c.FunctionMappings) == 0 {
		c.FunctionMappings = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO custom_contracts (
			id, user_id, address, network, discovered_functions, function_mappings,
			use_smart_wallet, smart_wallet_contract_id, payment_function_name, requires_webauthn,
			webauthn_verifier_contract_id, wasm_meta, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (user_id, address) DO UPDATE SET
			network = EXCLUDED.network,
			discovered_functions = EXCLUDED.discovered_functions,
			function_mappings = EXCLUDED.function_mappings,
			use_smart_wallet = EXCLUDED.use_smart_wallet,
			smart_wallet_contract_id = EXCLUDED.smart_wallet_contract_id,
			payment_function_name = EXCLUDED.payment_function_name,
			requires_webauthn = EXCLUDED.requires_webauthn,
			webauthn_verifier_contract_id = EXCLUDED.webauthn_verifier_contract_id,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING ` + contractColumns

	row := r.client.QueryRowContext(ctx, query,
		c.ID, c.UserID, c.Address, c.Network, c.DiscoveredFunctions, c.FunctionMappings,
		c.UseSmartWallet, c.SmartWalletContractID, c.PaymentFunctionName, c.RequiresWebauthn,
		c.WebauthnVerifierContractID, c.WasmMetaRaw, c.IsActive,
	)

	result, err := scanContract(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contract: %w", err)
	}
	return result, nil
}

// Get retrieves a contract by ID.
func (r *ContractRepository) Get(ctx context.Context, id string) (*CustomContract, error) {
	query := `SELECT ` + contractColumns + ` FROM custom_contracts WHERE id = $1`
	result, err := scanContract(r.client.QueryRowContext(ctx, query, id))
	if err != nil && err != ErrContractNotFound {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return result, err
}

// ListMine lists all contracts owned by a user.
func (r *ContractRepository) ListMine(ctx context.Context, userID string) ([]*CustomContract, error) {
	query := `SELECT ` + contractColumns + ` FROM custom_contracts WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.client.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()
	return scanContractRows(rows)
}

// ListPublicActive lists all active contracts regardless of owner.
func (r *ContractRepository) ListPublicActive(ctx context.Context) ([]*CustomContract, error) {
	query := `SELECT ` + contractColumns + ` FROM custom_contracts WHERE is_active = true ORDER BY created_at DESC`
	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list public contracts: %w", err)
	}
	defer rows.Close()
	return scanContractRows(rows)
}

func scanContractRows(rows *sql.Rows) ([]*CustomContract, error) {
	var out []*CustomContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Deactivate soft-deletes a contract.
func (r *ContractRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.client.ExecContext(ctx, `UPDATE custom_contracts SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate contract: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContractNotFound
	}
	return nil
}

// UpdateMappings overwrites a contract's function_mappings column.
func (r *ContractRepository) UpdateMappings(ctx context.Context, id string, mappings map[string]Mapping) error {
	raw, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}
	res, err := r.client.ExecContext(ctx, `UPDATE custom_contracts SET function_mappings = $1, updated_at = now() WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("failed to update mappings: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContractNotFound
	}
	return nil
}

// UpdateWasmMeta overwrites a contract's wasm_meta column.
func (r *ContractRepository) UpdateWasmMeta(ctx context.Context, id string, meta *WasmMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal wasm meta: %w", err)
	}
	res, err := r.client.ExecContext(ctx, `UPDATE custom_contracts SET wasm_meta = $1, updated_at = now() WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("failed to update wasm meta: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContractNotFound
	}
	return nil
}

// UpdateDiscoveredFunctions persists a freshly discovered function set.
func (r *ContractRepository) UpdateDiscoveredFunctions(ctx context.Context, id string, funcs map[string]FunctionSig) error {
	raw, err := json.Marshal(funcs)
	if err != nil {
		return fmt.Errorf("failed to marshal discovered functions: %w", err)
	}
	res, err := r.client.ExecContext(ctx, `UPDATE custom_contracts SET discovered_functions = $1, updated_at = now() WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("failed to update discovered functions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContractNotFound
	}
	return nil
}
