// Database types map directly to the PostgreSQL schema defined under
// migrations/. Each row type carries db-facing sql.Null* fields alongside
// Get*() deserializers for its JSONB columns.
package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ============================================================================
// CONTRACT REGISTRY TYPES (C1)
// ============================================================================

// Network is the Stellar/Soroban network a contract is deployed to.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// ParameterSpec describes one parameter of a discovered contract function.
type ParameterSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FunctionSig is a discovered on-chain function signature.
type FunctionSig struct {
	Name       string          `json:"name"`
	Parameters []ParameterSpec `json:"parameters"`
	ReturnType string          `json:"returnType"`
}

// MappedParameter extends ParameterSpec with an inferred source.
type MappedParameter struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	MappedFrom string `json:"mappedFrom"`
}

// Mapping is the inferred/curated execution mapping for one function.
type Mapping struct {
	Parameters           []MappedParameter `json:"parameters"`
	ReturnType           string            `json:"returnType"`
	AutoExecute          bool              `json:"autoExecute"`
	RequiresConfirmation bool              `json:"requiresConfirmation"`
}

// WasmMeta records the metadata of an uploaded WASM module.
type WasmMeta struct {
	SHA256       string    `json:"sha256"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Verified     bool      `json:"verified"`
	ChainHashHex string    `json:"chainHashHex,omitempty"`
}

// CustomContract is a row of custom_contracts.
type CustomContract struct {
	ID                         string          `db:"id" json:"id"`
	UserID                     string          `db:"user_id" json:"userId"`
	Address                    string          `db:"address" json:"address"`
	Network                    Network         `db:"network" json:"network"`
	DiscoveredFunctions        json.RawMessage `db:"discovered_functions" json:"discoveredFunctions"`
	FunctionMappings           json.RawMessage `db:"function_mappings" json:"functionMappings"`
	UseSmartWallet             bool            `db:"use_smart_wallet" json:"useSmartWallet"`
	SmartWalletContractID      sql.NullString  `db:"smart_wallet_contract_id" json:"smartWalletContractId,omitempty"`
	PaymentFunctionName        sql.NullString  `db:"payment_function_name" json:"paymentFunctionName,omitempty"`
	RequiresWebauthn           bool            `db:"requires_webauthn" json:"requiresWebauthn"`
	WebauthnVerifierContractID sql.NullString  `db:"webauthn_verifier_contract_id" json:"webauthnVerifierContractId,omitempty"`
	WasmMetaRaw                json.RawMessage `db:"wasm_meta" json:"wasmMeta,omitempty"`
	IsActive                   bool            `db:"is_active" json:"isActive"`
	CreatedAt                  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt                  time.Time       `db:"updated_at" json:"updatedAt"`
}

// GetDiscoveredFunctions deserializes the name→FunctionSig map.
func (c *CustomContract) GetDiscoveredFunctions() (map[string]FunctionSig, error) {
	out := map[string]FunctionSig{}
	if len(c.DiscoveredFunctions) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(c.DiscoveredFunctions, &out)
}

// GetFunctionMappings deserializes the name→Mapping map.
func (c *CustomContract) GetFunctionMappings() (map[string]Mapping, error) {
	out := map[string]Mapping{}
	if len(c.FunctionMappings) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(c.FunctionMappings, &out)
}

// GetWasmMeta deserializes the wasm metadata, if any.
func (c *CustomContract) GetWasmMeta() (*WasmMeta, error) {
	if len(c.WasmMetaRaw) == 0 {
		return nil, nil
	}
	var meta WasmMeta
	if err := json.Unmarshal(c.WasmMetaRaw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ============================================================================
// RULE STORE TYPES (C2)
// ============================================================================

// RuleType is the geometry kind an ExecutionRule matches against.
type RuleType string

const (
	RuleTypeLocation  RuleType = "location"
	RuleTypeProximity RuleType = "proximity"
	RuleTypeGeofence  RuleType = "geofence"
)

// TriggerOn is the crossing direction that activates a rule.
type TriggerOn string

const (
	TriggerOnEnter TriggerOn = "enter"
	TriggerOnExit  TriggerOn = "exit"
	TriggerOnDwell TriggerOn = "dwell"
)

// QuorumType is the aggregation rule over required wallets.
type QuorumType string

const (
	QuorumAny       QuorumType = "any"
	QuorumAll       QuorumType = "all"
	QuorumThreshold QuorumType = "threshold"
)

// ExecutionRule is a row of contract_execution_rules.
type ExecutionRule struct {
	ID                         string          `db:"id" json:"id"`
	UserID                     string          `db:"user_id" json:"userId"`
	ContractID                 string          `db:"contract_id" json:"contractId"`
	RuleName                   string          `db:"rule_name" json:"ruleName"`
	RuleType                   RuleType        `db:"rule_type" json:"ruleType"`
	CenterLat                  sql.NullFloat64 `db:"center_lat" json:"centerLat,omitempty"`
	CenterLng                  sql.NullFloat64 `db:"center_lng" json:"centerLng,omitempty"`
	RadiusMeters               sql.NullFloat64 `db:"radius_meters" json:"radiusMeters,omitempty"`
	GeofenceID                 sql.NullString  `db:"geofence_id" json:"geofenceId,omitempty"`
	FunctionName               string          `db:"function_name" json:"functionName"`
	FunctionParameters         json.RawMessage `db:"function_parameters" json:"functionParameters"`
	TriggerOn                  TriggerOn       `db:"trigger_on" json:"triggerOn"`
	AutoExecute                bool            `db:"auto_execute" json:"autoExecute"`
	RequiresConfirmation       bool            `db:"requires_confirmation" json:"requiresConfirmation"`
	TargetWalletPublicKey      sql.NullString  `db:"target_wallet_public_key" json:"targetWalletPublicKey,omitempty"`
	RequiredWalletPublicKeys   json.RawMessage `db:"required_wallet_public_keys" json:"requiredWalletPublicKeys,omitempty"`
	MinimumWalletCount         sql.NullInt64   `db:"minimum_wallet_count" json:"minimumWalletCount,omitempty"`
	QuorumType                 QuorumType      `db:"quorum_type" json:"quorumType"`
	MaxExecutionsPerPublicKey  sql.NullInt64   `db:"max_executions_per_public_key" json:"maxExecutionsPerPublicKey,omitempty"`
	ExecutionTimeWindowSeconds sql.NullInt64   `db:"execution_time_window_seconds" json:"executionTimeWindowSeconds,omitempty"`
	MinLocationDurationSeconds sql.NullInt64   `db:"min_location_duration_seconds" json:"minLocationDurationSeconds,omitempty"`
	AutoDeactivateOnBalance    bool            `db:"auto_deactivate_on_balance" json:"autoDeactivateOnBalanceThreshold"`
	BalanceThresholdXLM        sql.NullFloat64 `db:"balance_threshold_xlm" json:"balanceThresholdXLM,omitempty"`
	BalanceCheckAssetAddress   sql.NullString  `db:"balance_check_asset_address" json:"balanceCheckAssetAddress,omitempty"`
	UseSmartWalletBalance      bool            `db:"use_smart_wallet_balance" json:"useSmartWalletBalance"`
	SubmitReadonlyToLedger     bool            `db:"submit_readonly_to_ledger" json:"submitReadonlyToLedger"`
	IsActive                   bool            `db:"is_active" json:"isActive"`
	CreatedAt                  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt                  time.Time       `db:"updated_at" json:"updatedAt"`
}

// GetFunctionParameters deserializes the rule's function call template.
func (r *ExecutionRule) GetFunctionParameters() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(r.FunctionParameters) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(r.FunctionParameters, &out)
}

// GetRequiredWalletPublicKeys deserializes the quorum wallet set.
func (r *ExecutionRule) GetRequiredWalletPublicKeys() ([]string, error) {
	if len(r.RequiredWalletPublicKeys) == 0 {
		return nil, nil
	}
	var out []string
	return out, json.Unmarshal(r.RequiredWalletPublicKeys, &out)
}

// Geofence is a row of geofences.
type Geofence struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"userId"`
	Name        string          `db:"name" json:"name"`
	VerticesRaw json.RawMessage `db:"vertices" json:"vertices"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// GeoPoint is a (lat, lng) pair as persisted in a geofence's vertex list.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GetVertices deserializes the polygon ring.
func (g *Geofence) GetVertices() ([]GeoPoint, error) {
	var out []GeoPoint
	return out, json.Unmarshal(g.VerticesRaw, &out)
}

// ============================================================================
// EXECUTION QUEUE TYPES (C4)
// ============================================================================

// QueueStatus is the lifecycle state of a LocationUpdate row.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusMatched    QueueStatus = "matched"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusExecuted   QueueStatus = "executed"
	QueueStatusFailed     QueueStatus = "failed"
)

// ExecutionResult is one positional element of a LocationUpdate's
// executionResults array. Its ordinality is part of the row's uniqueness;
// once Completed or Rejected is true, the element is terminal.
type ExecutionResult struct {
	RuleID              string                 `json:"ruleId"`
	Skipped             bool                   `json:"skipped,omitempty"`
	Reason              string                 `json:"reason,omitempty"`
	Rejected            bool                   `json:"rejected,omitempty"`
	RejectedAt          *time.Time             `json:"rejectedAt,omitempty"`
	Completed           bool                   `json:"completed,omitempty"`
	CompletedAt         *time.Time             `json:"completedAt,omitempty"`
	TransactionHash     string                 `json:"transactionHash,omitempty"`
	Success             bool                   `json:"success,omitempty"`
	MatchedPublicKey    string                 `json:"matchedPublicKey,omitempty"`
	ExecutionParameters map[string]interface{} `json:"executionParameters,omitempty"`
	DirectExecution     bool                   `json:"directExecution,omitempty"`
	PendingConfirmation bool                   `json:"pendingConfirmation,omitempty"`
}

// Reason values for a skipped ExecutionResult (spec.md §4.4/§7).
const (
	ReasonRequiresWebauthn     = "requires_webauthn"
	ReasonRateLimited          = "rate_limited"
	ReasonQuorumUnmet          = "quorum_unmet"
	ReasonBalanceLow           = "balance_low"
	ReasonRequiresConfirmation = "requires_confirmation"
)

// IsTerminal reports whether this element can no longer change.
func (e *ExecutionResult) IsTerminal() bool {
	return e.Completed || e.Rejected
}

// LocationUpdate is a row of location_update_queue.
type LocationUpdate struct {
	ID                  string          `db:"id" json:"id"`
	UserID              string          `db:"user_id" json:"userId"`
	PublicKey           string          `db:"public_key" json:"publicKey"`
	Lat                 float64         `db:"lat" json:"lat"`
	Lng                 float64         `db:"lng" json:"lng"`
	ReceivedAt          time.Time       `db:"received_at" json:"receivedAt"`
	ProcessedAt         sql.NullTime    `db:"processed_at" json:"processedAt,omitempty"`
	Status              QueueStatus     `db:"status" json:"status"`
	MatchedRuleIDsRaw   json.RawMessage `db:"matched_rule_ids" json:"matchedRuleIds"`
	ExecutionResultsRaw json.RawMessage `db:"execution_results" json:"executionResults"`
}

// GetMatchedRuleIDs deserializes the matched rule ID list.
func (u *LocationUpdate) GetMatchedRuleIDs() ([]string, error) {
	var out []string
	if len(u.MatchedRuleIDsRaw) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(u.MatchedRuleIDsRaw, &out)
}

// GetExecutionResults deserializes the positional results array.
func (u *LocationUpdate) GetExecutionResults() ([]ExecutionResult, error) {
	var out []ExecutionResult
	if len(u.ExecutionResultsRaw) == 0 {
		return out, nil
	}
	return out, json.Unmarshal(u.ExecutionResultsRaw, &out)
}

// SetExecutionResults re-serializes the positional results array.
func (u *LocationUpdate) SetExecutionResults(results []ExecutionResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	u.ExecutionResultsRaw = raw
	return nil
}

// RuleExecutionHistory is an append-only row consulted by the rate limiter.
type RuleExecutionHistory struct {
	ID              int64           `db:"id" json:"id"`
	RuleID          string          `db:"rule_id" json:"ruleId"`
	PublicKey       string          `db:"public_key" json:"publicKey"`
	TransactionHash sql.NullString  `db:"transaction_hash" json:"transactionHash,omitempty"`
	ResultSummary   json.RawMessage `db:"result_summary" json:"resultSummary"`
	At              time.Time       `db:"at" json:"at"`
}

// UserPasskey is a cached row mirroring the on-chain (address → passkey)
// relationship; the chain's get_passkey_pubkey simulation is authoritative.
type UserPasskey struct {
	UserID        string    `db:"user_id" json:"userId"`
	PublicKey     string    `db:"public_key" json:"publicKey"`
	SignerAddress string    `db:"signer_address" json:"signerAddress"`
	SPKIHex       string    `db:"spki_hex" json:"spkiHex"`
	RegisteredAt  time.Time `db:"registered_at" json:"registeredAt"`
}
