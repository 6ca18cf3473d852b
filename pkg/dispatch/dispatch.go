// Package dispatch implements the Execution Queue (C4) and Rule Dispatcher
// (C5): ingesting a location ping, matching it against active rules, and
// running each match through the decision ladder of spec.md §4.4/§4.5 —
// rate limit, quorum, balance-triggered auto-deactivation, the WebAuthn
// gate, and finally either auto-execution or a pending confirmation.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chainrpc"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/execution"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/locationmatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/ratelimit"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

// Dispatcher wires the matcher, the rate limiter, the quorum store, the
// balance oracle, and the executor into a single ingest pipeline.
type Dispatcher struct {
	matcher   *locationmatch.Matcher
	queue     *database.QueueRepository
	history   *database.HistoryRepository
	contracts *database.ContractRepository
	limiter   *ratelimit.Limiter
	ruleStore *rules.Store
	rulesRepo *database.RuleRepository
	chain     chainrpc.Client
	executor  *execution.Executor
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(
	matcher *locationmatch.Matcher,
	queue *database.QueueRepository,
	history *database.HistoryRepository,
	contracts *database.ContractRepository,
	limiter *ratelimit.Limiter,
	ruleStore *rules.Store,
	rulesRepo *database.RuleRepository,
	chain chainrpc.Client,
	executor *execution.Executor,
) *Dispatcher {
	return &Dispatcher{
		matcher:   matcher,
		queue:     queue,
		history:   history,
		contracts: contracts,
		limiter:   limiter,
		ruleStore: ruleStore,
		rulesRepo: rulesRepo,
		chain:     chain,
		executor:  executor,
	}
}

// Ingest runs the full C4→C5 pipeline for one location ping (spec.md §4.4):
// match active rules against (lat, lng), persist a LocationUpdate row with
// one positional ExecutionResult per match, and run the decision ladder for
// each match before returning.
func (d *Dispatcher) Ingest(ctx context.Context, userID, publicKey string, lat, lng float64) (*database.LocationUpdate, error) {
	matches, err := d.matcher.MatchPoint(ctx, lat, lng)
	if err != nil {
		return nil, fmt.Errorf("failed to match rules: %w", err)
	}

	update := &database.LocationUpdate{
		UserID:    userID,
		PublicKey: publicKey,
		Lat:       lat,
		Lng:       lng,
		Status:    database.QueueStatusPending,
	}
	if len(matches) == 0 {
		update.MatchedRuleIDsRaw = json.RawMessage(`[]`)
		update.ExecutionResultsRaw = json.RawMessage(`[]`)
	} else {
		ruleIDs := make([]string, len(matches))
		results := make([]database.ExecutionResult, len(matches))
		for i, m := range matches {
			ruleIDs[i] = m.Rule.ID
			results[i] = database.ExecutionResult{RuleID: m.Rule.ID}
		}
		ruleIDsRaw, err := json.Marshal(ruleIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal matched rule ids: %w", err)
		}
		update.MatchedRuleIDsRaw = ruleIDsRaw
		if err := update.SetExecutionResults(results); err != nil {
			return nil, err
		}
		update.Status = database.QueueStatusMatched
	}

	inserted, err := d.queue.Insert(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("failed to insert location update: %w", err)
	}

	if len(matches) == 0 {
		return inserted, nil
	}

	results, err := inserted.GetExecutionResults()
	if err != nil {
		return nil, err
	}
	anyTerminal := false
	for i, m := range matches {
		results[i] = d.dispatchOne(ctx, m.Rule, inserted, publicKey)
		if results[i].IsTerminal() {
			anyTerminal = true
		}
	}
	if err := inserted.SetExecutionResults(results); err != nil {
		return nil, err
	}

	status := database.QueueStatusMatched
	if anyTerminal {
		status = database.QueueStatusExecuted
	}
	if err := d.queue.UpdateResults(ctx, inserted.ID, status, true, results); err != nil {
		return nil, fmt.Errorf("failed to persist dispatch results: %w", err)
	}
	inserted.Status = status
	return inserted, nil
}

// dispatchOne runs the decision ladder for a single matched rule (spec.md
// §4.4/§4.5): rate-limit → quorum → balance-triggered auto-deactivation →
// WebAuthn gate → rule.AutoExecute (invoking the Executor inline) → else
// requires_confirmation.
func (d *Dispatcher) dispatchOne(ctx context.Context, rule *database.ExecutionRule, update *database.LocationUpdate, publicKey string) database.ExecutionResult {
	result := database.ExecutionResult{RuleID: rule.ID, MatchedPublicKey: publicKey}

	maxExec, windowSeconds := 0, 0
	if rule.MaxExecutionsPerPublicKey.Valid {
		maxExec = int(rule.MaxExecutionsPerPublicKey.Int64)
	}
	if rule.ExecutionTimeWindowSeconds.Valid {
		windowSeconds = int(rule.ExecutionTimeWindowSeconds.Int64)
	}
	allowed, _, err := d.limiter.Allow(ctx, rule.ID, publicKey, windowSeconds, maxExec)
	if err != nil {
		result.Skipped, result.Reason = true, database.ReasonRateLimited
		return result
	}
	if !allowed {
		result.Skipped, result.Reason = true, database.ReasonRateLimited
		return result
	}

	requiredWallets, err := rule.GetRequiredWalletPublicKeys()
	if err == nil && len(requiredWallets) > 0 {
		quorum, err := d.ruleStore.CheckQuorum(ctx, rule.ID)
		if err != nil || !quorum.QuorumMet {
			result.Skipped, result.Reason = true, database.ReasonQuorumUnmet
			return result
		}
	}

	if rule.AutoDeactivateOnBalance && rule.BalanceThresholdXLM.Valid {
		low, err := d.balanceBelowThreshold(ctx, rule)
		if err == nil && low {
			_ = d.rulesRepo.Deactivate(ctx, rule.ID)
			result.Skipped, result.Reason = true, database.ReasonBalanceLow
			return result
		}
	}

	contract, err := d.contracts.Get(ctx, rule.ContractID)
	if err != nil {
		result.Skipped, result.Reason = true, database.ReasonRequiresConfirmation
		return result
	}
	if contract.RequiresWebauthn {
		// A background location ping carries no interactive WebAuthn
		// assertion; the call must wait for the user to confirm in-app
		// (spec.md §4.5).
		result.Skipped, result.Reason = true, database.ReasonRequiresWebauthn
		return result
	}

	if !rule.AutoExecute {
		result.Skipped, result.Reason = true, database.ReasonRequiresConfirmation
		return result
	}

	return d.autoExecute(ctx, rule, contract, update, publicKey)
}

func (d *Dispatcher) autoExecute(ctx context.Context, rule *database.ExecutionRule, contract *database.CustomContract, update *database.LocationUpdate, publicKey string) database.ExecutionResult {
	result := database.ExecutionResult{RuleID: rule.ID, MatchedPublicKey: publicKey, DirectExecution: true}

	params, err := rule.GetFunctionParameters()
	if err != nil {
		result.Skipped, result.Reason = true, database.ReasonRequiresConfirmation
		return result
	}
	params["current_latitude"] = update.Lat
	params["current_longitude"] = update.Lng

	execResult, err := d.executor.Execute(ctx, execution.Request{
		UserID:        rule.UserID,
		ContractID:    rule.ContractID,
		FunctionName:  rule.FunctionName,
		Parameters:    params,
		UserPublicKey: publicKey,
		Opts: execution.Options{
			RuleID:           rule.ID,
			UpdateID:         update.ID,
			MatchedPublicKey: publicKey,
		},
	})
	if err != nil {
		if apiErr, ok := err.(*apierror.Error); ok && apiErr.Kind == apierror.KindPendingConfirm {
			result.PendingConfirmation = true
			return result
		}
		result.Skipped, result.Reason = true, database.ReasonRequiresConfirmation
		return result
	}

	now := time.Now()
	result.Completed = true
	result.CompletedAt = &now
	result.Success = execResult.Success
	result.TransactionHash = execResult.TransactionHash
	_ = d.history.Append(ctx, rule.ID, publicKey, execResult.TransactionHash, map[string]interface{}{"autoExecuted": true})
	return result
}

func (d *Dispatcher) balanceBelowThreshold(ctx context.Context, rule *database.ExecutionRule) (bool, error) {
	if !rule.UseSmartWalletBalance {
		return false, nil
	}
	contract, err := d.contracts.Get(ctx, rule.ContractID)
	if err != nil || !contract.SmartWalletContractID.Valid {
		return false, nil
	}
	asset := contract.Address
	if rule.BalanceCheckAssetAddress.Valid && rule.BalanceCheckAssetAddress.String != "" {
		asset = rule.BalanceCheckAssetAddress.String
	}
	sim, err := d.chain.Simulate(ctx, contract.SmartWalletContractID.String, "get_balance", map[string]interface{}{
		"signer": rule.TargetWalletPublicKey.String, "asset": asset,
	})
	if err != nil {
		return false, err
	}
	if sim.ReturnValue.I128 == "" {
		return false, nil
	}
	var balance float64
	_, err = fmt.Sscanf(sim.ReturnValue.I128, "%f", &balance)
	if err != nil {
		return false, err
	}
	return balance/10_000_000 < rule.BalanceThresholdXLM.Float64, nil
}
