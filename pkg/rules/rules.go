// Package rules implements the Rule Store (C2): validation invariants over
// ExecutionRule and the quorum check that gates direct execute calls.
package rules

import (
	"context"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Validate enforces the creation-time invariants of spec.md §3:
//   - location|proximity ⇒ center+radius required.
//   - geofence ⇒ geofenceId required.
//   - requiredWalletPublicKeys non-empty ⇒ 1 ≤ minimumWalletCount ≤ len(keys).
func Validate(r *database.ExecutionRule, requiredWalletCount int) error {
	switch r.RuleType {
	case database.RuleTypeLocation, database.RuleTypeProximity:
		if !r.CenterLat.Valid || !r.CenterLng.Valid || !r.RadiusMeters.Valid {
			return apierror.Validation("rule type %q requires center and radiusMeters", r.RuleType)
		}
	case database.RuleTypeGeofence:
		if !r.GeofenceID.Valid || r.GeofenceID.String == "" {
			return apierror.Validation("rule type %q requires geofenceId", r.RuleType)
		}
	default:
		return apierror.Validation("unknown rule type %q", r.RuleType)
	}

	if requiredWalletCount > 0 {
		if !r.MinimumWalletCount.Valid {
			return apierror.Validation("minimumWalletCount is required when requiredWalletPublicKeys is non-empty")
		}
		min := r.MinimumWalletCount.Int64
		if min < 1 || int(min) > requiredWalletCount {
			return apierror.Validation("minimumWalletCount must be between 1 and %d, got %d", requiredWalletCount, min)
		}
	}

	return nil
}

// QuorumResult is the decoded response of the external quorum predicate.
type QuorumResult struct {
	QuorumMet         bool
	WalletsInRange    []string
	WalletsOutOfRange []string
	CountInRange      int
	MinimumRequired   int
}

// QuorumOracle is the external collaborator backing checkQuorum: given a
// ruleId, it reports which required wallets have their most recently
// reported location inside the rule's geometry. The production
// implementation is quorum.Oracle, which evaluates this in Go from each
// wallet's latest queue row; it applies no freshness window, so a wallet's
// last report counts however old it is.
type QuorumOracle interface {
	CheckQuorum(ctx context.Context, ruleID string) (*QuorumResult, error)
}

// Store implements the Rule Store operations.
type Store struct {
	rules  *database.RuleRepository
	quorum QuorumOracle
}

// NewStore builds a Store.
func NewStore(rules *database.RuleRepository, quorum QuorumOracle) *Store {
	return &Store{rules: rules, quorum: quorum}
}

// Create validates then persists a new rule.
func (s *Store) Create(ctx context.Context, r *database.ExecutionRule, requiredWalletCount int) (*database.ExecutionRule, error) {
	if err := Validate(r, requiredWalletCount); err != nil {
		return nil, err
	}
	return s.rules.Create(ctx, r)
}

// ListMine returns every rule owned by userID.
func (s *Store) ListMine(ctx context.Context, userID string) ([]*database.ExecutionRule, error) {
	return s.rules.ListMine(ctx, userID)
}

// Update applies a partial patch to a rule.
func (s *Store) Update(ctx context.Context, id string, patch database.RulePatch) (*database.ExecutionRule, error) {
	return s.rules.Update(ctx, id, patch)
}

// Delete hard-deletes a rule (spec.md §4.2).
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}

// CheckQuorum delegates to the external quorum oracle (spec.md §4.2). The
// Executor must refuse to proceed when a caller supplies ruleId and
// QuorumMet is false (enforced by the HTTP execute handlers, not here).
func (s *Store) CheckQuorum(ctx context.Context, ruleID string) (*QuorumResult, error) {
	result, err := s.quorum.CheckQuorum(ctx, ruleID)
	if err != nil {
		return nil, apierror.Internal("failed to evaluate quorum", err)
	}
	return result, nil
}
