// Package quorum implements the rules.QuorumOracle used to evaluate a rule's
// requiredWalletPublicKeys set: for each required wallet, is its most
// recently reported location currently inside the rule's geometry (spec.md
// §4.2)? This is the same containment logic locationmatch.Matcher applies to
// an incoming ping, just evaluated per-wallet against its last known fix
// instead of against a live point.
package quorum

import (
	"context"
	"fmt"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geo"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

// Oracle implements rules.QuorumOracle.
type Oracle struct {
	rules     *database.RuleRepository
	queue     *database.QueueRepository
	geofences *database.GeofenceRepository
}

// NewOracle builds an Oracle.
func NewOracle(ruleRepo *database.RuleRepository, queue *database.QueueRepository, geofences *database.GeofenceRepository) *Oracle {
	return &Oracle{rules: ruleRepo, queue: queue, geofences: geofences}
}

// CheckQuorum reports which of a rule's requiredWalletPublicKeys currently
// have a last-known position inside the rule's geometry, and whether that
// satisfies the rule's quorumType/minimumWalletCount (spec.md §3, §4.2).
func (o *Oracle) CheckQuorum(ctx context.Context, ruleID string) (*rules.QuorumResult, error) {
	rule, err := o.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	wallets, err := rule.GetRequiredWalletPublicKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to decode required wallets for rule %s: %w", ruleID, err)
	}

	var inRange, outOfRange []string
	for _, pk := range wallets {
		ok, err := o.walletInGeometry(ctx, rule, pk)
		if err != nil {
			return nil, err
		}
		if ok {
			inRange = append(inRange, pk)
		} else {
			outOfRange = append(outOfRange, pk)
		}
	}

	minimum := len(wallets)
	if rule.MinimumWalletCount.Valid {
		minimum = int(rule.MinimumWalletCount.Int64)
	}

	var met bool
	switch rule.QuorumType {
	case database.QuorumAll:
		met = len(outOfRange) == 0 && len(wallets) > 0
	case database.QuorumThreshold:
		met = len(inRange) >= minimum
	default: // database.QuorumAny
		met = len(inRange) > 0
	}

	return &rules.QuorumResult{
		QuorumMet:         met,
		WalletsInRange:    inRange,
		WalletsOutOfRange: outOfRange,
		CountInRange:      len(inRange),
		MinimumRequired:   minimum,
	}, nil
}

func (o *Oracle) walletInGeometry(ctx context.Context, rule *database.ExecutionRule, publicKey string) (bool, error) {
	latest, err := o.queue.LatestByPublicKey(ctx, publicKey)
	if err == database.ErrLocationUpdateNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load latest location for %s: %w", publicKey, err)
	}
	point := geo.Point{Lat: latest.Lat, Lng: latest.Lng}

	switch rule.RuleType {
	case database.RuleTypeLocation, database.RuleTypeProximity:
		if !rule.CenterLat.Valid || !rule.CenterLng.Valid || !rule.RadiusMeters.Valid {
			return false, nil
		}
		center := geo.Point{Lat: rule.CenterLat.Float64, Lng: rule.CenterLng.Float64}
		return geo.WithinRadius(center, point, rule.RadiusMeters.Float64), nil
	case database.RuleTypeGeofence:
		if !rule.GeofenceID.Valid {
			return false, nil
		}
		fence, err := o.geofences.Get(ctx, rule.GeofenceID.String)
		if err != nil {
			return false, nil
		}
		vertices, err := fence.GetVertices()
		if err != nil {
			return false, fmt.Errorf("failed to decode geofence vertices: %w", err)
		}
		poly := make([]geo.Point, len(vertices))
		for i, v := range vertices {
			poly[i] = geo.Point{Lat: v.Lat, Lng: v.Lng}
		}
		return geo.PointInPolygon(point, poly), nil
	default:
		return false, nil
	}
}
