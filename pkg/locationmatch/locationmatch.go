// Package locationmatch implements the Location Matcher (C3): given a point,
// find active rules whose geofence contains it, sorted by ascending
// distance. It is read-only and idempotent (spec.md §4.3).
package locationmatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geo"
)

// Match is one matched rule with its distance from the query point (meters;
// 0 for geofence-type rules whose containment isn't distance-based).
type Match struct {
	Rule     *database.ExecutionRule
	Distance float64
}

// Matcher finds rules whose geometry contains a point.
type Matcher struct {
	rules     *database.RuleRepository
	contracts *database.ContractRepository
	geofences *database.GeofenceRepository
}

// NewMatcher builds a Matcher.
func NewMatcher(rules *database.RuleRepository, contracts *database.ContractRepository, geofences *database.GeofenceRepository) *Matcher {
	return &Matcher{rules: rules, contracts: contracts, geofences: geofences}
}

// MatchPoint returns every active rule (with an active parent contract)
// whose geofence contains (lat, lng), ascending by distance. location and
// proximity rules use great-circle distance; geofence rules use polygon
// containment (spec.md §4.3).
func (m *Matcher) MatchPoint(ctx context.Context, lat, lng float64) ([]Match, error) {
	point := geo.Point{Lat: lat, Lng: lng}
	var matches []Match

	locationRules, err := m.rules.ListActiveByType(ctx, database.RuleTypeLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to list location rules: %w", err)
	}
	proximityRules, err := m.rules.ListActiveByType(ctx, database.RuleTypeProximity)
	if err != nil {
		return nil, fmt.Errorf("failed to list proximity rules: %w", err)
	}
	geofenceRules, err := m.rules.ListActiveByType(ctx, database.RuleTypeGeofence)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofence rules: %w", err)
	}

	for _, r := range append(locationRules, proximityRules...) {
		if !r.CenterLat.Valid || !r.CenterLng.Valid || !r.RadiusMeters.Valid {
			continue
		}
		center := geo.Point{Lat: r.CenterLat.Float64, Lng: r.CenterLng.Float64}
		dist := geo.HaversineMeters(center, point)
		if dist > r.RadiusMeters.Float64 {
			continue
		}
		active, err := m.isContractActive(ctx, r.ContractID)
		if err != nil {
			return nil, err
		}
		if !active {
			continue
		}
		matches = append(matches, Match{Rule: r, Distance: dist})
	}

	for _, r := range geofenceRules {
		if !r.GeofenceID.Valid {
			continue
		}
		fence, err := m.geofences.Get(ctx, r.GeofenceID.String)
		if err != nil {
			continue
		}
		vertices, err := fence.GetVertices()
		if err != nil {
			return nil, fmt.Errorf("failed to decode geofence vertices: %w", err)
		}
		poly := make([]geo.Point, len(vertices))
		for i, v := range vertices {
			poly[i] = geo.Point{Lat: v.Lat, Lng: v.Lng}
		}
		if !geo.PointInPolygon(point, poly) {
			continue
		}
		active, err := m.isContractActive(ctx, r.ContractID)
		if err != nil {
			return nil, err
		}
		if !active {
			continue
		}
		matches = append(matches, Match{Rule: r, Distance: 0})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

func (m *Matcher) isContractActive(ctx context.Context, contractID string) (bool, error) {
	c, err := m.contracts.Get(ctx, contractID)
	if err == database.ErrContractNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load parent contract: %w", err)
	}
	return c.IsActive, nil
}

// Nearby returns active rules within radiusMeters of (lat, lng) sorted by
// ascending distance, for the public /contracts/nearby endpoint (spec.md
// §6). Geofence-type rules are included whenever they contain the point,
// regardless of radiusMeters (they have no center to measure from).
func (m *Matcher) Nearby(ctx context.Context, lat, lng, radiusMeters float64) ([]Match, error) {
	all, err := m.MatchPoint(ctx, lat, lng)
	if err != nil {
		return nil, err
	}
	var out []Match
	for _, match := range all {
		if match.Rule.RuleType == database.RuleTypeGeofence || match.Distance <= radiusMeters {
			out = append(out, match)
		}
	}
	return out, nil
}
