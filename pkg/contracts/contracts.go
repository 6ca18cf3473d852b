// Package contracts implements the Contract Registry (C1): CRUD of
// CustomContract records plus chain function discovery and parameter-mapping
// inference.
package contracts

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chainrpc"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// addressShape is the Stellar/Soroban contract address format (spec.md §6).
var addressShape = regexp.MustCompile(`^[A-Z0-9]{56}$`)

// ValidateAddress reports whether address matches the required shape.
func ValidateAddress(address string) error {
	if !addressShape.MatchString(address) {
		return apierror.Validation("address must match ^[A-Z0-9]{56}$, got %q", address)
	}
	return nil
}

// Source values for inferred parameter mappings (spec.md §4.1 table).
const (
	SourceUserPublicKey    = "user_public_key"
	SourceMatchedPublicKey = "matched_public_key"
	SourceNativeSAC        = "native_sac_address"
	SourceStroopsFromXLM   = "stroops_from_xlm"
	SourceCurrentLatitude  = "current_latitude"
	SourceCurrentLongitude = "current_longitude"
	SourceWebauthnField    = "webauthn_generated"
)

var destinationLikeNames = map[string]bool{
	"destination": true, "recipient": true, "to": true, "to_address": true,
}

// InferMapping derives a default Mapping from a discovered function
// signature, per the parameter-hint table in spec.md §4.1.
func InferMapping(sig database.FunctionSig) database.Mapping {
	params := make([]database.MappedParameter, 0, len(sig.Parameters))
	for _, p := range sig.Parameters {
		params = append(params, database.MappedParameter{
			Name:       p.Name,
			Type:       p.Type,
			MappedFrom: inferParameterSource(p),
		})
	}
	return database.Mapping{
		Parameters:           params,
		ReturnType:           sig.ReturnType,
		AutoExecute:          false,
		RequiresConfirmation: true,
	}
}

func inferParameterSource(p database.ParameterSpec) string {
	name := strings.ToLower(p.Name)

	switch {
	case name == "signer_address" && p.Type == "Address":
		return SourceUserPublicKey
	case destinationLikeNames[name] && p.Type == "Address":
		return SourceMatchedPublicKey
	case name == "asset" && p.Type == "Address":
		return SourceNativeSAC
	case name == "amount" && isNumericType(p.Type):
		return SourceStroopsFromXLM
	case strings.Contains(name, "latitude"):
		return SourceCurrentLatitude
	case strings.Contains(name, "longitude"):
		return SourceCurrentLongitude
	case strings.HasPrefix(name, "webauthn_") || name == "signature_payload":
		return SourceWebauthnField
	default:
		return ""
	}
}

func isNumericType(t string) bool {
	switch t {
	case "I128", "U128", "I64", "U64", "I32", "U32":
		return true
	default:
		return false
	}
}

// HasLocationMapping reports whether any parameter in mapping is sourced
// from latitude/longitude, the signal for proposing a default location rule
// (spec.md §4.1).
func HasLocationMapping(mapping database.Mapping) bool {
	for _, p := range mapping.Parameters {
		if p.MappedFrom == SourceCurrentLatitude || p.MappedFrom == SourceCurrentLongitude {
			return true
		}
	}
	return false
}

// DiscoverResult is the response of Discover.
type DiscoverResult struct {
	Functions              map[string]database.FunctionSig
	DefaultFunctionMappings map[string]database.Mapping
	DefaultRules           []DefaultRuleProposal
}

// DefaultRuleProposal is a proposed (inactive) location rule for a function
// whose mapping touches lat/lng.
type DefaultRuleProposal struct {
	FunctionName string
	RuleType     database.RuleType
	IsActive     bool
}

// Registry implements the Contract Registry operations over a
// ContractRepository and a chain RPC client.
type Registry struct {
	contracts *database.ContractRepository
	chain     chainrpc.Client
}

// NewRegistry builds a Registry.
func NewRegistry(contracts *database.ContractRepository, chain chainrpc.Client) *Registry {
	return &Registry{contracts: contracts, chain: chain}
}

// Discover verifies a contract exists on network, then returns its public
// functions and derived mappings (spec.md §4.1).
func (reg *Registry) Discover(ctx context.Context, address, network string) (*DiscoverResult, error) {
	if !addressShape.MatchString(address) {
		return nil, apierror.Validation("address must match ^[A-Z0-9]{56}$, got %q", address)
	}

	exists, err := reg.chain.ContractExists(ctx, address, network)
	if err != nil {
		return nil, apierror.ChainError("failed to verify contract existence", err)
	}
	if !exists {
		return nil, apierror.NotFound("contract %s not found on %s", address, network)
	}

	raw, err := reg.chain.DiscoverFunctions(ctx, address, network)
	if err != nil {
		return nil, apierror.ChainError("failed to discover contract functions", err)
	}

	functions := make(map[string]database.FunctionSig, len(raw))
	mappings := make(map[string]database.Mapping, len(raw))
	var proposals []DefaultRuleProposal

	for name, params := range raw {
		specParams := make([]database.ParameterSpec, len(params))
		for i, p := range params {
			specParams[i] = database.ParameterSpec{Name: p.Name, Type: p.Type}
		}
		sig := database.FunctionSig{Name: name, Parameters: specParams}
		functions[name] = sig

		mapping := InferMapping(sig)
		mappings[name] = mapping

		if HasLocationMapping(mapping) {
			proposals = append(proposals, DefaultRuleProposal{
				FunctionName: name,
				RuleType:     database.RuleTypeLocation,
				IsActive:     false,
			})
		}
	}

	return &DiscoverResult{
		Functions:               functions,
		DefaultFunctionMappings: mappings,
		DefaultRules:            proposals,
	}, nil
}

// Upsert validates the address shape and persists a contract.
func (reg *Registry) Upsert(ctx context.Context, c *database.CustomContract) (*database.CustomContract, error) {
	if err := ValidateAddress(c.Address); err != nil {
		return nil, err
	}
	return reg.contracts.Upsert(ctx, c)
}

// Get returns a contract by ID.
func (reg *Registry) Get(ctx context.Context, id string) (*database.CustomContract, error) {
	c, err := reg.contracts.Get(ctx, id)
	if err != nil {
		return nil, apierror.NotFound("contract %s not found", id)
	}
	return c, nil
}

// ListMine returns every contract owned by userID.
func (reg *Registry) ListMine(ctx context.Context, userID string) ([]*database.CustomContract, error) {
	return reg.contracts.ListMine(ctx, userID)
}

// UpdateMappings persists a curated set of function mappings for a contract.
func (reg *Registry) UpdateMappings(ctx context.Context, id string, mappings map[string]database.Mapping) error {
	return reg.contracts.UpdateMappings(ctx, id, mappings)
}

// AmountUnit tells CanonicalizeAmount how to interpret an integer-looking
// (no decimal point) input string. It exists because a bare integer is
// ambiguous on its own: "1" meaning 1 XLM and "100" meaning 100 stroops
// (itself the canonicalized form of 0.00001 XLM) are indistinguishable
// strings. A decimal-point input is always XLM regardless of unit.
type AmountUnit int

const (
	// AmountUnitXLM means a bare integer is raw XLM and must be multiplied
	// up to stroops if it is below the 10^6 heuristic threshold.
	AmountUnitXLM AmountUnit = iota
	// AmountUnitStroops means a bare integer is already in stroops and must
	// never be re-multiplied, however small.
	AmountUnitStroops
)

// CanonicalizeAmount converts an amount into stroops (spec.md §6). unit
// disambiguates bare integers; a decimal-point input is always interpreted
// as XLM. Idempotent per spec.md §8 invariant 7: canonicalizing the output
// of a prior call with unit=AmountUnitStroops is always a no-op, which is
// how callers must re-canonicalize a value that may already be in stroops
// (e.g. one echoed back from the Pending projection) instead of blindly
// re-applying the XLM heuristic to it.
func CanonicalizeAmount(raw string, unit AmountUnit) (string, error) {
	if strings.Contains(raw, ".") {
		return xlmToStroops(raw)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", apierror.Validation("amount %q is not a valid integer", raw)
	}
	if unit == AmountUnitXLM && n < 1_000_000 {
		return strconv.FormatInt(n*10_000_000, 10), nil
	}
	return raw, nil
}

func xlmToStroops(raw string) (string, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", apierror.Validation("amount %q is not a valid decimal", raw)
	}
	stroops := int64(f * 10_000_000)
	return strconv.FormatInt(stroops, 10), nil
}

// CanonicalizeAsset maps "XLM"/"native"/"" to the native SAC contract
// address; any other value passes through unchanged (spec.md §4.1 table).
func CanonicalizeAsset(raw, nativeSACAddress string) string {
	switch raw {
	case "XLM", "native", "":
		return nativeSACAddress
	default:
		return raw
	}
}
