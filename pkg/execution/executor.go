// Package execution implements the Executor (C6): builds, simulates, signs,
// submits, and polls a contract invocation through either the direct path or
// the WebAuthn-gated smart-wallet path (spec.md §4.6).
package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chainrpc"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/webauthn"
)

// readOnlyPrefixes are the function-name prefixes that mark a call read-only
// (spec.md §4.6).
var readOnlyPrefixes = []string{"get_", "is_", "has_", "check_", "query_", "view_", "read_", "fetch_"}

// paymentNameHints are the function-name substrings that mark a call as a
// payment, one half of IsPaymentFunction (spec.md §4.6).
var paymentNameHints = []string{"transfer", "payment", "send", "pay", "withdraw", "deposit"}

var destinationLikeParams = map[string]bool{
	"destination": true, "recipient": true, "to": true, "to_address": true,
}

// IsReadOnly reports whether functionName is a read-only call by its prefix.
func IsReadOnly(functionName string) bool {
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(functionName, p) {
			return true
		}
	}
	return false
}

// IsPaymentFunction reports whether a function invocation should be treated
// as a payment (spec.md §4.6): a name hint, or a simultaneous
// destination-like + amount parameter pair.
func IsPaymentFunction(functionName string, parameters map[string]interface{}) bool {
	lowered := strings.ToLower(functionName)
	for _, hint := range paymentNameHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}

	hasDestination, hasAmount := false, false
	for key := range parameters {
		lk := strings.ToLower(key)
		if destinationLikeParams[lk] {
			hasDestination = true
		}
		if lk == "amount" {
			hasAmount = true
		}
	}
	return hasDestination && hasAmount
}

// RouteSmartWallet decides the routing sub-path (spec.md §4.6):
// routeSmartWallet ⇔ (paymentSource="smart-wallet") ∨ (contract.UseSmartWallet
// ∧ contract has a configured smart wallet ∧ isPaymentFunction(...)).
func RouteSmartWallet(c *database.CustomContract, paymentSource, functionName string, parameters map[string]interface{}) bool {
	if paymentSource == "smart-wallet" {
		return true
	}
	return c.UseSmartWallet && c.SmartWalletContractID.Valid && c.SmartWalletContractID.String != "" &&
		IsPaymentFunction(functionName, parameters)
}

// Credentials carries the key material or WebAuthn bundle needed to sign a
// call. SecretKey signs submissions on both paths; the WebAuthn fields are
// read only on the smart-wallet path.
type Credentials struct {
	SecretKey                 string
	PasskeyPublicKeySPKIHex   string
	WebauthnSignatureHex      string
	WebauthnAuthenticatorData string
	WebauthnClientData        string
	SignaturePayload          []byte
}

// Options carries the contextual inputs the caller passes alongside a
// function call (spec.md §4.6).
type Options struct {
	RuleID           string
	UpdateID         string
	MatchedPublicKey string
	PaymentSource    string
	SubmitToLedger   bool
}

// Request is the Executor's input.
type Request struct {
	UserID        string
	ContractID    string
	FunctionName  string
	Parameters    map[string]interface{}
	UserPublicKey string
	Creds         Credentials
	Opts          Options
}

// Result is the Executor's output (spec.md §6 response shape).
type Result struct {
	Success                  bool        `json:"success"`
	TransactionHash          string      `json:"transaction_hash,omitempty"`
	Ledger                   int64       `json:"ledger,omitempty"`
	RoutedThroughSmartWallet bool        `json:"routed_through_smart_wallet,omitempty"`
	ContractReturnValue      interface{} `json:"contract_return_value,omitempty"`
}

// Executor builds and submits contract invocations.
type Executor struct {
	contracts        *database.ContractRepository
	chain            chainrpc.Client
	poller           *chainrpc.HTTPClient // nil when chain is a test double with no poll loop
	nativeSACAddress string
}

// NewExecutor builds an Executor. poller may be nil in tests where chain is a
// stub Client that never leaves a submitted transaction PENDING.
func NewExecutor(contractsRepo *database.ContractRepository, chain chainrpc.Client, poller *chainrpc.HTTPClient, nativeSACAddress string) *Executor {
	return &Executor{contracts: contractsRepo, chain: chain, poller: poller, nativeSACAddress: nativeSACAddress}
}

// Execute runs the public Executor contract (spec.md §4.6).
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	contract, err := e.contracts.Get(ctx, req.ContractID)
	if err != nil {
		return nil, apierror.NotFound("contract %s not found", req.ContractID)
	}

	readOnly := IsReadOnly(req.FunctionName)
	if readOnly && !req.Opts.SubmitToLedger {
		sim, err := e.chain.Simulate(ctx, contract.Address, req.FunctionName, req.Parameters)
		if err != nil {
			return nil, apierror.ChainError("simulation failed", err)
		}
		return &Result{Success: sim.Success, ContractReturnValue: sim.ReturnValue}, nil
	}

	if RouteSmartWallet(contract, req.Opts.PaymentSource, req.FunctionName, req.Parameters) {
		return e.executeSmartWallet(ctx, contract, req)
	}
	return e.executeDirect(ctx, contract, req)
}

// executeDirect implements spec.md §4.6.1.
func (e *Executor) executeDirect(ctx context.Context, contract *database.CustomContract, req Request) (*Result, error) {
	mapping, err := e.resolveMapping(ctx, contract, req.FunctionName)
	if err != nil {
		return nil, err
	}

	if err := validateParameters(mapping, req.Parameters); err != nil {
		return nil, err
	}

	populated, err := e.populateParameters(mapping, req.Parameters, req)
	if err != nil {
		return nil, err
	}

	if contract.RequiresWebauthn || contract.UseSmartWallet {
		includeWebauthnFields(populated, req.Creds)
	} else {
		stripWebauthnFields(populated)
	}

	sim, err := e.chain.Simulate(ctx, contract.Address, req.FunctionName, populated)
	if err != nil {
		return nil, apierror.ChainError("simulation failed", err)
	}

	if IsReadOnly(req.FunctionName) && !req.Opts.SubmitToLedger {
		return &Result{Success: sim.Success, ContractReturnValue: sim.ReturnValue}, nil
	}
	if b, ok := sim.ReturnValue.AsBool(); ok && !b {
		return nil, apierror.ExecutionFailed("contract returned false")
	}

	return e.submitAndPoll(ctx, contract.Address, req.FunctionName, populated, req.Creds.SecretKey, false)
}

// executeSmartWallet implements spec.md §4.6.2.
func (e *Executor) executeSmartWallet(ctx context.Context, contract *database.CustomContract, req Request) (*Result, error) {
	if !contract.SmartWalletContractID.Valid || contract.SmartWalletContractID.String == "" {
		return nil, apierror.Validation("contract has no configured smartWalletContractId")
	}
	smartWalletAddr := contract.SmartWalletContractID.String

	spki, err := hex.DecodeString(req.Creds.PasskeyPublicKeySPKIHex)
	if err != nil {
		return nil, apierror.Validation("passkeyPublicKeySPKIHex is not valid hex: %v", err)
	}
	extractedPoint, err := webauthn.ExtractSPKIPoint(spki)
	if err != nil {
		return nil, apierror.Validation("could not extract P-256 point from SPKI: %v", err)
	}

	sim, err := e.chain.Simulate(ctx, smartWalletAddr, "get_passkey_pubkey", map[string]interface{}{"signer": req.UserPublicKey})
	if err != nil {
		return nil, apierror.ChainError("passkey pre-flight simulation failed", err)
	}
	if len(sim.ReturnValue.Bytes) > 0 && !bytesEqual(sim.ReturnValue.Bytes, extractedPoint) {
		return nil, apierror.PasskeyMismatch(hex.EncodeToString(sim.ReturnValue.Bytes), hex.EncodeToString(extractedPoint))
	}

	destination := req.Opts.MatchedPublicKey
	if destination == "" {
		if d, ok := req.Parameters["destination"].(string); ok {
			destination = d
		}
	}
	asset := contracts.CanonicalizeAsset(stringParam(req.Parameters, "asset"), e.nativeSACAddress)
	amount, err := contracts.CanonicalizeAmount(stringParam(req.Parameters, "amount"), contracts.AmountUnitXLM)
	if err != nil {
		return nil, err
	}

	// The get_balance result is neither inspected nor logged, so balance
	// sufficiency is not enforced here — the chain's execute_payment call is
	// the authority on whether it succeeds (spec.md §4.6.2).
	_, _ = e.chain.Simulate(ctx, smartWalletAddr, "get_balance", map[string]interface{}{
		"signer": req.UserPublicKey, "asset": asset,
	})

	hasSignature := req.Creds.WebauthnSignatureHex != ""
	var payload webauthn.SignaturePayload
	if webauthn.ShouldRegeneratePayload(req.Creds.SignaturePayload, hasSignature) {
		payload = webauthn.SignaturePayload{
			Source:      req.UserPublicKey,
			Destination: destination,
			Amount:      amount,
			Asset:       asset,
			Memo:        "",
			Timestamp:   time.Now().Unix(),
		}
	} else {
		payload, err = webauthn.NormalizeExistingPayload(req.Creds.SignaturePayload, req.UserPublicKey, destination, amount, asset, "")
		if err != nil {
			return nil, apierror.Validation("could not normalize existing signature payload: %v", err)
		}
	}
	payloadBytes, err := webauthn.CanonicalPayload(payload)
	if err != nil {
		return nil, apierror.Internal("failed to marshal signature payload", err)
	}

	var normalizedSig []byte
	if hasSignature {
		rawSig, err := hex.DecodeString(req.Creds.WebauthnSignatureHex)
		if err != nil {
			return nil, apierror.Validation("webauthnSignatureHex is not valid hex: %v", err)
		}
		normalizedSig, err = webauthn.NormalizeSignature(rawSig)
		if err != nil {
			return nil, apierror.Validation("invalid webauthn signature: %v", err)
		}
	}

	authData, _ := hex.DecodeString(req.Creds.WebauthnAuthenticatorData)

	params := map[string]interface{}{
		"signer":                   req.UserPublicKey,
		"destination":              destination,
		"amount_i128":              amount,
		"asset":                    asset,
		"signature_payload_bytes":  payloadBytes,
		"webauthn_signature_bytes": normalizedSig,
		"authenticator_data_bytes": authData,
		"client_data_bytes":        []byte(req.Creds.WebauthnClientData),
	}

	simExec, err := e.chain.Simulate(ctx, smartWalletAddr, "execute_payment", params)
	if err != nil {
		return nil, apierror.ChainError("execute_payment simulation failed", err)
	}
	if b, ok := simExec.ReturnValue.AsBool(); ok && !b {
		return nil, apierror.PaymentRejected("insufficient balance", "invalid webauthn signature", "bad parameter", "other")
	}

	return e.submitAndPoll(ctx, smartWalletAddr, "execute_payment", params, req.Creds.SecretKey, true)
}

func (e *Executor) submitAndPoll(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}, secretKey string, smartWallet bool) (*Result, error) {
	submitted, err := e.chain.SendTransaction(ctx, contractAddress, functionName, parameters, secretKey)
	if err != nil {
		return nil, apierror.ChainError("failed to submit transaction", err)
	}

	if e.poller == nil {
		return &Result{Success: true, TransactionHash: submitted.Hash, RoutedThroughSmartWallet: smartWallet}, nil
	}

	final, completed, err := e.poller.PollUntilTerminal(ctx, submitted.Hash)
	if err != nil {
		return nil, apierror.ChainError("failed to poll transaction status", err)
	}
	if !completed {
		return nil, apierror.PendingConfirmation(submitted.Hash)
	}
	if final.Status == chainrpc.TxStatusFailed {
		return nil, apierror.ExecutionFailed(fmt.Sprintf("transaction %s failed on-chain", submitted.Hash))
	}

	return &Result{
		Success:                  true,
		TransactionHash:          submitted.Hash,
		Ledger:                   final.Ledger,
		RoutedThroughSmartWallet: smartWallet,
		ContractReturnValue:      final.ReturnValue,
	}, nil
}

func (e *Executor) resolveMapping(ctx context.Context, contract *database.CustomContract, functionName string) (database.Mapping, error) {
	mappings, err := contract.GetFunctionMappings()
	if err != nil {
		return database.Mapping{}, apierror.Internal("failed to decode function mappings", err)
	}
	if m, ok := mappings[functionName]; ok {
		return m, nil
	}

	discovered, err := contract.GetDiscoveredFunctions()
	if err != nil {
		return database.Mapping{}, apierror.Internal("failed to decode discovered functions", err)
	}
	sig, ok := discovered[functionName]
	if !ok {
		return database.Mapping{}, apierror.Validation("unknown function %q", functionName)
	}

	mapping := contracts.InferMapping(sig)
	mappings[functionName] = mapping
	if err := e.contracts.UpdateMappings(ctx, contract.ID, mappings); err != nil {
		return database.Mapping{}, apierror.Internal("failed to persist inferred mapping", err)
	}
	return mapping, nil
}

func validateParameters(mapping database.Mapping, provided map[string]interface{}) error {
	known := make(map[string]bool, len(mapping.Parameters))
	var violations []string
	for _, p := range mapping.Parameters {
		known[p.Name] = true
		if p.MappedFrom == "" {
			if _, ok := provided[p.Name]; !ok {
				violations = append(violations, fmt.Sprintf("missing required parameter %q", p.Name))
			}
		}
	}
	for name := range provided {
		if !known[name] && !strings.HasPrefix(name, "webauthn_") && name != "signature_payload" {
			violations = append(violations, fmt.Sprintf("unknown parameter %q", name))
		}
	}
	if len(violations) > 0 {
		return apierror.Validation("%s", strings.Join(violations, "; "))
	}
	return nil
}

func (e *Executor) populateParameters(mapping database.Mapping, provided map[string]interface{}, req Request) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(mapping.Parameters))
	for k, v := range provided {
		out[k] = v
	}

	for _, p := range mapping.Parameters {
		switch p.MappedFrom {
		case contracts.SourceUserPublicKey:
			out[p.Name] = req.UserPublicKey
		case contracts.SourceMatchedPublicKey:
			if req.Opts.MatchedPublicKey != "" {
				out[p.Name] = req.Opts.MatchedPublicKey
			}
		case contracts.SourceNativeSAC:
			out[p.Name] = contracts.CanonicalizeAsset(stringParam(out, p.Name), e.nativeSACAddress)
		case contracts.SourceStroopsFromXLM:
			canon, err := contracts.CanonicalizeAmount(stringParam(out, p.Name), contracts.AmountUnitXLM)
			if err != nil {
				return nil, err
			}
			out[p.Name] = canon
		}
	}
	return out, nil
}

func includeWebauthnFields(params map[string]interface{}, creds Credentials) {
	params["signature_payload"] = creds.SignaturePayload
	params["webauthn_signature"] = creds.WebauthnSignatureHex
	params["webauthn_authenticator_data"] = creds.WebauthnAuthenticatorData
	params["webauthn_client_data"] = creds.WebauthnClientData
}

func stripWebauthnFields(params map[string]interface{}) {
	delete(params, "signature_payload")
	delete(params, "webauthn_signature")
	delete(params, "webauthn_authenticator_data")
	delete(params, "webauthn_client_data")
}

func stringParam(params map[string]interface{}, name string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return ""
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
