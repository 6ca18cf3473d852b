package execution

import (
	"database/sql"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

func TestIsReadOnly(t *testing.T) {
	cases := map[string]bool{
		"get_balance":      true,
		"is_active":        true,
		"check_quorum":     true,
		"transfer":         false,
		"execute_payment":  false,
	}
	for name, want := range cases {
		if got := IsReadOnly(name); got != want {
			t.Errorf("IsReadOnly(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsPaymentFunctionByName(t *testing.T) {
	if !IsPaymentFunction("transfer_funds", nil) {
		t.Fatalf("expected a name containing \"transfer\" to be a payment function")
	}
	if IsPaymentFunction("get_balance", nil) {
		t.Fatalf("did not expect get_balance to be a payment function")
	}
}

func TestIsPaymentFunctionByParameterShape(t *testing.T) {
	params := map[string]interface{}{"destination": "GABC", "amount": "100"}
	if !IsPaymentFunction("custom_call", params) {
		t.Fatalf("expected destination+amount params to mark a payment function")
	}
	if IsPaymentFunction("custom_call", map[string]interface{}{"destination": "GABC"}) {
		t.Fatalf("a destination with no amount should not count as a payment")
	}
}

func TestRouteSmartWalletExplicitSource(t *testing.T) {
	c := &database.CustomContract{}
	if !RouteSmartWallet(c, "smart-wallet", "anything", nil) {
		t.Fatalf("paymentSource=smart-wallet must always route to the smart wallet")
	}
}

func TestRouteSmartWalletInferredFromContract(t *testing.T) {
	c := &database.CustomContract{
		UseSmartWallet:         true,
		SmartWalletContractID:  sql.NullString{String: "C...", Valid: true},
	}
	params := map[string]interface{}{"destination": "GABC", "amount": "100"}
	if !RouteSmartWallet(c, "", "transfer", params) {
		t.Fatalf("expected a UseSmartWallet contract with a payment call to route to the smart wallet")
	}
	if RouteSmartWallet(c, "", "get_balance", map[string]interface{}{"asset": "X"}) {
		t.Fatalf("a call with no payment name hint and no destination+amount pair should not route to the smart wallet")
	}
}

func TestRouteSmartWalletNoConfiguredWallet(t *testing.T) {
	c := &database.CustomContract{UseSmartWallet: true}
	params := map[string]interface{}{"destination": "GABC", "amount": "100"}
	if RouteSmartWallet(c, "", "transfer", params) {
		t.Fatalf("a contract with no smartWalletContractId must never route to the smart wallet")
	}
}

func TestValidateParametersMissingRequired(t *testing.T) {
	mapping := database.Mapping{Parameters: []database.MappedParameter{{Name: "amount"}}}
	if err := validateParameters(mapping, map[string]interface{}{}); err == nil {
		t.Fatalf("expected an error for a missing required parameter")
	}
}

func TestValidateParametersUnknown(t *testing.T) {
	mapping := database.Mapping{Parameters: []database.MappedParameter{{Name: "amount"}}}
	if err := validateParameters(mapping, map[string]interface{}{"amount": "1", "bogus": "x"}); err == nil {
		t.Fatalf("expected an error for an unknown parameter")
	}
}

func TestValidateParametersAllowsMappedAndWebauthn(t *testing.T) {
	mapping := database.Mapping{Parameters: []database.MappedParameter{
		{Name: "signer", MappedFrom: "user_public_key"},
	}}
	provided := map[string]interface{}{"webauthn_signature": "abc"}
	if err := validateParameters(mapping, provided); err != nil {
		t.Fatalf("expected mapped and webauthn_ parameters to be allowed, got %v", err)
	}
}

func TestPopulateParametersAppliesSources(t *testing.T) {
	e := &Executor{nativeSACAddress: "CNATIVE"}
	mapping := database.Mapping{Parameters: []database.MappedParameter{
		{Name: "signer", MappedFrom: "user_public_key"},
		{Name: "asset", MappedFrom: "native_sac_address"},
		{Name: "amount", MappedFrom: "stroops_from_xlm"},
	}}
	req := Request{UserPublicKey: "GUSER", Parameters: map[string]interface{}{"amount": "5"}}

	out, err := e.populateParameters(mapping, req.Parameters, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["signer"] != "GUSER" {
		t.Errorf("expected signer to be populated from UserPublicKey, got %v", out["signer"])
	}
	if out["asset"] != "CNATIVE" {
		t.Errorf("expected asset to resolve to the native SAC address, got %v", out["asset"])
	}
	if out["amount"] != "50000000" {
		t.Errorf("expected amount to be canonicalized to stroops, got %v", out["amount"])
	}
}

func TestStripAndIncludeWebauthnFields(t *testing.T) {
	params := map[string]interface{}{"amount": "1"}
	includeWebauthnFields(params, Credentials{WebauthnSignatureHex: "ab"})
	if params["webauthn_signature"] != "ab" {
		t.Fatalf("expected webauthn_signature to be included")
	}
	stripWebauthnFields(params)
	if _, ok := params["webauthn_signature"]; ok {
		t.Fatalf("expected webauthn_signature to be stripped")
	}
}
