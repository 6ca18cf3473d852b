package contracts

import (
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

func TestValidateAddress(t *testing.T) {
	valid := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCDEFGHIJKLMNOPQRST"
	if len(valid) != 56 {
		t.Fatalf("test fixture address must be 56 chars, got %d", len(valid))
	}
	if err := ValidateAddress(valid); err != nil {
		t.Fatalf("expected valid address to pass, got %v", err)
	}
	if err := ValidateAddress("too-short"); err == nil {
		t.Fatalf("expected a short address to fail")
	}
}

func TestInferMappingSources(t *testing.T) {
	sig := database.FunctionSig{
		Name: "transfer",
		Parameters: []database.ParameterSpec{
			{Name: "signer_address", Type: "Address"},
			{Name: "destination", Type: "Address"},
			{Name: "asset", Type: "Address"},
			{Name: "amount", Type: "I128"},
			{Name: "current_latitude", Type: "I64"},
			{Name: "current_longitude", Type: "I64"},
			{Name: "webauthn_signature", Type: "Bytes"},
			{Name: "memo", Type: "String"},
		},
	}
	mapping := InferMapping(sig)

	want := map[string]string{
		"signer_address":     SourceUserPublicKey,
		"destination":        SourceMatchedPublicKey,
		"asset":              SourceNativeSAC,
		"amount":             SourceStroopsFromXLM,
		"current_latitude":   SourceCurrentLatitude,
		"current_longitude":  SourceCurrentLongitude,
		"webauthn_signature": SourceWebauthnField,
		"memo":               "",
	}
	got := map[string]string{}
	for _, p := range mapping.Parameters {
		got[p.Name] = p.MappedFrom
	}
	for name, expected := range want {
		if got[name] != expected {
			t.Errorf("parameter %q: expected mappedFrom %q, got %q", name, expected, got[name])
		}
	}
	if mapping.AutoExecute {
		t.Errorf("inferred mapping should default autoExecute=false")
	}
	if !mapping.RequiresConfirmation {
		t.Errorf("inferred mapping should default requiresConfirmation=true")
	}
}

func TestHasLocationMapping(t *testing.T) {
	withLoc := database.Mapping{Parameters: []database.MappedParameter{{Name: "current_latitude", MappedFrom: SourceCurrentLatitude}}}
	if !HasLocationMapping(withLoc) {
		t.Fatalf("expected HasLocationMapping true")
	}
	without := database.Mapping{Parameters: []database.MappedParameter{{Name: "amount", MappedFrom: SourceStroopsFromXLM}}}
	if HasLocationMapping(without) {
		t.Fatalf("expected HasLocationMapping false")
	}
}

func TestCanonicalizeAmountXLM(t *testing.T) {
	out, err := CanonicalizeAmount("12.5", AmountUnitXLM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "125000000" {
		t.Fatalf("expected 125000000 stroops, got %s", out)
	}
}

func TestCanonicalizeAmountSmallInteger(t *testing.T) {
	out, err := CanonicalizeAmount("42", AmountUnitXLM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "420000000" {
		t.Fatalf("expected a sub-10^6 integer to be interpreted as XLM, got %s", out)
	}
}

func TestCanonicalizeAmountAlreadyStroops(t *testing.T) {
	out, err := CanonicalizeAmount("50000000000", AmountUnitXLM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "50000000000" {
		t.Fatalf("expected a large integer to pass through unchanged, got %s", out)
	}
}

func TestCanonicalizeAmountSmallStroopsIsNotReinterpreted(t *testing.T) {
	out, err := CanonicalizeAmount("100", AmountUnitStroops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "100" {
		t.Fatalf("expected a sub-10^6 stroops value to pass through unchanged, got %s", out)
	}
}

func TestCanonicalizeAmountIsIdempotent(t *testing.T) {
	once, err := CanonicalizeAmount("50000000000", AmountUnitXLM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := CanonicalizeAmount(once, AmountUnitStroops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != twice {
		t.Fatalf("CanonicalizeAmount must be idempotent: %s != %s", once, twice)
	}
}

// A small decimal XLM amount converts to a sub-10^6 stroop value; feeding
// that value back in as AmountUnitStroops (the correct way to re-canonicalize
// a value that may already be in stroops) must not re-multiply it, unlike
// the old heuristic which could not tell "100 stroops" from "100 XLM".
func TestCanonicalizeAmountSmallDecimalXLMIsIdempotentWhenReapplied(t *testing.T) {
	once, err := CanonicalizeAmount("0.00001", AmountUnitXLM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != "100" {
		t.Fatalf("expected 0.00001 XLM to canonicalize to 100 stroops, got %s", once)
	}
	twice, err := CanonicalizeAmount(once, AmountUnitStroops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if twice != once {
		t.Fatalf("CanonicalizeAmount must be idempotent for small stroop values: %s != %s", once, twice)
	}
}

func TestCanonicalizeAmountInvalid(t *testing.T) {
	if _, err := CanonicalizeAmount("not-a-number", AmountUnitXLM); err == nil {
		t.Fatalf("expected an error for a non-numeric amount")
	} else if apiErr, ok := err.(*apierror.Error); !ok || apiErr.Kind != apierror.KindValidation {
		t.Fatalf("expected a ValidationError, got %v", err)
	}
}

func TestCanonicalizeAsset(t *testing.T) {
	native := "CNATIVESACADDRESSXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	for _, raw := range []string{"XLM", "native", ""} {
		if got := CanonicalizeAsset(raw, native); got != native {
			t.Errorf("CanonicalizeAsset(%q): expected native SAC address, got %q", raw, got)
		}
	}
	other := "CSOMEOTHERASSETXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	if got := CanonicalizeAsset(other, native); got != other {
		t.Errorf("expected a non-native asset to pass through, got %q", got)
	}
}
