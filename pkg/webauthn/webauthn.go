// Package webauthn implements the narrow slice of WebAuthn/COSE handling the
// smart-wallet execution path needs: extracting the raw P-256 point from a
// caller-supplied SPKI, normalizing ASN.1 DER or raw signatures to canonical
// raw64, and building/validating the canonical signature payload. No WebAuthn
// or COSE library appears anywhere in the retrieved corpus, so this is built
// directly on crypto/elliptic, encoding/asn1, and math/big.
package webauthn

import (
	"crypto/elliptic"
	"encoding/asn1"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// SPKIPointSize is the length of an uncompressed P-256 point: 0x04 || X(32) || Y(32).
const SPKIPointSize = 65

var (
	// ErrInvalidSPKI is returned when the SPKI does not contain a recognizable
	// uncompressed P-256 point.
	ErrInvalidSPKI = errors.New("spki does not contain an uncompressed P-256 point")

	// ErrInvalidSignature is returned when a signature is neither 64-byte raw
	// nor a parseable 70-72 byte ASN.1 DER encoding.
	ErrInvalidSignature = errors.New("signature is neither raw64 nor valid DER")
)

// ExtractSPKIPoint scans a DER-encoded SubjectPublicKeyInfo for the 65-byte
// uncompressed P-256 point (0x04 prefix followed by 64 bytes). SPKI wraps the
// point in ASN.1 structure whose exact nesting varies by encoder, so this
// looks for the point's byte signature directly rather than fully parsing the
// ASN.1 (spec.md GLOSSARY: SPKI).
func ExtractSPKIPoint(spki []byte) ([]byte, error) {
	for i := 0; i+SPKIPointSize <= len(spki); i++ {
		if spki[i] == 0x04 {
			candidate := spki[i : i+SPKIPointSize]
			if isOnCurve(candidate) {
				return candidate, nil
			}
		}
	}
	return nil, ErrInvalidSPKI
}

func isOnCurve(point []byte) bool {
	if len(point) != SPKIPointSize || point[0] != 0x04 {
		return false
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(point[1:33])
	y := new(big.Int).SetBytes(point[33:65])
	return curve.IsOnCurve(x, y)
}

// derSignature is the ASN.1 structure of an ECDSA signature: SEQUENCE { r
// INTEGER, s INTEGER }.
type derSignature struct {
	R *big.Int
	S *big.Int
}

// NormalizeSignature decodes a WebAuthn signature — ASN.1 DER (70-72 bytes)
// or raw (64 bytes) — into canonical raw64 (r||s, each left-padded to 32
// bytes) with low-S normalization applied (spec.md §4.6.2, §8 invariant 8).
func NormalizeSignature(sig []byte) ([]byte, error) {
	var r, s *big.Int

	switch {
	case len(sig) == 64:
		r = new(big.Int).SetBytes(sig[:32])
		s = new(big.Int).SetBytes(sig[32:])
	case len(sig) >= 70 && len(sig) <= 72:
		var parsed derSignature
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		r, s = parsed.R, parsed.S
	default:
		return nil, ErrInvalidSignature
	}

	s = lowS(s)
	return encodeRaw64(r, s), nil
}

// lowS returns the canonical low-S value: if s > n/2, return n - s.
func lowS(s *big.Int) *big.Int {
	n := elliptic.P256().Params().N
	half := new(big.Int).Rsh(n, 1)
	if s.Cmp(half) > 0 {
		return new(big.Int).Sub(n, s)
	}
	return s
}

func encodeRaw64(r, s *big.Int) []byte {
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

// SignaturePayload is the canonical 6-key JSON object the WebAuthn signature
// must be produced over (spec.md §4.6.2, §8 invariant 5). Field order is
// fixed by struct tag order via json.Marshal.
type SignaturePayload struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"` // stroops, as a string
	Asset       string `json:"asset"`  // SAC contract address
	Memo        string `json:"memo"`
	Timestamp   int64  `json:"timestamp"`
}

// CanonicalPayload marshals a SignaturePayload to the exact byte sequence
// the signature must cover.
func CanonicalPayload(p SignaturePayload) ([]byte, error) {
	return json.Marshal(p)
}

// legacyPayload is the deprecated {function, contract_id, ...} shape some
// existing callers still send (spec.md Open Questions).
type legacyPayload struct {
	Function   string `json:"function"`
	ContractID string `json:"contract_id"`
}

// IsLegacyShape reports whether raw decodes as the legacy payload shape
// rather than the canonical SignaturePayload shape.
func IsLegacyShape(raw []byte) bool {
	var legacy legacyPayload
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return false
	}
	var canonical SignaturePayload
	if err := json.Unmarshal(raw, &canonical); err == nil && canonical.Source != "" {
		return false
	}
	return legacy.Function != "" || legacy.ContractID != ""
}

// ShouldRegeneratePayload decides whether a supplied payload must be rebuilt
// from scratch rather than normalized and reused. Per spec.md §4.6.2: never
// rebuild when a signature is already attached, unless the existing payload
// is legacy-shaped and the attached signature does not depend on it (i.e. no
// signature is attached at all).
func ShouldRegeneratePayload(existingPayload []byte, hasAttachedSignature bool) bool {
	if len(existingPayload) == 0 {
		return true
	}
	if !hasAttachedSignature {
		return IsLegacyShape(existingPayload)
	}
	return false
}

// NormalizeExistingPayload rewrites a caller-supplied payload into the
// canonical shape, preserving the caller's timestamp, per spec.md §4.6.2.
func NormalizeExistingPayload(raw []byte, source, destination, amountStroops, asset, memo string) (SignaturePayload, error) {
	var existing struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &existing); err != nil {
		return SignaturePayload{}, fmt.Errorf("failed to read existing payload timestamp: %w", err)
	}
	return SignaturePayload{
		Source:      source,
		Destination: destination,
		Amount:      amountStroops,
		Asset:       asset,
		Memo:        memo,
		Timestamp:   existing.Timestamp,
	}, nil
}
