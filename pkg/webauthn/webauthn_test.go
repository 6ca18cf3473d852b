package webauthn

import (
	"crypto/elliptic"
	"crypto/rand"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateP256Point(t *testing.T) []byte {
	t.Helper()
	curve := elliptic.P256()
	priv, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	_ = priv
	return elliptic.Marshal(curve, x, y)
}

func TestExtractSPKIPointFindsEmbeddedPoint(t *testing.T) {
	point := generateP256Point(t)
	// Simulate ASN.1 wrapper padding around the point.
	spki := append([]byte{0x30, 0x59, 0x30, 0x13, 0x06, 0x07}, point...)

	extracted, err := ExtractSPKIPoint(spki)
	require.NoError(t, err)
	require.Equal(t, point, extracted)
}

func TestExtractSPKIPointRejectsGarbage(t *testing.T) {
	_, err := ExtractSPKIPoint([]byte{0x01, 0x02, 0x03})
	require.ErrorIs(t, err, ErrInvalidSPKI)
}

func TestNormalizeSignatureRaw64RoundTrip(t *testing.T) {
	r := new(big.Int).SetInt64(12345)
	s := new(big.Int).SetInt64(67890)
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	normalized, err := NormalizeSignature(raw)
	require.NoError(t, err)
	require.Len(t, normalized, 64)
	require.Equal(t, raw[:32], normalized[:32])
}

func TestNormalizeSignatureDER(t *testing.T) {
	// Full-width r and s give a 71-byte DER encoding (r needs a leading zero
	// byte), inside the 70-72 byte range NormalizeSignature accepts; s stays
	// below n/2 so low-S leaves it alone.
	n := elliptic.P256().Params().N
	r := new(big.Int).Sub(n, big.NewInt(5))
	s := new(big.Int).Rsh(n, 2)
	der, err := asn1.Marshal(derSignature{R: r, S: s})
	require.NoError(t, err)

	normalized, err := NormalizeSignature(der)
	require.NoError(t, err)
	require.Len(t, normalized, 64)
	require.Equal(t, r, new(big.Int).SetBytes(normalized[:32]))
}

func TestNormalizeSignatureLowS(t *testing.T) {
	n := elliptic.P256().Params().N
	highS := new(big.Int).Sub(n, big.NewInt(1)) // > n/2
	r := big.NewInt(42)
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	highS.FillBytes(raw[32:])

	normalized, err := NormalizeSignature(raw)
	require.NoError(t, err)

	gotS := new(big.Int).SetBytes(normalized[32:])
	half := new(big.Int).Rsh(n, 1)
	require.True(t, gotS.Cmp(half) <= 0, "expected low-S normalized value")
}

func TestNormalizeSignatureRejectsBadLength(t *testing.T) {
	_, err := NormalizeSignature([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCanonicalPayloadKeyOrder(t *testing.T) {
	payload := SignaturePayload{
		Source:      "GSOURCE",
		Destination: "GDEST",
		Amount:      "10000000",
		Asset:       "CASSET",
		Memo:        "",
		Timestamp:   1700000000,
	}
	raw, err := CanonicalPayload(payload)
	require.NoError(t, err)
	require.Equal(t, `{"source":"GSOURCE","destination":"GDEST","amount":"10000000","asset":"CASSET","memo":"","timestamp":1700000000}`, string(raw))
}

func TestShouldRegeneratePayload(t *testing.T) {
	require.True(t, ShouldRegeneratePayload(nil, false))
	require.False(t, ShouldRegeneratePayload([]byte(`{"source":"x"}`), true))

	legacy := []byte(`{"function":"transfer","contract_id":"C123"}`)
	require.True(t, ShouldRegeneratePayload(legacy, false))
	require.False(t, ShouldRegeneratePayload(legacy, true))
}
