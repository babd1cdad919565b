package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_Sign_Deterministic(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte(`{"id":"d-1","event":"order.shipped","created":1700000000,"data":{"order_id":42}}`)
	sig1 := svc.Sign("endpoint-secret", body)
	sig2 := svc.Sign("endpoint-secret", body)

	assert.Equal(t, sig1, sig2, "same secret and bytes must produce the same signature")
	assert.Len(t, sig1, 64, "hex-encoded SHA-256 output")
}

func TestHMACSignatureService_Sign_MatchesReference(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte("payload bytes")
	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, svc.Sign("key", body))
}

func TestHMACSignatureService_RoundTrip(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte(`{"id":"d-2","event":"order.created","data":{}}`)
	sig := svc.Sign("secret", body)

	assert.True(t, svc.Verify("secret", body, sig))
}

func TestHMACSignatureService_Verify_TamperedBody(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte(`{"id":"d-3","event":"order.cancelled","data":{"order_id":7}}`)
	sig := svc.Sign("secret", body)

	// Flip a single byte.
	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[len(tampered)/2] ^= 0x01

	assert.False(t, svc.Verify("secret", tampered, sig))
}

func TestHMACSignatureService_Verify_WrongSecret(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte("body")
	sig := svc.Sign("right-secret", body)

	assert.False(t, svc.Verify("wrong-secret", body, sig))
}

func TestHMACSignatureService_DifferentSecretsDiffer(t *testing.T) {
	svc := NewHMACSignatureService()

	body := []byte("body")
	assert.NotEqual(t, svc.Sign("secret-a", body), svc.Sign("secret-b", body))
}

func TestHMACSignatureService_BuildCanonicalString(t *testing.T) {
	svc := NewHMACSignatureService()

	canonical := svc.BuildCanonicalString("POST", "/api/v1/events", 1700000000, "nonce-1", `{"type":"order.shipped"}`)
	assert.Equal(t, `POST|/api/v1/events|1700000000|nonce-1|{"type":"order.shipped"}`, canonical)
}
