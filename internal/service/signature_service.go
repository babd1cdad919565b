package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignatureScheme prefixes outbound webhook signatures, e.g.
// "X-Webhook-Signature: sha256=<hex>".
const SignatureScheme = "sha256="

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secret.
// Returns lowercase hex-encoded signature. The payload must be the exact
// bytes sent on the wire; signing a re-serialization would let formatting
// differences invalidate the signature.
func (s *HMACSignatureService) Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secret, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secret string, payload []byte, signature string) bool {
	expected := s.Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BuildCanonicalString constructs the canonical payload for producer
// request signing. Format: METHOD|PATH|TIMESTAMP|NONCE|BODY
func (s *HMACSignatureService) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, body)
}
