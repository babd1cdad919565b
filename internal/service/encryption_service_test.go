package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNewAESEncryptionService_InvalidKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zz-not-hex"},
		{"too short", "0123456789abcdef"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESEncryptionService(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestAESEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	secret := "whsec_8f2a1c9d4e"
	enc, err := svc.Encrypt(secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, enc)

	dec, err := svc.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, secret, dec)
}

func TestAESEncryptionService_EncryptIsRandomized(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	enc1, err := svc.Encrypt("same-secret")
	require.NoError(t, err)
	enc2, err := svc.Encrypt("same-secret")
	require.NoError(t, err)

	// Random nonce means distinct ciphertexts for the same plaintext.
	assert.NotEqual(t, enc1, enc2)
}

func TestAESEncryptionService_Decrypt_Garbage(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	_, err = svc.Decrypt("not-hex")
	assert.Error(t, err)

	_, err = svc.Decrypt("abcd") // valid hex, too short for a nonce
	assert.Error(t, err)
}

func TestAESEncryptionService_Decrypt_Tampered(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	enc, err := svc.Encrypt("secret")
	require.NoError(t, err)

	// Flip the last hex digit; GCM authentication must reject it.
	last := enc[len(enc)-1]
	replacement := "0"
	if last == '0' {
		replacement = "1"
	}
	tampered := enc[:len(enc)-1] + replacement
	if strings.EqualFold(tampered, enc) {
		t.Fatal("tampering produced identical ciphertext")
	}

	_, err = svc.Decrypt(tampered)
	assert.Error(t, err)
}
