package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

// Signer produces HMAC-SHA256 signatures for outbound webhook payloads
type Signer struct {
	key []byte
}

// NewSigner creates a signer; the secret must not be empty
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret must not be empty")
	}
	return &Signer{key: []byte(secret)}, nil
}

// Sign returns "sha256=<hex digest>" of body
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time
func (s *Signer) Verify(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
