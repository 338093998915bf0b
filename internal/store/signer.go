package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBadSignature means a signed evidence file failed verification.
var ErrBadSignature = errors.New("evidence file signature mismatch")

// Signer authenticates evidence files with HMAC-SHA256. The key belongs
// to the investigation, not the code; it arrives via configuration.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from a shared key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < 16 {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex MAC of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks data against a hex MAC in constant time.
func (s *Signer) Verify(data []byte, signature string) error {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}
