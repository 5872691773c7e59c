// Package signing provides HMAC-SHA256 integrity signing for values that
// cross a trust boundary inside Lattice: exec-session protocol lines
// published on the event bus, and audit log entries. Both are in-memory
// only, so the signature's purpose is tamper-evidence for downstream
// consumers (dashboards, log shippers), not transport authentication.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Signer creates and verifies HMAC-SHA256 signatures over a (subject,
// payload) pair.
type Signer struct {
	key []byte
}

// NewSigner creates a signer with the given shared secret.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign computes HMAC-SHA256 over subject|json(payload), hex-encoded.
func (s *Signer) Sign(subject string, payload any) (string, error) {
	canonical, err := canonicalize(subject, payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks that signature matches subject/payload under this
// signer's key.
func (s *Signer) Verify(subject string, payload any, signature string) error {
	expected, err := s.Sign(subject, payload)
	if err != nil {
		return fmt.Errorf("compute expected: %w", err)
	}
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return fmt.Errorf("decode expected: %w", err)
	}
	if !hmac.Equal(sigBytes, expectedBytes) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func canonicalize(subject string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	canonical := make([]byte, 0, len(subject)+1+len(data))
	canonical = append(canonical, []byte(subject)...)
	canonical = append(canonical, '|')
	canonical = append(canonical, data...)
	return canonical, nil
}
