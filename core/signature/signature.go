package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MaxClockSkew bounds the age of the timestamp accompanying a signed
// request. Signatures themselves carry no freshness, so VerifyRequest
// rejects timestamps outside this window to stop replays.
const MaxClockSkew = 300 * time.Second

// ConfigurationError reports an unusable signing setup, typically an
// empty secret. It is fatal at startup scope.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("signature configuration: %s", e.Reason)
}

// MismatchError reports a failed authenticity check. Requests carrying
// a bad digest are rejected before any domain logic runs.
type MismatchError struct {
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("signature mismatch: %s", e.Reason)
}

// Service signs and verifies canonical request strings with
// HMAC-SHA256. Both webhook ingestion and outbound command envelopes
// authenticate through it.
type Service struct {
	secret []byte
}

// New creates a Service. The secret must be non-empty.
func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, &ConfigurationError{Reason: "empty secret key"}
	}
	return &Service{secret: []byte(secret)}, nil
}

// Canonical builds the deterministic string signed for a request:
// METHOD|PATH|BODY_JSON|UNIX_TS. body may be nil for bodyless
// requests; otherwise it is minified JSON.
func Canonical(method, path string, body any, unixTS int64) (string, error) {
	bodyJSON := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("canonicalize body: %w", err)
		}
		bodyJSON = string(b)
	}
	return fmt.Sprintf("%s|%s|%s|%d", method, path, bodyJSON, unixTS), nil
}

// Sign returns the lowercase hex HMAC-SHA256 digest of the canonical
// string.
func (s *Service) Sign(canonical string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify re-signs the canonical string and compares digests in
// constant time. It carries no freshness check; callers wanting replay
// protection use VerifyRequest.
func (s *Service) Verify(canonical, providedDigest string) bool {
	expected := s.Sign(canonical)
	// hmac.Equal is constant time; decoding first avoids case
	// sensitivity on the hex representation.
	got, err := hex.DecodeString(providedDigest)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(expected)
	return hmac.Equal(got, want)
}

// VerifyRequest authenticates a request from its parts, the digest and
// timestamp carried in headers, and the current time. The timestamp
// must fall within MaxClockSkew of now in either direction.
func (s *Service) VerifyRequest(method, path string, body any, unixTS int64, digest string, now time.Time) error {
	age := now.Unix() - unixTS
	if age < 0 {
		age = -age
	}
	if age > int64(MaxClockSkew/time.Second) {
		return &MismatchError{Reason: "timestamp outside acceptance window"}
	}
	canonical, err := Canonical(method, path, body, unixTS)
	if err != nil {
		return err
	}
	if !s.Verify(canonical, digest) {
		return &MismatchError{Reason: "digest does not match"}
	}
	return nil
}
