package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/velro/authz-core/internal/service/layers"
)

// Signer issues signed, time-bounded URLs for underlying media,
// implementing layers.Signer. Every signed URL is validated against
// the Guard's SSRF allow-list before being handed back, since a signed
// URL a caller controls the shape of is itself an SSRF vector if the
// storage base is ever misconfigured.
type Signer struct {
	baseURL string
	secret  []byte
	guard   *Guard
	now     func() time.Time
}

// New constructs a Signer. baseURL is the storage provider's public
// endpoint (e.g. "https://cdn.example.com"); its host must appear in
// guard's allow-list or every Sign call will fail closed.
func New(baseURL string, secret []byte, guard *Guard) *Signer {
	return &Signer{baseURL: baseURL, secret: secret, guard: guard, now: time.Now}
}

var _ layers.Signer = (*Signer)(nil)

// Sign implements layers.Signer: Sign(resource_ref, operation, ttl) ->
// signed_url (spec §6).
func (s *Signer) Sign(ctx context.Context, resourceRef, operation string, ttlSeconds int64) (string, error) {
	if ttlSeconds <= 0 {
		return "", fmt.Errorf("signer: ttl must be positive")
	}

	expiresAt := s.now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
	signature := s.sign(resourceRef, operation, expiresAt)

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("signer: invalid base url: %w", err)
	}
	u.Path = joinPath(u.Path, resourceRef)
	q := u.Query()
	q.Set("op", operation)
	q.Set("expires", fmt.Sprintf("%d", expiresAt))
	q.Set("sig", signature)
	u.RawQuery = q.Encode()

	signedURL := u.String()
	if err := s.guard.Validate(ctx, signedURL); err != nil {
		return "", fmt.Errorf("signer: refusing to issue url: %w", err)
	}
	return signedURL, nil
}

func (s *Signer) sign(resourceRef, operation string, expiresAt int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s:%d", resourceRef, operation, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature for (resourceRef, operation,
// expiresAt) and compares it in constant time, for the storage layer's
// own verification of an incoming signed request.
func (s *Signer) VerifySignature(resourceRef, operation string, expiresAt int64, signature string) bool {
	expected := s.sign(resourceRef, operation, expiresAt)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func joinPath(base, ref string) string {
	if base == "" {
		return "/" + ref
	}
	if base[len(base)-1] == '/' {
		return base + ref
	}
	return base + "/" + ref
}
