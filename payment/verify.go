/*
verify.go - Confirmation callback verification

PURPOSE:
  The confirmation callback arrives without a session: it comes from
  the payment processor, not from a logged-in buyer. It must be
  verified before anything in its body is believed. Verification is a
  pluggable strategy because processors differ in how they sign
  webhooks.

STRATEGIES:
  HMACVerifier: shared-secret HMAC-SHA256 over the raw request body,
                hex-encoded in a header. The default.
  NoopVerifier: accepts everything. Dev/test only.

SEE ALSO:
  - api/handlers.go: CompleteCreditPurchase, the only caller
*/
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

// SignatureHeader carries the callback signature.
const SignatureHeader = "X-Payment-Signature"

// ErrBadSignature is returned when a callback fails verification.
var ErrBadSignature = errors.New("invalid callback signature")

// Verifier authenticates a confirmation callback before its body is
// trusted. body is the raw request body as received.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// =============================================================================
// HMAC VERIFIER
// =============================================================================

// HMACVerifier checks an HMAC-SHA256 signature over the raw body.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(r *http.Request, body []byte) error {
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return ErrBadSignature
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature for a body. Used by tests and by
// processor simulators.
func (v *HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// NOOP VERIFIER
// =============================================================================

// NoopVerifier accepts every callback. Only for dev and tests.
type NoopVerifier struct{}

func (NoopVerifier) Verify(*http.Request, []byte) error { return nil }
