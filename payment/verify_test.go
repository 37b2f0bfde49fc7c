package payment_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/learnxtrade/credit-engine/payment"
)

func TestHMACVerifier_ValidSignature(t *testing.T) {
	v := payment.NewHMACVerifier("shh")
	body := []byte(`{"paymentId":"pi-1"}`)

	r := httptest.NewRequest("POST", "/credit/complete-purchase", nil)
	r.Header.Set(payment.SignatureHeader, v.Sign(body))

	assert.NoError(t, v.Verify(r, body))
}

func TestHMACVerifier_RejectsBadSignatures(t *testing.T) {
	v := payment.NewHMACVerifier("shh")
	body := []byte(`{"paymentId":"pi-1"}`)

	tests := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"not hex", "zzzz"},
		{"wrong secret", payment.NewHMACVerifier("other").Sign(body)},
		{"signed different body", v.Sign([]byte(`{"paymentId":"pi-2"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/credit/complete-purchase", nil)
			if tt.sig != "" {
				r.Header.Set(payment.SignatureHeader, tt.sig)
			}
			assert.ErrorIs(t, v.Verify(r, body), payment.ErrBadSignature)
		})
	}
}

func TestHMACVerifier_TamperedBody(t *testing.T) {
	// The signature covers the raw body; any byte change invalidates it.
	v := payment.NewHMACVerifier("shh")
	body := []byte(`{"paymentId":"pi-1","creditAmount":100}`)
	tampered := []byte(`{"paymentId":"pi-1","creditAmount":999}`)

	r := httptest.NewRequest("POST", "/credit/complete-purchase", nil)
	r.Header.Set(payment.SignatureHeader, v.Sign(body))

	assert.ErrorIs(t, v.Verify(r, tampered), payment.ErrBadSignature)
}
