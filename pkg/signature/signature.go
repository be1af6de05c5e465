// Package signature verifies payment gateway signatures. Checkout callbacks and
// webhook deliveries are signed with different secrets over different inputs,
// so each has its own verifier type and neither accepts the other's input.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned for every verification failure, including
// malformed or truncated signatures.
var ErrSignatureMismatch = errors.New("signature mismatch")

// CheckoutVerifier checks the signature the gateway hands the buyer's browser
// after checkout: hex(HMAC-SHA256(keySecret, orderID + "|" + paymentID)).
type CheckoutVerifier struct {
	secret []byte
}

func NewCheckoutVerifier(keySecret string) (*CheckoutVerifier, error) {
	if strings.TrimSpace(keySecret) == "" {
		return nil, errors.New("checkout key secret is required")
	}
	return &CheckoutVerifier{secret: []byte(keySecret)}, nil
}

func (v *CheckoutVerifier) Verify(orderID, paymentID, signature string) error {
	if orderID == "" || paymentID == "" {
		return ErrSignatureMismatch
	}
	return compare(v.Sign(orderID, paymentID), signature)
}

// Sign computes the expected checkout signature. Exposed for tests and fixtures.
func (v *CheckoutVerifier) Sign(orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}

// WebhookVerifier checks X-Razorpay-Signature: hex(HMAC-SHA256(webhookSecret, rawBody)).
// The body must be the bytes read off the wire, never a re-encoding.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(webhookSecret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	return &WebhookVerifier{secret: []byte(webhookSecret)}, nil
}

func (v *WebhookVerifier) Verify(rawBody []byte, signature string) error {
	if len(rawBody) == 0 {
		return ErrSignatureMismatch
	}
	return compare(v.Sign(rawBody), signature)
}

func (v *WebhookVerifier) Sign(rawBody []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	return mac.Sum(nil)
}

func compare(expected []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if len(provided) != hex.EncodedLen(len(expected)) {
		return ErrSignatureMismatch
	}
	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(expected, decoded) {
		return ErrSignatureMismatch
	}
	return nil
}
