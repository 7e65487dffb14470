// Package security verifies ingestion signatures and query tokens.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrExpired      = errors.New("request expired")
)

// Signature headers, in lookup order.
const (
	SignatureHeader    = "X-Postpipe-Signature"
	AltSignatureHeader = "X-Signature"
)

// DefaultSkew is the allowed distance between a payload timestamp and now.
const DefaultSkew = 5 * time.Minute

// Signer computes and checks HMAC-SHA256 signatures of raw request bodies.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer keyed by the connector secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex signature of body.
func (s *Signer) Sign(body []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against the exact bytes of body. The signature is
// hex in either case, optionally prefixed with "sha256=".
func (s *Signer) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	if !hmac.Equal(got, h.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// SignatureFromHeader returns the signature carried by h.
func SignatureFromHeader(h http.Header) string {
	if sig := h.Get(SignatureHeader); sig != "" {
		return sig
	}
	return h.Get(AltSignatureHeader)
}

// CheckFreshness rejects timestamps further than skew from now in either
// direction.
func CheckFreshness(ts, now time.Time, skew time.Duration) error {
	if skew <= 0 {
		skew = DefaultSkew
	}
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	if d > skew {
		return ErrExpired
	}
	return nil
}
