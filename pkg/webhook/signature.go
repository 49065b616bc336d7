package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// verifySignature checks a Meta X-Hub-Signature-256 header against body.
func verifySignature(body []byte, header string, secret string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := computeSignature(body, secret)
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

// computeSignature returns the header value Meta would send for body.
func computeSignature(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}
