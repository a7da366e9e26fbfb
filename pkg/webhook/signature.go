package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Signature scheme: hex(HMAC-SHA256(secret, timestamp + "." + rawBody)).
// The timestamp is bound into the digest so a captured request cannot be
// replayed outside the tolerance window.

// ComputeSignature produces the expected signature for a payload. Exported
// so senders and tests can build valid requests.
func ComputeSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature compares the presented signature in constant time.
func verifySignature(secret []byte, timestamp string, body []byte, presented string) bool {
	if len(secret) == 0 || presented == "" {
		return false
	}
	expected := ComputeSignature(secret, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
