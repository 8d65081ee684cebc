package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix    = "sha256="
	minSignatureLength = len(SignaturePrefix) + 1
)

// Sign returns the prefixed signature for a delivery.
func Sign(secret string, messageID string, timestamp string, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(digest(secret, messageID, timestamp, body))
}

// Verify reports whether claimed is the HMAC-SHA256 of
// messageID||timestamp||body under secret. Malformed input yields false.
func Verify(secret string, messageID string, timestamp string, body []byte, claimed string) bool {
	if secret == "" || !strings.HasPrefix(claimed, SignaturePrefix) {
		return false
	}
	expected := hex.EncodeToString(digest(secret, messageID, timestamp, body))
	actual := strings.TrimPrefix(claimed, SignaturePrefix)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}

func digest(secret string, messageID string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(messageID))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
