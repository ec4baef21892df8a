package qingping

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks an inbound webhook's HMAC-SHA256 signature:
// hex(HMAC-SHA256(timestamp || token, secret)). This is the sole
// authentication gate for push ingestion, so it fails closed whenever
// the secret or signature is missing.
func VerifySignature(timestamp, token, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
