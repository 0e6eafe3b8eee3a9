package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// KioskToken derives the shared secret a kiosk presents for its lane:
// hex(HMAC-SHA256(secret, laneID)). A token for one lane is useless on
// another.
func KioskToken(secret, laneID string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(laneID))
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyKioskToken compares a presented token in constant time.
func VerifyKioskToken(secret, laneID, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	return hmac.Equal([]byte(KioskToken(secret, laneID)), []byte(presented))
}
