package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

var (
	fingerprintKey     []byte
	fingerprintKeyOnce sync.Once
)

func getFingerprintKey() []byte {
	fingerprintKeyOnce.Do(func() {
		fingerprintKey = make([]byte, 32)
		if _, err := rand.Read(fingerprintKey); err != nil {
			panic("failed to generate fingerprint key: " + err.Error())
		}
	})
	return fingerprintKey
}

// Fingerprint identifies p in logs and events without revealing it. The HMAC
// key is random per process.
func Fingerprint(p Passphrase) string {
	mac := hmac.New(sha256.New, getFingerprintKey())
	mac.Write([]byte(p))
	return hex.EncodeToString(mac.Sum(nil))[:12]
}

func subtleConstantTimeCompare(a, b string) int {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b))
}
