package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// HostnameHash returns the hex SHA-256 of the host name. The raw name is
// never stored.
func HostnameHash() (string, bool) {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "", false
	}
	return HashIdentifier(h), true
}

func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
