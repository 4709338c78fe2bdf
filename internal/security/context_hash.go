package security

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ContextHash returns a short BLAKE2b-256 digest of the client fingerprint (IP and user agent).
// Security events carry it instead of the raw values; the analyzer counts distinct hashes.
// Returns "" when both parts are empty so anonymous contexts do not count as distinct.
func ContextHash(ip, userAgent string) string {
	ip = strings.TrimSpace(ip)
	userAgent = strings.TrimSpace(userAgent)
	if ip == "" && userAgent == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(ip + "\x00" + userAgent))
	return hex.EncodeToString(sum[:8])
}
