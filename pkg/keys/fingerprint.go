package keys

import (
	"crypto/md5" //nolint:gosec // the API identifies keys by MD5 fingerprint
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint returns the key ID the API uses for an RSA public key: the MD5
// digest of its PKIX DER encoding as colon separated lower-case hex pairs,
// e.g. "39:bc:93:43:...".
func Fingerprint(key *rsa.PublicKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("RSA public key cannot be nil")
	}

	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	sum := md5.Sum(der) //nolint:gosec
	encoded := hex.EncodeToString(sum[:])

	pairs := make([]string, 0, len(sum))
	for i := 0; i < len(encoded); i += 2 {
		pairs = append(pairs, encoded[i:i+2])
	}

	return strings.Join(pairs, ":"), nil
}

// NormalizeFingerprint lower-cases a fingerprint so lookups are case insensitive.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.TrimSpace(fp))
}
