package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"huddle/internal/domain"
)

const fingerprintLabel = "huddle identity fingerprint v1"

// B64 encodes event content payloads.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes the output of B64.
func FromB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// Fingerprint is the first 10 bytes of a labelled SHA-256 over an identity
// key, in hex.
func Fingerprint(pub []byte) domain.Fingerprint {
	h := sha256.New()
	h.Write([]byte(fingerprintLabel))
	h.Write(pub)
	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil)[:10]))
}
