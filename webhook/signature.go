package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignaturePrefix precedes the hex digest in the signature header.
const SignaturePrefix = "sha256="

// secretPrefix marks courier-issued webhook secrets.
const secretPrefix = "whsec_"

// Sign computes the delivery signature for body: "sha256=" followed by
// the hex HMAC-SHA256 digest under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid signature for
// body under secret. The comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	digest, ok := strings.CutPrefix(signature, SignaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// NewSecret generates a fresh "whsec_"-prefixed signing secret.
func NewSecret() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken.
		panic(fmt.Sprintf("webhook: read random secret: %v", err))
	}
	return secretPrefix + hex.EncodeToString(buf)
}
