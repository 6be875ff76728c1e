package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// HeaderPrefix is the scheme prefix of the sha256=<hex> header convention
const HeaderPrefix = "sha256="

// SignHex computes the sha256=<hex> signature header for a body.
// This is the simple header convention used at the receiver boundary and on
// outbound dispatch webhooks; the Validator's profiles cover the richer schemes.
func SignHex(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return HeaderPrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex verifies a sha256=<hex> header against the body using
// constant-time comparison
func VerifyHex(secret, body []byte, header string) (bool, error) {
	if !strings.HasPrefix(header, HeaderPrefix) {
		return false, fmt.Errorf("signature header must start with %s", HeaderPrefix)
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(header, HeaderPrefix))
	if err != nil {
		return false, fmt.Errorf("decoding signature hex: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	calculated := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, calculated) == 1, nil
}
