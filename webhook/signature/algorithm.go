package signature

import "fmt"

/* Algorithm identifies the signing scheme configured for a profile
 * Each algorithm is backed by a Verifier registered with the Validator
 */
type Algorithm int

const (
	HMACSHA256 Algorithm = iota + 1
	HMACSHA512
	RSASHA256
	RSASHA512
	JWTHS256
	JWTRS256
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case HMACSHA256:
		return "hmac-sha256"
	case HMACSHA512:
		return "hmac-sha512"
	case RSASHA256:
		return "rsa-sha256"
	case RSASHA512:
		return "rsa-sha512"
	case JWTHS256:
		return "jwt-hs256"
	case JWTRS256:
		return "jwt-rs256"
	default:
		return "unknown"
	}
}

// NewAlgorithm creates an Algorithm from a string
func NewAlgorithm(s string) Algorithm {
	switch s {
	case "hmac-sha256":
		return HMACSHA256
	case "hmac-sha512":
		return HMACSHA512
	case "rsa-sha256":
		return RSASHA256
	case "rsa-sha512":
		return RSASHA512
	case "jwt-hs256":
		return JWTHS256
	case "jwt-rs256":
		return JWTRS256
	default:
		return HMACSHA256 // default to hmac-sha256 for safety
	}
}

// Validate checks if the algorithm is valid
func (a Algorithm) Validate() error {
	if a < HMACSHA256 || a > JWTRS256 {
		return fmt.Errorf("invalid algorithm: %d", a)
	}
	return nil
}

// Symmetric reports whether the algorithm signs with a shared secret
func (a Algorithm) Symmetric() bool {
	return a == HMACSHA256 || a == HMACSHA512 || a == JWTHS256
}
