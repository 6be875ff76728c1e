package signature

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"hash"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

/* Verifier abstracts one signing scheme
 * Verifiers are tried in registration order; the first one whose CanHandle
 * returns true for the profile's algorithm performs the check
 */
type Verifier interface {
	CanHandle(a Algorithm) bool
	Verify(payload []byte, sig string, profile Profile) (Verification, error)
}

// Verification is the outcome of one cryptographic check
type Verification struct {
	Valid bool

	// Claims is populated by the JWT verifier only
	Claims map[string]any
}

/* HMACVerifier verifies HMAC-SHA256 and HMAC-SHA512 signatures
 * Signatures are accepted hex- or base64-encoded; comparison is constant-time
 */
type HMACVerifier struct{}

// CanHandle reports whether the algorithm is an HMAC variant
func (v HMACVerifier) CanHandle(a Algorithm) bool {
	return a == HMACSHA256 || a == HMACSHA512
}

// Verify computes the HMAC of the payload and compares it against the signature
func (v HMACVerifier) Verify(payload []byte, sig string, profile Profile) (Verification, error) {
	var newHash func() hash.Hash
	switch profile.Algorithm {
	case HMACSHA256:
		newHash = sha256.New
	case HMACSHA512:
		newHash = sha512.New
	default:
		return Verification{}, fmt.Errorf("unsupported hmac algorithm: %s", profile.Algorithm)
	}

	expected, err := decodeSignature(sig)
	if err != nil {
		return Verification{}, fmt.Errorf("decoding signature: %w", err)
	}

	mac := hmac.New(newHash, []byte(profile.SecretKey))
	mac.Write(payload)
	calculated := mac.Sum(nil)

	// Constant-time comparison to prevent timing attacks
	return Verification{Valid: subtle.ConstantTimeCompare(expected, calculated) == 1}, nil
}

/* RSAVerifier verifies RSA-SHA256 and RSA-SHA512 signatures against the
 * profile's PEM-encoded public key
 */
type RSAVerifier struct{}

// CanHandle reports whether the algorithm is an RSA variant
func (v RSAVerifier) CanHandle(a Algorithm) bool {
	return a == RSASHA256 || a == RSASHA512
}

// Verify checks a PKCS#1 v1.5 signature over the payload digest
func (v RSAVerifier) Verify(payload []byte, sig string, profile Profile) (Verification, error) {
	pub, err := parseRSAPublicKey(profile.PublicKey)
	if err != nil {
		return Verification{}, err
	}

	raw, err := decodeSignature(sig)
	if err != nil {
		return Verification{}, fmt.Errorf("decoding signature: %w", err)
	}

	var hashed []byte
	var algo crypto.Hash
	switch profile.Algorithm {
	case RSASHA256:
		sum := sha256.Sum256(payload)
		hashed, algo = sum[:], crypto.SHA256
	case RSASHA512:
		sum := sha512.Sum512(payload)
		hashed, algo = sum[:], crypto.SHA512
	default:
		return Verification{}, fmt.Errorf("unsupported rsa algorithm: %s", profile.Algorithm)
	}

	if err := rsa.VerifyPKCS1v15(pub, algo, hashed, raw); err != nil {
		return Verification{Valid: false}, nil
	}
	return Verification{Valid: true}, nil
}

/* JWTVerifier verifies JWT-HS256 and JWT-RS256 signatures
 * The signature value is the compact token itself; decoded claims are
 * returned so the caller can surface them in the validation report
 */
type JWTVerifier struct{}

// CanHandle reports whether the algorithm is a JWT variant
func (v JWTVerifier) CanHandle(a Algorithm) bool {
	return a == JWTHS256 || a == JWTRS256
}

// Verify parses and validates the token, returning its claims when valid
func (v JWTVerifier) Verify(payload []byte, sig string, profile Profile) (Verification, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(sig, claims, func(token *jwt.Token) (any, error) {
		switch profile.Algorithm {
		case JWTHS256:
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(profile.SecretKey), nil
		case JWTRS256:
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return parseRSAPublicKey(profile.PublicKey)
		default:
			return nil, fmt.Errorf("unsupported jwt algorithm: %s", profile.Algorithm)
		}
	})
	if err != nil {
		return Verification{Valid: false}, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return Verification{Valid: false}, nil
	}

	return Verification{Valid: true, Claims: map[string]any(claims)}, nil
}

// decodeSignature accepts hex or standard base64 encoded signature bytes,
// tolerating a sha256=/sha512= scheme prefix
func decodeSignature(sig string) ([]byte, error) {
	if strings.HasPrefix(sig, "sha") {
		if i := strings.IndexByte(sig, '='); i > 0 {
			sig = sig[i+1:]
		}
	}
	if raw, err := hex.DecodeString(sig); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("signature is neither hex nor base64")
	}
	return raw, nil
}

func parseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("public key is not valid PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Fall back to PKCS#1 keys
		if rsaPub, errPKCS1 := x509.ParsePKCS1PublicKey(block.Bytes); errPKCS1 == nil {
			return rsaPub, nil
		}
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}
