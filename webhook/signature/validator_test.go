package signature_test

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einvoiceng/firshook/webhook"
	"github.com/einvoiceng/firshook/webhook/signature"
)

const testSecret = "whsec-test-secret-key"

func hmacHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newValidator(t *testing.T, profile signature.Profile) *signature.Validator {
	t.Helper()
	v := signature.NewValidator(nil, zerolog.Nop())
	require.NoError(t, v.Configure(profile))
	return v
}

func hmacProfile(name string) signature.Profile {
	return signature.Profile{
		Name:        name,
		Algorithm:   signature.HMACSHA256,
		SecretKey:   testSecret,
		Tolerance:   300 * time.Second,
		MaxBodySize: 1 << 20,
	}
}

func TestValidateSignature_HMAC(t *testing.T) {
	ctx := context.Background()

	t.Run("valid signature", func(t *testing.T) {
		v := newValidator(t, hmacProfile("firs_webhook"))
		payload := []byte(`{"event":"submission.status"}`)

		report := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), nil, "1.2.3.4")

		assert.Equal(t, webhook.Valid, report.Result)
		assert.True(t, report.IsValid())
		assert.Equal(t, "hmac-sha256", report.AlgorithmUsed)
	})

	t.Run("tampered payload", func(t *testing.T) {
		v := newValidator(t, hmacProfile("firs_webhook"))
		sig := hmacHex(testSecret, []byte(`original`))

		report := v.ValidateSignature(ctx, "firs_webhook", []byte(`tampered`), sig, nil, "1.2.3.4")

		assert.Equal(t, webhook.Invalid, report.Result)
	})

	t.Run("unknown profile", func(t *testing.T) {
		v := newValidator(t, hmacProfile("firs_webhook"))

		report := v.ValidateSignature(ctx, "nope", []byte(`x`), "sig", nil, "1.2.3.4")

		assert.Equal(t, webhook.Invalid, report.Result)
		assert.Contains(t, report.Message, "profile not configured")
	})

	t.Run("oversized payload", func(t *testing.T) {
		profile := hmacProfile("firs_webhook")
		profile.MaxBodySize = 8
		v := newValidator(t, profile)
		payload := []byte(`{"event":"submission.status"}`)

		report := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), nil, "1.2.3.4")

		assert.Equal(t, webhook.Invalid, report.Result)
	})

	t.Run("missing signature", func(t *testing.T) {
		v := newValidator(t, hmacProfile("firs_webhook"))

		report := v.ValidateSignature(ctx, "firs_webhook", []byte(`x`), "", nil, "1.2.3.4")

		assert.Equal(t, webhook.Invalid, report.Result)
	})

	t.Run("undecodable signature is malformed", func(t *testing.T) {
		v := newValidator(t, hmacProfile("firs_webhook"))

		report := v.ValidateSignature(ctx, "firs_webhook", []byte(`x`), "!!not-encoded!!", nil, "1.2.3.4")

		assert.Equal(t, webhook.Malformed, report.Result)
	})
}

func TestValidateSignature_TimestampTolerance(t *testing.T) {
	ctx := context.Background()
	payload := []byte(`{"event":"submission.status"}`)

	profile := hmacProfile("firs_webhook")
	profile.RequireTimestamp = true

	cases := []struct {
		name string
		skew time.Duration
		want webhook.ValidationResult
	}{
		{"299s old validates", -299 * time.Second, webhook.Valid},
		{"301s old expires", -301 * time.Second, webhook.Expired},
		{"299s in the future validates", 299 * time.Second, webhook.Valid},
		{"301s in the future expires", 301 * time.Second, webhook.Expired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newValidator(t, profile)
			headers := map[string]string{
				"x-timestamp": fmt.Sprintf("%d", time.Now().Add(tc.skew).Unix()),
			}

			report := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), headers, "1.2.3.4")

			assert.Equal(t, tc.want, report.Result)
			if tc.want == webhook.Valid {
				assert.True(t, report.TimestampValid)
			}
		})
	}

	t.Run("missing timestamp header expires", func(t *testing.T) {
		v := newValidator(t, profile)

		report := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), nil, "1.2.3.4")

		assert.Equal(t, webhook.Expired, report.Result)
	})

	t.Run("accepts RFC3339 timestamps", func(t *testing.T) {
		v := newValidator(t, profile)
		headers := map[string]string{
			"x-webhook-timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		report := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), headers, "1.2.3.4")

		assert.Equal(t, webhook.Valid, report.Result)
	})
}

func TestValidateSignature_ReplayPrevention(t *testing.T) {
	ctx := context.Background()

	profile := hmacProfile("firs_webhook")
	profile.PreventReplay = true

	t.Run("second identical submission is rejected", func(t *testing.T) {
		v := newValidator(t, profile)
		payload := []byte(`{"event":"submission.status","event_id":"e1"}`)
		sig := hmacHex(testSecret, payload)
		headers := map[string]string{"x-webhook-id": "wh-1"}

		first := v.ValidateSignature(ctx, "firs_webhook", payload, sig, headers, "1.2.3.4")
		require.Equal(t, webhook.Valid, first.Result)

		second := v.ValidateSignature(ctx, "firs_webhook", payload, sig, headers, "1.2.3.4")
		assert.Equal(t, webhook.ReplayAttack, second.Result)
		assert.NotEmpty(t, second.SecurityWarnings)
	})

	t.Run("replay detected even when payload bytes differ", func(t *testing.T) {
		v := newValidator(t, profile)
		payload := []byte(`{"event":"submission.status"}`)
		sig := hmacHex(testSecret, payload)
		headers := map[string]string{"x-webhook-id": "wh-2"}

		require.Equal(t, webhook.Valid, v.ValidateSignature(ctx, "firs_webhook", payload, sig, headers, "1.2.3.4").Result)

		// Same (webhook_id, signature) pair, different body
		report := v.ValidateSignature(ctx, "firs_webhook", []byte(`{"other":true}`), sig, headers, "1.2.3.4")
		assert.Equal(t, webhook.ReplayAttack, report.Result)
	})

	t.Run("failed attempts do not poison the cache", func(t *testing.T) {
		v := newValidator(t, profile)
		payload := []byte(`{"event":"submission.status"}`)
		headers := map[string]string{"x-webhook-id": "wh-3"}

		bad := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex("wrong", payload), headers, "1.2.3.4")
		require.Equal(t, webhook.Invalid, bad.Result)

		// A later valid submission with the correct signature must pass
		good := v.ValidateSignature(ctx, "firs_webhook", payload, hmacHex(testSecret, payload), headers, "1.2.3.4")
		assert.Equal(t, webhook.Valid, good.Result)
	})
}

func TestValidateSignature_RSA(t *testing.T) {
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	profile := signature.Profile{
		Name:      "rsa_source",
		Algorithm: signature.RSASHA256,
		PublicKey: pubPEM,
	}

	t.Run("valid RSA signature", func(t *testing.T) {
		v := newValidator(t, profile)
		payload := []byte(`{"event":"invoice.approved"}`)
		digest := sha256.Sum256(payload)
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		require.NoError(t, err)

		report := v.ValidateSignature(ctx, "rsa_source", payload, hex.EncodeToString(sig), nil, "1.2.3.4")
		assert.Equal(t, webhook.Valid, report.Result)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		v := newValidator(t, profile)
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		payload := []byte(`{"event":"invoice.approved"}`)
		digest := sha256.Sum256(payload)
		sig, err := rsa.SignPKCS1v15(rand.Reader, other, crypto.SHA256, digest[:])
		require.NoError(t, err)

		report := v.ValidateSignature(ctx, "rsa_source", payload, hex.EncodeToString(sig), nil, "1.2.3.4")
		assert.Equal(t, webhook.Invalid, report.Result)
	})
}

func TestValidateSignature_JWT(t *testing.T) {
	ctx := context.Background()

	profile := signature.Profile{
		Name:      "jwt_source",
		Algorithm: signature.JWTHS256,
		SecretKey: testSecret,
	}

	t.Run("valid token", func(t *testing.T) {
		v := newValidator(t, profile)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "firs",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		report := v.ValidateSignature(ctx, "jwt_source", []byte(`{}`), signed, nil, "1.2.3.4")
		assert.Equal(t, webhook.Valid, report.Result)
	})

	t.Run("expired token is malformed", func(t *testing.T) {
		v := newValidator(t, profile)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		report := v.ValidateSignature(ctx, "jwt_source", []byte(`{}`), signed, nil, "1.2.3.4")
		assert.Equal(t, webhook.Malformed, report.Result)
	})

	t.Run("wrong secret", func(t *testing.T) {
		v := newValidator(t, profile)
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "x"})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)

		report := v.ValidateSignature(ctx, "jwt_source", []byte(`{}`), signed, nil, "1.2.3.4")
		assert.Equal(t, webhook.Malformed, report.Result)
	})
}

func TestConfigure(t *testing.T) {
	v := signature.NewValidator(nil, zerolog.Nop())

	t.Run("symmetric profile requires secret", func(t *testing.T) {
		err := v.Configure(signature.Profile{Name: "p", Algorithm: signature.HMACSHA256})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret_key is required")
	})

	t.Run("asymmetric profile requires public key", func(t *testing.T) {
		err := v.Configure(signature.Profile{Name: "p", Algorithm: signature.RSASHA256})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "public_key is required")
	})

	t.Run("empty name rejected", func(t *testing.T) {
		err := v.Configure(signature.Profile{Algorithm: signature.HMACSHA256, SecretKey: "s"})
		require.Error(t, err)
	})
}

func TestHealthCheck(t *testing.T) {
	v := newValidator(t, hmacProfile("firs_webhook"))
	payload := []byte(`{}`)

	v.ValidateSignature(context.Background(), "firs_webhook", payload, hmacHex(testSecret, payload), nil, "1.2.3.4")

	health := v.HealthCheck()
	assert.Equal(t, webhook.StatusHealthy, health.Status)
	assert.Equal(t, "signature_validator", health.Service)
	assert.Equal(t, int64(1), health.Details["accepted"])
}
