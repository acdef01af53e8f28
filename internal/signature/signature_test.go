package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowpay/ledger-backend/internal/models"
)

func stripeHeader(t *testing.T, body []byte, secret string, ts time.Time) string {
	t.Helper()
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s", ts.Unix(), body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(h.Sum(nil)))
}

func paystackHeader(body []byte, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func flutterwaveHeader(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func TestVerifyStripe(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	now := time.Now()

	t.Run("valid signature", func(t *testing.T) {
		header := stripeHeader(t, body, secret, now)
		assert.NoError(t, VerifyStripe(body, header, secret, 5*time.Minute, now))
	})

	t.Run("missing header", func(t *testing.T) {
		err := VerifyStripe(body, "", secret, 5*time.Minute, now)
		assert.ErrorIs(t, err, ErrMissingSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		err := VerifyStripe(body, "garbage", secret, 5*time.Minute, now)
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := stripeHeader(t, body, "whsec_other", now)
		err := VerifyStripe(body, header, secret, 5*time.Minute, now)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("timestamp outside tolerance", func(t *testing.T) {
		stale := now.Add(-10 * time.Minute)
		header := stripeHeader(t, body, secret, stale)
		err := VerifyStripe(body, header, secret, 5*time.Minute, now)
		assert.ErrorIs(t, err, ErrTimestampOutside)
	})

	t.Run("zero tolerance disables timestamp check", func(t *testing.T) {
		stale := now.Add(-24 * time.Hour)
		header := stripeHeader(t, body, secret, stale)
		assert.NoError(t, VerifyStripe(body, header, secret, 0, now))
	})

	t.Run("single byte mutation invalidates", func(t *testing.T) {
		header := stripeHeader(t, body, secret, now)
		for i := range body {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 0x01
			err := VerifyStripe(mutated, header, secret, 5*time.Minute, now)
			assert.ErrorIs(t, err, ErrInvalidSignature, "mutation at byte %d must invalidate", i)
		}
	})

	t.Run("second v1 candidate accepted", func(t *testing.T) {
		header := stripeHeader(t, body, secret, now)
		combined := fmt.Sprintf("%s,v1=%s", header[:len(header)], hex.EncodeToString([]byte("bogus")))
		assert.NoError(t, VerifyStripe(body, combined, secret, 5*time.Minute, now))
	})
}

func TestVerifyPaystack(t *testing.T) {
	secret := "sk_test_secret"
	body := []byte(`{"event":"charge.success","data":{"id":1,"reference":"REF_1"}}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, VerifyPaystack(body, paystackHeader(body, secret), secret))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, VerifyPaystack(body, "", secret), ErrMissingSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := paystackHeader(body, "sk_test_other")
		assert.ErrorIs(t, VerifyPaystack(body, header, secret), ErrInvalidSignature)
	})

	t.Run("single byte mutation invalidates", func(t *testing.T) {
		header := paystackHeader(body, secret)
		mutated := append([]byte(nil), body...)
		mutated[0] ^= 0x01
		assert.ErrorIs(t, VerifyPaystack(mutated, header, secret), ErrInvalidSignature)
	})

	t.Run("uppercase hex header accepted", func(t *testing.T) {
		header := paystackHeader(body, secret)
		upper := ""
		for _, c := range header {
			if c >= 'a' && c <= 'f' {
				upper += string(c - 32)
			} else {
				upper += string(c)
			}
		}
		assert.NoError(t, VerifyPaystack(body, upper, secret))
	})
}

func TestVerifyFlutterwave(t *testing.T) {
	secret := "flw_test_hash"
	body := []byte(`{"event":"charge.completed","data":{"id":42,"tx_ref":"TX_42"}}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, VerifyFlutterwave(body, flutterwaveHeader(body, secret), secret))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, VerifyFlutterwave(body, "", secret), ErrMissingSignature)
	})

	t.Run("mismatch", func(t *testing.T) {
		assert.ErrorIs(t, VerifyFlutterwave(body, "deadbeef", secret), ErrInvalidSignature)
	})
}

func TestVerifierDispatch(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"id":9}}`)
	v := NewVerifier("stripe_sec", "paystack_sec", "flw_sec", 0)

	t.Run("routes to paystack scheme", func(t *testing.T) {
		assert.NoError(t, v.Verify(models.ProviderPaystack, body, paystackHeader(body, "paystack_sec")))
		assert.Error(t, v.Verify(models.ProviderPaystack, body, paystackHeader(body, "wrong")))
	})

	t.Run("routes to flutterwave scheme", func(t *testing.T) {
		assert.NoError(t, v.Verify(models.ProviderFlutterwave, body, flutterwaveHeader(body, "flw_sec")))
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		assert.Error(t, v.Verify(models.Provider("square"), body, "sig"))
	})
}

func TestHeaderNames(t *testing.T) {
	assert.Equal(t, "Stripe-Signature", Header(models.ProviderStripe))
	assert.Equal(t, "X-Paystack-Signature", Header(models.ProviderPaystack))
	assert.Equal(t, "Verif-Hash", Header(models.ProviderFlutterwave))
}
