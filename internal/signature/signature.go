package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowpay/ledger-backend/internal/models"
)

// Verification failures. The HTTP layer maps all of them to 400; none of
// them leave a persisted event behind.
var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrMalformedHeader  = errors.New("malformed signature header")
	ErrTimestampOutside = errors.New("signature timestamp outside tolerance")
)

// Verifier validates the authenticity of a raw webhook body against the
// provider's signature header.
type Verifier struct {
	stripeSecret      string
	paystackSecret    string
	flutterwaveSecret string
	stripeTolerance   time.Duration
	now               func() time.Time
}

func NewVerifier(stripeSecret, paystackSecret, flutterwaveSecret string, stripeTolerance time.Duration) *Verifier {
	return &Verifier{
		stripeSecret:      stripeSecret,
		paystackSecret:    paystackSecret,
		flutterwaveSecret: flutterwaveSecret,
		stripeTolerance:   stripeTolerance,
		now:               time.Now,
	}
}

// Verify checks body against header using the provider's scheme. A nil
// return means the payload is authentic.
func (v *Verifier) Verify(provider models.Provider, body []byte, header string) error {
	switch provider {
	case models.ProviderStripe:
		return VerifyStripe(body, header, v.stripeSecret, v.stripeTolerance, v.now())
	case models.ProviderPaystack:
		return VerifyPaystack(body, header, v.paystackSecret)
	case models.ProviderFlutterwave:
		return VerifyFlutterwave(body, header, v.flutterwaveSecret)
	}
	return fmt.Errorf("unsupported provider %q", provider)
}

// Header returns the request header name carrying the provider's signature.
func Header(provider models.Provider) string {
	switch provider {
	case models.ProviderStripe:
		return "Stripe-Signature"
	case models.ProviderPaystack:
		return "X-Paystack-Signature"
	case models.ProviderFlutterwave:
		return "Verif-Hash"
	}
	return ""
}

// VerifyStripe validates Stripe's signed-timestamp scheme: the header is a
// comma-separated list of k=v pairs and v1 is hex HMAC-SHA256 over
// "<timestamp>.<body>". A tolerance of zero disables the timestamp check.
func VerifyStripe(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp int64 = -1
	var candidates []string
	for _, pair := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return ErrMalformedHeader
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return ErrMalformedHeader
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, val)
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return ErrMalformedHeader
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrTimestampOutside
		}
	}

	signed := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(signed))
	expected := h.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// VerifyPaystack validates the x-paystack-signature header: hex
// HMAC-SHA512 of the raw body.
func VerifyPaystack(body []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}

	h := hmac.New(sha512.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(header))) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyFlutterwave validates the verif-hash header: hex HMAC-SHA256 of
// the raw body. The scheme is weaker than the other providers' but a
// failure is rejected the same way.
func VerifyFlutterwave(body []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(header))) {
		return ErrInvalidSignature
	}
	return nil
}
