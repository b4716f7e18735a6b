package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

// TOTP implements RFC 6238 time-based one-time passwords with HMAC-SHA1.
type TOTP struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// NewTOTP returns a verifier with 6 digits and a 30 second step.
func NewTOTP(issuer string, skew int) *TOTP {
	if skew < 0 {
		skew = 0
	}
	return &TOTP{Issuer: issuer, Digits: 6, Period: 30, Skew: skew}
}

// GenerateSecret returns a fresh random secret and its base32 form for authenticator apps.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URL rendered as a QR code during enrollment.
func (t *TOTP) ProvisionURI(secretBase32, account string) string {
	label := url.PathEscape(t.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", t.Issuer)
	v.Set("period", strconv.Itoa(t.Period))
	v.Set("digits", strconv.Itoa(t.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code matches secret at now, allowing Skew steps of drift.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(secret) == 0 || len(code) != t.Digits || !isDigits(code) {
		return false
	}

	base := now.Unix() / int64(t.Period)
	for step := -t.Skew; step <= t.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter, t.Digits)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// Code returns the code valid at now. Used by tests and tooling.
func (t *TOTP) Code(secret []byte, now time.Time) string {
	return hotp(secret, now.Unix()/int64(t.Period), t.Digits)
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
